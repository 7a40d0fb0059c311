// Package cubeserver serves the cube server HTTP API on top of any cube
// backend, so the optimiser can be exercised without a production server.
package cubeserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cubeopt/internal/domain"
	"cubeopt/internal/middleware"
)

// Backend is what the server needs from a cube implementation.
// Implemented by duckcube.Cube.
type Backend interface {
	domain.CubeHandle
	domain.CubeLister
	domain.DimensionProfiler
}

// Options tunes the server.
type Options struct {
	APIKey         string   // required X-API-Key value; empty disables the check
	AllowedOrigins []string // CORS origins; empty allows none
	// StatsWarmup is how many memory reads after a reorder report 0, the way
	// a server's statistics lag behind a restructure.
	StatsWarmup int
}

// Server translates HTTP requests into Backend calls.
type Server struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	warmup map[string]int // cube -> memory reads still reporting 0
}

// New creates a Server.
func New(backend Backend, opts Options, logger *slog.Logger) *Server {
	return &Server{
		backend: backend,
		opts:    opts,
		logger:  logger,
		warmup:  make(map[string]int),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(s.opts.APIKey))
		r.Get("/cubes", s.listCubes)
		r.Route("/cubes/{cube}", func(r chi.Router) {
			r.Get("/dimensions", s.listDimensions)
			r.Put("/dimension-order", s.setDimensionOrder)
			r.Post("/dimensions/{dimension}/profile", s.profileDimension)
			r.Get("/views/{view}", s.getView)
			r.Post("/views/{view}/execute", s.executeView)
			r.Get("/memory", s.memoryUsage)
		})
		r.Post("/processes/{process}/execute", s.runProcess)
	})
	return r
}

func (s *Server) listCubes(w http.ResponseWriter, r *http.Request) {
	cubes, err := s.backend.ListCubes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cubes == nil {
		cubes = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cubes})
}

type dimensionJSON struct {
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Cardinality int64  `json:"cardinality"`
}

func (s *Server) listDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := s.backend.ListDimensions(r.Context(), param(r, "cube"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]dimensionJSON, len(dims))
	for i, d := range dims {
		out[i] = dimensionJSON{Name: d.Name, Position: d.Position, Cardinality: d.Cardinality}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) setDimensionOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dimensions []string `json:"dimensions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Dimensions) == 0 {
		writeErrorStatus(w, http.StatusBadRequest, "dimensions are required")
		return
	}
	cube := param(r, "cube")
	if err := s.backend.SetDimensionOrder(r.Context(), cube, req.Dimensions); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.opts.StatsWarmup > 0 {
		s.mu.Lock()
		s.warmup[cube] = s.opts.StatsWarmup
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) profileDimension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DefaultMembers map[string]string `json:"default_members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := s.backend.ProfileDimension(r.Context(), param(r, "cube"), param(r, "dimension"), req.DefaultMembers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cardinality": p.Cardinality, "populated": p.Populated})
}

func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	cube, view := param(r, "cube"), param(r, "view")
	ok, err := s.backend.ViewExists(r.Context(), cube, view)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, domain.ErrNotFound("view %q not found in cube %q", view, cube))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cube": cube, "name": view})
}

func (s *Server) executeView(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.ExecuteView(r.Context(), param(r, "cube"), param(r, "view"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cells": res.Cells, "elapsed_ms": millis(res.Elapsed.Seconds())})
}

func (s *Server) memoryUsage(w http.ResponseWriter, r *http.Request) {
	cube := param(r, "cube")
	n, err := s.backend.MemoryUsage(r.Context(), cube)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.mu.Lock()
	if s.warmup[cube] > 0 {
		s.warmup[cube]--
		n = 0
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int64{"bytes": n})
}

func (s *Server) runProcess(w http.ResponseWriter, r *http.Request) {
	d, err := s.backend.RunProcess(r.Context(), param(r, "process"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"elapsed_ms": millis(d.Seconds())})
}

// param returns a decoded path parameter. chi routes on the raw path when a
// segment holds an escaped slash, leaving the parameter escaped.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func millis(seconds float64) float64 {
	return seconds * 1000
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		nf  *domain.NotFoundError
		cfg *domain.ConfigurationError
		inv *domain.InvalidOrderingError
	)
	switch {
	case errors.As(err, &nf):
		writeErrorStatus(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cfg), errors.As(err, &inv):
		writeErrorStatus(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
		writeErrorStatus(w, http.StatusInternalServerError, err.Error())
	}
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
