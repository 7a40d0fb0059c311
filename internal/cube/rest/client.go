// Package rest implements domain.CubeHandle against the cube server's HTTP API.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"cubeopt/internal/domain"
)

// Compile-time checks.
var (
	_ domain.CubeHandle        = (*Client)(nil)
	_ domain.DimensionProfiler = (*Client)(nil)
	_ domain.CubeLister        = (*Client)(nil)
)

// APIError is a non-404 error response from the cube server.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cube server returned status %d", e.Status)
	}
	return fmt.Sprintf("cube server returned status %d: %s", e.Status, e.Message)
}

// Client talks to one cube server. It is safe for concurrent use, although a
// run only ever issues one call at a time.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for baseURL. timeout bounds each request,
// including the view and process executions being measured, so it must
// exceed the slowest expected workload.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		logger: logger,
	}
}

// ListCubes implements domain.CubeLister.
func (c *Client) ListCubes(ctx context.Context) ([]string, error) {
	var body struct {
		Data []string `json:"data"`
	}
	if err := c.do(ctx, "list cubes", http.MethodGet, "/v1/cubes", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ViewExists implements domain.CubeLister.
func (c *Client) ViewExists(ctx context.Context, cube, view string) (bool, error) {
	err := c.do(ctx, "get view", http.MethodGet, cubePath(cube, "views", view), nil, nil)
	var nf *domain.NotFoundError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &nf):
		return false, nil
	default:
		return false, err
	}
}

// ListDimensions implements domain.CubeHandle.
func (c *Client) ListDimensions(ctx context.Context, cube string) ([]domain.Dimension, error) {
	var body struct {
		Data []struct {
			Name        string `json:"name"`
			Position    int    `json:"position"`
			Cardinality int64  `json:"cardinality"`
		} `json:"data"`
	}
	if err := c.do(ctx, "list dimensions", http.MethodGet, cubePath(cube, "dimensions"), nil, &body); err != nil {
		return nil, err
	}
	dims := make([]domain.Dimension, len(body.Data))
	for i, d := range body.Data {
		dims[i] = domain.Dimension{Name: d.Name, Position: d.Position, Cardinality: d.Cardinality}
	}
	return dims, nil
}

// SetDimensionOrder implements domain.CubeHandle.
func (c *Client) SetDimensionOrder(ctx context.Context, cube string, ordering domain.Ordering) error {
	req := map[string][]string{"dimensions": ordering}
	return c.do(ctx, "set dimension order", http.MethodPut, cubePath(cube, "dimension-order"), req, nil)
}

// ExecuteView implements domain.CubeHandle. Elapsed is the client-side wall
// time of the call, which is what a user of the view experiences.
func (c *Client) ExecuteView(ctx context.Context, cube, view string) (domain.ViewResult, error) {
	var body struct {
		Cells     int64   `json:"cells"`
		ElapsedMs float64 `json:"elapsed_ms"`
	}
	start := time.Now()
	if err := c.do(ctx, "execute view", http.MethodPost, cubePath(cube, "views", view, "execute"), nil, &body); err != nil {
		return domain.ViewResult{}, err
	}
	elapsed := time.Since(start)
	c.logger.Debug("view executed", "cube", cube, "view", view, "cells", body.Cells,
		"elapsed", elapsed, "server_elapsed_ms", body.ElapsedMs)
	return domain.ViewResult{Cells: body.Cells, Elapsed: elapsed}, nil
}

// MemoryUsage implements domain.CubeHandle.
func (c *Client) MemoryUsage(ctx context.Context, cube string) (int64, error) {
	var body struct {
		Bytes int64 `json:"bytes"`
	}
	if err := c.do(ctx, "read memory usage", http.MethodGet, cubePath(cube, "memory"), nil, &body); err != nil {
		return 0, err
	}
	return body.Bytes, nil
}

// RunProcess implements domain.CubeHandle.
func (c *Client) RunProcess(ctx context.Context, process string) (time.Duration, error) {
	start := time.Now()
	path := "/v1/processes/" + url.PathEscape(process) + "/execute"
	if err := c.do(ctx, "run process", http.MethodPost, path, nil, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// ProfileDimension implements domain.DimensionProfiler.
func (c *Client) ProfileDimension(ctx context.Context, cube, dimension string, defaultMembers map[string]string) (domain.DimensionProfile, error) {
	req := map[string]map[string]string{"default_members": defaultMembers}
	var body struct {
		Cardinality int64 `json:"cardinality"`
		Populated   int64 `json:"populated"`
	}
	if err := c.do(ctx, "profile dimension", http.MethodPost, cubePath(cube, "dimensions", dimension, "profile"), req, &body); err != nil {
		return domain.DimensionProfile{}, err
	}
	return domain.DimensionProfile{Dimension: dimension, Cardinality: body.Cardinality, Populated: body.Populated}, nil
}

func cubePath(cube string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/v1/cubes/")
	b.WriteString(url.PathEscape(cube))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// do sends one request. A failure to reach the server becomes a
// *domain.ConnectivityError; a request that times out or fails after the
// server accepted it stays a plain error, so the caller can treat it as a
// per-candidate failure. 404 becomes a *domain.NotFoundError and other error
// statuses an *APIError. out may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if unreachable(err) {
			return &domain.ConnectivityError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// unreachable reports whether err means the server could not be reached or
// dropped the connection. Timeouts are not included: a slow view under one
// ordering says nothing about the server's health.
func unreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	if resp.StatusCode == http.StatusNotFound {
		if msg == "" {
			msg = "not found"
		}
		return domain.ErrNotFound("%s", msg)
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error.Code, Message: msg}
}
