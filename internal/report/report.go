// Package report renders a finalized result set to files: CSV, JSON, an HTML
// page and a Prometheus textfile. Sinks are written in parallel and the
// finished files can be archived to object storage.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cubeopt/internal/domain"
	"cubeopt/internal/results"
)

// Format is an output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatProm Format = "prom"
)

// AllFormats lists every supported format.
var AllFormats = []Format{FormatCSV, FormatJSON, FormatHTML, FormatProm}

// ParseFormats parses a comma separated list such as "csv,html".
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := map[Format]bool{}
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" {
			continue
		}
		switch f {
		case FormatCSV, FormatJSON, FormatHTML, FormatProm:
		default:
			return nil, domain.ErrConfiguration("unknown report format %q: use csv, json, html or prom", f)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Render writes set in format f to w.
func Render(w io.Writer, f Format, set *results.ResultSet) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, set)
	case FormatJSON:
		return WriteJSON(w, set)
	case FormatHTML:
		return WriteHTML(w, set)
	case FormatProm:
		return WriteMetrics(w, set)
	default:
		return domain.ErrConfiguration("unknown report format %q", f)
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// BaseName is the file name stem for a run: cube_view_timestamp.
func BaseName(set *results.ResultSet, at time.Time) string {
	view := set.View
	if view == "" {
		view = "process"
	}
	name := fmt.Sprintf("%s_%s_%s", set.Cube, view, at.Format("2006-01-02_15-04-05"))
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// Writer writes report files into a directory and optionally archives them.
type Writer struct {
	Dir      string
	Formats  []Format
	Archiver domain.Archiver // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

// Write renders every format of set concurrently and returns the written
// paths in format order. With an Archiver configured every file is uploaded
// under prefix/<file name> once all files exist.
func (w *Writer) Write(ctx context.Context, set *results.ResultSet, prefix string) ([]string, error) {
	if !set.Finalized() {
		return nil, fmt.Errorf("report for cube %q: result set is not finalized", set.Cube)
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	base := BaseName(set, now())

	paths := make([]string, len(w.Formats))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range w.Formats {
		path := filepath.Join(w.Dir, base+"."+string(f))
		paths[i] = path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return writeFile(path, f, set)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if w.Logger != nil {
		w.Logger.Info("reports written", "cube", set.Cube, "files", len(paths), "dir", w.Dir)
	}

	if w.Archiver == nil {
		return paths, nil
	}
	g, gctx = errgroup.WithContext(ctx)
	for _, path := range paths {
		g.Go(func() error {
			return upload(gctx, w.Archiver, prefix, path)
		})
	}
	if err := g.Wait(); err != nil {
		return paths, err
	}
	if w.Logger != nil {
		w.Logger.Info("reports archived", "cube", set.Cube, "location", w.Archiver.Location())
	}
	return paths, nil
}

func writeFile(path string, f Format, set *results.ResultSet) (err error) {
	if f == FormatProm {
		if err := WriteTextfile(path, set); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := Render(file, f, set); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func upload(ctx context.Context, a domain.Archiver, prefix, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck

	key := filepath.Base(path)
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	if err := a.Upload(ctx, key, file); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}
