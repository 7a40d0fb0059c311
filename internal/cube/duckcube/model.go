package duckcube

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cubeopt/internal/domain"
)

// CubeDef describes a synthetic cube to generate.
type CubeDef struct {
	Name       string
	Dimensions []DimensionDef
	Cells      int64   // number of fact rows
	Seed       float64 // random seed in [-1, 1]; the same seed gives the same data
}

// DimensionDef describes one generated dimension. Members are named
// "<dimension>_<n>" for n in [0, Members). Skew above 1 concentrates the data
// on low-numbered members, which makes sort order matter.
type DimensionDef struct {
	Name    string
	Members int
	Skew    float64
}

// ViewDef is a stored view: the dimensions on its rows and fixed members for
// any filtered dimension. The view sums cell values grouped by Rows.
type ViewDef struct {
	Name    string            `json:"name"`
	Rows    []string          `json:"rows"`
	Filters map[string]string `json:"filters,omitempty"`
}

func (v *ViewDef) query(cube string) (string, []any) {
	var (
		b     strings.Builder
		where []string
		args  []any
	)
	rowCols := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		rowCols[i] = quoteIdent(r)
	}

	filterDims := make([]string, 0, len(v.Filters))
	for d := range v.Filters {
		filterDims = append(filterDims, d)
	}
	sort.Strings(filterDims)
	for _, d := range filterDims {
		where = append(where, quoteIdent(d)+" = ?")
		args = append(args, v.Filters[d])
	}

	b.WriteString("SELECT ")
	if len(rowCols) > 0 {
		b.WriteString(strings.Join(rowCols, ", "))
		b.WriteString(", ")
	}
	b.WriteString("sum(" + quoteIdent(valueColumn) + ") FROM ")
	b.WriteString(factTable(cube))
	b.WriteString(" WHERE ")
	b.WriteString(whereClause(where))
	if len(rowCols) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(rowCols, ", "))
	}
	return b.String(), args
}

// CreateCube generates a fact table for def, replacing any cube of the same name.
func (c *Cube) CreateCube(ctx context.Context, def CubeDef) error {
	if def.Name == "" {
		return domain.ErrConfiguration("cube name is required")
	}
	if len(def.Dimensions) == 0 {
		return domain.ErrConfiguration("cube %q needs at least one dimension", def.Name)
	}
	if def.Cells <= 0 {
		return domain.ErrConfiguration("cube %q needs a positive cell count", def.Name)
	}
	if def.Seed < -1 || def.Seed > 1 {
		return domain.ErrConfiguration("seed must be in [-1, 1], got %g", def.Seed)
	}

	seen := make(map[string]bool, len(def.Dimensions))
	cols := make([]string, len(def.Dimensions))
	for i, d := range def.Dimensions {
		switch {
		case d.Name == "" || d.Name == valueColumn:
			return domain.ErrConfiguration("invalid dimension name %q", d.Name)
		case seen[d.Name]:
			return domain.ErrConfiguration("dimension %q appears more than once", d.Name)
		case d.Members <= 0:
			return domain.ErrConfiguration("dimension %q needs at least one member", d.Name)
		}
		seen[d.Name] = true
		skew := d.Skew
		if skew < 1 {
			skew = 1
		}
		// Quoted literal prefix, then a member index drawn from a power law.
		cols[i] = fmt.Sprintf("%s || CAST(floor(pow(random(), %g) * %d) AS INTEGER) AS %s",
			quoteLiteral(d.Name+"_"), skew, d.Members, quoteIdent(d.Name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// setseed applies to the connection, so generation runs on a pinned one.
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("pin connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	if _, err := conn.ExecContext(ctx, "SELECT setseed(?)", def.Seed); err != nil {
		return fmt.Errorf("set seed: %w", err)
	}
	q := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s, round(random() * 1000, 2) AS %s FROM range(%d)", //nolint:gosec // identifiers are quoted
		factTable(def.Name), strings.Join(cols, ", "), quoteIdent(valueColumn), def.Cells)
	if _, err := conn.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create cube %q: %w", def.Name, err)
	}
	c.logger.Info("cube created", "cube", def.Name, "dimensions", len(def.Dimensions), "cells", def.Cells)
	return nil
}

// DefineView stores or replaces a view of cube. Every dimension it names must exist.
func (c *Cube) DefineView(ctx context.Context, cube string, def ViewDef) error {
	if def.Name == "" {
		return domain.ErrConfiguration("view name is required")
	}
	names, err := c.dimensionNames(ctx, cube)
	if err != nil {
		return err
	}
	for _, r := range def.Rows {
		if names.Index(r) < 0 {
			return domain.ErrConfiguration("view %q: unknown row dimension %q", def.Name, r)
		}
	}
	for d := range def.Filters {
		if names.Index(d) < 0 {
			return domain.ErrConfiguration("view %q: unknown filter dimension %q", def.Name, d)
		}
	}

	rowsJSON, err := json.Marshal(def.Rows)
	if err != nil {
		return fmt.Errorf("encode view rows: %w", err)
	}
	filters := def.Filters
	if filters == nil {
		filters = map[string]string{}
	}
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("encode view filters: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cube_views (cube, name, rows_json, filters_json)
		VALUES (?, ?, ?, ?)`, cube, def.Name, string(rowsJSON), string(filtersJSON))
	if err != nil {
		return fmt.Errorf("store view %q: %w", def.Name, err)
	}
	return nil
}

// DefineProcess stores or replaces a named SQL statement run by RunProcess.
func (c *Cube) DefineProcess(ctx context.Context, name, statement string) error {
	if name == "" || strings.TrimSpace(statement) == "" {
		return domain.ErrConfiguration("process name and statement are required")
	}
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cube_processes (name, statement) VALUES (?, ?)", name, statement)
	if err != nil {
		return fmt.Errorf("store process %q: %w", name, err)
	}
	return nil
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
