// Package duckcube is a local cube backend on DuckDB. Each cube is a fact
// table whose column order and physical sort order follow the cube's
// dimension order, so reordering changes how views scan and how well the
// data compresses, much like a real cube server re-sorting its storage.
package duckcube

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cubeopt/internal/domain"
)

// Compile-time checks.
var (
	_ domain.CubeHandle        = (*Cube)(nil)
	_ domain.DimensionProfiler = (*Cube)(nil)
	_ domain.CubeLister        = (*Cube)(nil)
)

const (
	factSchema  = "facts"
	valueColumn = "cell_value"
)

// Cube serves every cube stored in one DuckDB database.
type Cube struct {
	db     *sql.DB
	logger *slog.Logger

	// reorders rewrite a whole table; they are serialized per backend.
	mu sync.Mutex
}

// Open opens (or creates) the DuckDB database at path and prepares the
// catalog tables. An empty path gives an in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Cube, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	c, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open DuckDB handle. The duckdb driver must be registered by the caller.
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Cube, error) {
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + quoteIdent(factSchema),
		`CREATE TABLE IF NOT EXISTS cube_views (
			cube VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			rows_json VARCHAR NOT NULL,
			filters_json VARCHAR NOT NULL,
			PRIMARY KEY (cube, name)
		)`,
		`CREATE TABLE IF NOT EXISTS cube_processes (
			name VARCHAR PRIMARY KEY,
			statement VARCHAR NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return nil, fmt.Errorf("prepare cube catalog: %w", err)
		}
	}
	return &Cube{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Cube) Close() error {
	return c.db.Close()
}

// ListCubes implements domain.CubeLister.
func (c *Cube) ListCubes(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? ORDER BY table_name`, factSchema)
	if err != nil {
		return nil, fmt.Errorf("list cubes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cube: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ViewExists implements domain.CubeLister.
func (c *Cube) ViewExists(ctx context.Context, cube, view string) (bool, error) {
	_, err := c.loadView(ctx, cube, view)
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

// ListDimensions implements domain.CubeHandle. Positions follow the fact
// table's column order; cardinality is the distinct member count.
func (c *Cube) ListDimensions(ctx context.Context, cube string) ([]domain.Dimension, error) {
	names, err := c.dimensionNames(ctx, cube)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, len(names))
	for i, n := range names {
		exprs[i] = "count(DISTINCT " + quoteIdent(n) + ")"
	}
	counts := make([]int64, len(names))
	dest := make([]any, len(names))
	for i := range counts {
		dest[i] = &counts[i]
	}
	q := "SELECT " + strings.Join(exprs, ", ") + " FROM " + factTable(cube) //nolint:gosec // identifiers are quoted
	if err := c.db.QueryRowContext(ctx, q).Scan(dest...); err != nil {
		return nil, fmt.Errorf("count members of cube %q: %w", cube, err)
	}

	dims := make([]domain.Dimension, len(names))
	for i, n := range names {
		dims[i] = domain.Dimension{Name: n, Position: i, Cardinality: counts[i]}
	}
	return dims, nil
}

// SetDimensionOrder implements domain.CubeHandle by rewriting the fact table
// with its columns and rows in the new order.
func (c *Cube) SetDimensionOrder(ctx context.Context, cube string, ordering domain.Ordering) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.dimensionNames(ctx, cube)
	if err != nil {
		return err
	}
	if err := ordering.ValidateAgainst(names); err != nil {
		return err
	}

	cols := make([]string, len(ordering))
	for i, n := range ordering {
		cols[i] = quoteIdent(n)
	}
	list := strings.Join(cols, ", ")
	table := factTable(cube)
	q := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s, %s FROM %s ORDER BY %s", //nolint:gosec // identifiers are quoted
		table, list, quoteIdent(valueColumn), table, list)

	start := time.Now()
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("reorder cube %q: %w", cube, err)
	}
	c.logger.Debug("cube reordered", "cube", cube, "ordering", ordering.String(), "duration", time.Since(start))
	return nil
}

// ExecuteView implements domain.CubeHandle. Cells is the number of result rows.
func (c *Cube) ExecuteView(ctx context.Context, cube, view string) (domain.ViewResult, error) {
	def, err := c.loadView(ctx, cube, view)
	if err != nil {
		return domain.ViewResult{}, err
	}
	q, args := def.query(cube)

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return domain.ViewResult{}, fmt.Errorf("execute view %q of cube %q: %w", view, cube, err)
	}
	defer rows.Close() //nolint:errcheck

	var cells int64
	for rows.Next() {
		cells++
	}
	if err := rows.Err(); err != nil {
		return domain.ViewResult{}, fmt.Errorf("read view %q of cube %q: %w", view, cube, err)
	}
	return domain.ViewResult{Cells: cells, Elapsed: time.Since(start)}, nil
}

// MemoryUsage implements domain.CubeHandle. DuckDB accounts memory per
// database, not per table, so every cube reports the database total.
func (c *Cube) MemoryUsage(ctx context.Context, cube string) (int64, error) {
	if _, err := c.dimensionNames(ctx, cube); err != nil {
		return 0, err
	}
	var n sql.NullInt64
	if err := c.db.QueryRowContext(ctx, "SELECT sum(memory_usage_bytes) FROM duckdb_memory()").Scan(&n); err != nil {
		return 0, fmt.Errorf("read memory usage: %w", err)
	}
	return n.Int64, nil
}

// RunProcess implements domain.CubeHandle by executing the stored statement.
func (c *Cube) RunProcess(ctx context.Context, process string) (time.Duration, error) {
	var stmt string
	err := c.db.QueryRowContext(ctx, "SELECT statement FROM cube_processes WHERE name = ?", process).Scan(&stmt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound("process %q not found", process)
	}
	if err != nil {
		return 0, fmt.Errorf("load process %q: %w", process, err)
	}

	start := time.Now()
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return 0, fmt.Errorf("run process %q: %w", process, err)
	}
	return time.Since(start), nil
}

// ProfileDimension implements domain.DimensionProfiler. Populated counts the
// members of dimension that have data while every other dimension is held at
// its default member.
func (c *Cube) ProfileDimension(ctx context.Context, cube, dimension string, defaultMembers map[string]string) (domain.DimensionProfile, error) {
	names, err := c.dimensionNames(ctx, cube)
	if err != nil {
		return domain.DimensionProfile{}, err
	}
	if names.Index(dimension) < 0 {
		return domain.DimensionProfile{}, domain.ErrNotFound("dimension %q not found in cube %q", dimension, cube)
	}

	var (
		where []string
		args  []any
	)
	for _, n := range names {
		if n == dimension {
			continue
		}
		m, ok := defaultMembers[n]
		if !ok {
			return domain.DimensionProfile{}, domain.ErrConfiguration("no default member for dimension %q", n)
		}
		where = append(where, quoteIdent(n)+" = ?")
		args = append(args, m)
	}

	col := quoteIdent(dimension)
	q := "SELECT count(DISTINCT CASE WHEN " + whereClause(where) + " THEN " + col + " END), count(DISTINCT " + col + ") FROM " + factTable(cube) //nolint:gosec // identifiers are quoted
	p := domain.DimensionProfile{Dimension: dimension}
	if err := c.db.QueryRowContext(ctx, q, args...).Scan(&p.Populated, &p.Cardinality); err != nil {
		return domain.DimensionProfile{}, fmt.Errorf("profile dimension %q of cube %q: %w", dimension, cube, err)
	}
	return p, nil
}

func (c *Cube) dimensionNames(ctx context.Context, cube string) (domain.Ordering, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ? AND column_name <> ?
		ORDER BY ordinal_position`, factSchema, cube, valueColumn)
	if err != nil {
		return nil, fmt.Errorf("list dimensions of cube %q: %w", cube, err)
	}
	defer rows.Close() //nolint:errcheck

	var names domain.Ordering
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, domain.ErrNotFound("cube %q not found", cube)
	}
	return names, nil
}

func (c *Cube) loadView(ctx context.Context, cube, view string) (*ViewDef, error) {
	var rowsJSON, filtersJSON string
	err := c.db.QueryRowContext(ctx,
		"SELECT rows_json, filters_json FROM cube_views WHERE cube = ? AND name = ?", cube, view,
	).Scan(&rowsJSON, &filtersJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("view %q not found in cube %q", view, cube)
	}
	if err != nil {
		return nil, fmt.Errorf("load view %q: %w", view, err)
	}

	def := &ViewDef{Name: view}
	if err := json.Unmarshal([]byte(rowsJSON), &def.Rows); err != nil {
		return nil, fmt.Errorf("decode view %q rows: %w", view, err)
	}
	if err := json.Unmarshal([]byte(filtersJSON), &def.Filters); err != nil {
		return nil, fmt.Errorf("decode view %q filters: %w", view, err)
	}
	return def, nil
}

func factTable(cube string) string {
	return quoteIdent(factSchema) + "." + quoteIdent(cube)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return "true"
	}
	return strings.Join(conds, " AND ")
}
