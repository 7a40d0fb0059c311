package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cubeopt/internal/domain"
)

var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements domain.RunRepository on the SQLite run history.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// SaveRun stores a run and its records in one transaction. An empty run.ID is
// filled in with a new ID.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.RunSummary, records []domain.MeasurementRecord) error {
	if run.ID == "" {
		run.ID = domain.NewID()
	}
	original, err := encodeOrdering(run.OriginalOrder)
	if err != nil {
		return err
	}
	var best sql.NullString
	if run.BestOrder != nil {
		s, err := encodeOrdering(run.BestOrder)
		if err != nil {
			return err
		}
		best = sql.NullString{String: s, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, cube, view, process_name, strategy, execution_count,
			original_order, best_order, best_improves, applied, candidates, failed_count,
			aborted, abort_reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Cube, run.View, run.ProcessName, string(run.Strategy), run.ExecutionCount,
		original, best, boolToInt(run.BestImproves), boolToInt(run.Applied), run.Candidates, run.FailedCount,
		boolToInt(run.Aborted), run.AbortReason, formatTime(run.StartedAt), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", mapDBError(err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_records (run_id, record_id, mode, ordering, mean_query_ns,
			median_query_ns, ram_bytes, ram_change_pct, measured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, rec := range records {
		ordering, err := encodeOrdering(rec.Ordering)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			run.ID, rec.ID, rec.Mode.String(), ordering, int64(rec.MeanQueryTime),
			int64(rec.MedianQueryTime), rec.RAMBytes, rec.RAMChangePct, formatTime(rec.MeasuredAt),
		)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", rec.ID, mapDBError(err))
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first. An empty cube lists all cubes;
// limit <= 0 means no limit.
func (r *RunRepo) ListRuns(ctx context.Context, cube string, limit int) ([]domain.RunSummary, error) {
	query := `
		SELECT id, cube, view, process_name, strategy, execution_count, original_order,
			best_order, best_improves, applied, candidates, failed_count, aborted,
			abort_reason, started_at, finished_at
		FROM runs
		WHERE (? = '' OR cube = ?)
		ORDER BY started_at DESC, id DESC`
	args := []any{cube, cube}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.RunSummary
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetRun returns one run by ID.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.RunSummary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, cube, view, process_name, strategy, execution_count, original_order,
			best_order, best_improves, applied, candidates, failed_count, aborted,
			abort_reason, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	s, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("run %q not found", id)
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return s, nil
}

// GetRecords returns the records of a run in measurement order.
func (r *RunRepo) GetRecords(ctx context.Context, runID string) ([]domain.MeasurementRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record_id, mode, ordering, mean_query_ns, median_query_ns, ram_bytes,
			ram_change_pct, measured_at
		FROM run_records WHERE run_id = ? ORDER BY record_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.MeasurementRecord
	for rows.Next() {
		var (
			rec              domain.MeasurementRecord
			mode, ordering   string
			meanNs, medianNs int64
			measuredAt       string
		)
		if err := rows.Scan(&rec.ID, &mode, &ordering, &meanNs, &medianNs, &rec.RAMBytes, &rec.RAMChangePct, &measuredAt); err != nil {
			return nil, err
		}
		if mode == domain.ModeOriginalOrder.String() {
			rec.Mode = domain.ModeOriginalOrder
		} else {
			rec.Mode = domain.ModeCandidate
		}
		if rec.Ordering, err = decodeOrdering(ordering); err != nil {
			return nil, err
		}
		rec.MeanQueryTime = time.Duration(meanNs)
		rec.MedianQueryTime = time.Duration(medianNs)
		if rec.MeasuredAt, err = parseTime(measuredAt); err != nil {
			return nil, fmt.Errorf("parse measured_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBefore removes runs that started before cutoff and returns how many
// were removed. Records go with them.
func (r *RunRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunSummary, error) {
	var s domain.RunSummary
	var strategy, original, startedAt, finishedAt string
	var best sql.NullString
	var bestImproves, applied, aborted int64
	err := row.Scan(&s.ID, &s.Cube, &s.View, &s.ProcessName, &strategy, &s.ExecutionCount, &original,
		&best, &bestImproves, &applied, &s.Candidates, &s.FailedCount, &aborted,
		&s.AbortReason, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	s.Strategy = domain.Strategy(strategy)
	s.BestImproves = bestImproves != 0
	s.Applied = applied != 0
	s.Aborted = aborted != 0
	if s.OriginalOrder, err = decodeOrdering(original); err != nil {
		return nil, err
	}
	if best.Valid {
		if s.BestOrder, err = decodeOrdering(best.String); err != nil {
			return nil, err
		}
	}
	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if s.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &s, nil
}
