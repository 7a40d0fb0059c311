// Package schedule runs dimension order evaluations on cron schedules, so
// that measurements happen off-hours when the cube server is quiet.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cubeopt/internal/domain"
)

// Job is one scheduled evaluation.
type Job struct {
	Name     string
	Schedule string // standard 5-field cron expression or a descriptor such as "@daily"
	Run      func(ctx context.Context) error
}

// Scheduler manages cron-based evaluation runs. A job that is still running
// when its next activation comes round is skipped, never run twice at once:
// two runs would fight over the cube's live order.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID // job name → cron entry
}

// NewScheduler creates a new scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers job. An invalid schedule or a duplicate name is a
// ConfigurationError.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Name == "" || job.Run == nil {
		return domain.ErrConfiguration("scheduled job needs a name and a run function")
	}
	if _, ok := s.entries[job.Name]; ok {
		return domain.ErrConfiguration("scheduled job %q already exists", job.Name)
	}

	name, run := job.Name, job.Run
	id, err := s.cron.AddFunc(job.Schedule, func() {
		start := time.Now()
		s.logger.Info("scheduled run started", "job", name)
		if err := run(s.context()); err != nil {
			s.logger.Warn("scheduled run failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Info("scheduled run finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return domain.ErrConfiguration("invalid cron schedule %q for job %q: %v", job.Schedule, job.Name, err)
	}
	s.entries[job.Name] = id
	s.logger.Info("scheduled job", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next returns the next activation of the named job, or false when the job
// is unknown or the scheduler has not been started.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

// Start starts the cron scheduler. Jobs receive ctx; cancelling it cancels
// runs in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("evaluation scheduler started", "jobs", len(s.entries))
}

// Stop stops the scheduler and waits for running jobs, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped before running jobs finished")
	}
	s.logger.Info("evaluation scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

var _ cron.Logger = cronLogger{}

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}
