package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeopt/internal/domain"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func noop(context.Context) error { return nil }

func TestScheduler_Add(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{name: "standard expression", job: Job{Name: "nightly", Schedule: "0 2 * * *", Run: noop}},
		{name: "descriptor", job: Job{Name: "weekly", Schedule: "@weekly", Run: noop}},
		{name: "invalid expression", job: Job{Name: "bad", Schedule: "every night", Run: noop}, wantErr: true},
		{name: "missing name", job: Job{Schedule: "@daily", Run: noop}, wantErr: true},
		{name: "missing run", job: Job{Name: "x", Schedule: "@daily"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewScheduler(discardLogger())
			err := s.Add(tt.job)
			if tt.wantErr {
				var cfgErr *domain.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Empty(t, s.entries)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.entries, 1)
		})
	}
}

func TestScheduler_DuplicateAndRemove(t *testing.T) {
	t.Parallel()

	s := NewScheduler(discardLogger())
	require.NoError(t, s.Add(Job{Name: "nightly", Schedule: "@daily", Run: noop}))

	err := s.Add(Job{Name: "nightly", Schedule: "@hourly", Run: noop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	s.Remove("nightly")
	s.Remove("unknown")
	assert.Empty(t, s.entries)
}

func TestScheduler_Next(t *testing.T) {
	t.Parallel()

	s := NewScheduler(discardLogger())
	require.NoError(t, s.Add(Job{Name: "nightly", Schedule: "0 2 * * *", Run: noop}))

	_, ok := s.Next("nightly")
	assert.False(t, ok, "no activation before start")

	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	next, ok := s.Next("nightly")
	require.True(t, ok)
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))

	_, ok = s.Next("unknown")
	assert.False(t, ok)
}

func TestScheduler_RunsJobWithContext(t *testing.T) {
	t.Parallel()

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "scheduled")

	var runs atomic.Int32
	var sawValue atomic.Bool
	s := NewScheduler(discardLogger())
	require.NoError(t, s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(ctx context.Context) error {
		sawValue.Store(ctx.Value(ctxKey{}) == "scheduled")
		runs.Add(1)
		return errors.New("measurement failed")
	}}))

	s.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	s.Stop(context.Background())
	assert.True(t, sawValue.Load())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("30 1 * * 1-5"))
	assert.NoError(t, Validate("@midnight"))
	assert.Error(t, Validate("61 * * * *"))
}
