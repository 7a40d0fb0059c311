package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"exhaustive", StrategyExhaustive},
		{"brute_force", StrategyExhaustive},
		{"Brute-Force", StrategyExhaustive},
		{"greedy", StrategyGreedy},
		{"iterative", StrategyGreedy},
		{"one-shot", StrategyOneShot},
		{" oneshot ", StrategyOneShot},
		{"fast", StrategyFast},
		{"boundary_only", StrategyFast},
		{"ALL", StrategyAll},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStrategy("random")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "random")
}

func TestParseSelection(t *testing.T) {
	s, err := ParseSelection("")
	require.NoError(t, err)
	assert.Equal(t, SelectionFastest, s)

	s, err = ParseSelection("Balanced")
	require.NoError(t, err)
	assert.Equal(t, SelectionBalanced, s)

	_, err = ParseSelection("cheapest")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestMeasurementRecord_Beats(t *testing.T) {
	fast := &MeasurementRecord{MeanQueryTime: time.Second, RAMBytes: 500}
	slow := &MeasurementRecord{MeanQueryTime: 2 * time.Second, RAMBytes: 100}
	lean := &MeasurementRecord{MeanQueryTime: time.Second, RAMBytes: 100}

	assert.True(t, fast.Beats(slow))
	assert.False(t, slow.Beats(fast))
	assert.True(t, lean.Beats(fast), "equal time falls back to RAM")
	assert.False(t, fast.Beats(fast), "a record never beats itself")
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "Original Order", ModeOriginalOrder.String())
	assert.Equal(t, "Candidate", ModeCandidate.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestRunOptions_Validate(t *testing.T) {
	valid := func() RunOptions {
		return RunOptions{Cube: "Sales", View: "Default", Strategy: StrategyGreedy, ExecutionCount: 3}
	}

	tests := []struct {
		name    string
		mutate  func(*RunOptions)
		wantErr string
	}{
		{"valid", func(*RunOptions) {}, ""},
		{"process instead of view", func(o *RunOptions) { o.View = ""; o.ProcessName = "refresh" }, ""},
		{"no cube", func(o *RunOptions) { o.Cube = "" }, "cube is required"},
		{"no target", func(o *RunOptions) { o.View = "" }, "a view or a process name is required"},
		{"zero executions", func(o *RunOptions) { o.ExecutionCount = 0 }, "execution count must be positive"},
		{"unknown strategy", func(o *RunOptions) { o.Strategy = "random" }, `unknown strategy "random"`},
		{"negative limit", func(o *RunOptions) { o.MaxPermutations = -1 }, "must not be negative"},
		{"one shot without defaults", func(o *RunOptions) { o.Strategy = StrategyOneShot }, "requires default members"},
		{"bad selection", func(o *RunOptions) { o.Selection = "cheapest" }, "unknown selection"},
		{"all without defaults", func(o *RunOptions) { o.Strategy = StrategyAll }, ""},
		{"extra views", func(o *RunOptions) { o.ExtraViews = []string{"Detail", "Summary"} }, ""},
		{"extra view repeats view", func(o *RunOptions) { o.ExtraViews = []string{"Default"} }, `view "Default" is listed twice`},
		{"empty extra view", func(o *RunOptions) { o.ExtraViews = []string{""} }, "must not be empty"},
		{"extra views with process", func(o *RunOptions) { o.View = ""; o.ProcessName = "refresh"; o.ExtraViews = []string{"Detail"} }, "cannot be combined with a process"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Message, tt.wantErr)
		})
	}
}

func TestRunOptions_PermutationLimit(t *testing.T) {
	o := RunOptions{}
	assert.Equal(t, DefaultMaxPermutations, o.PermutationLimit())
	o.MaxPermutations = 24
	assert.Equal(t, 24, o.PermutationLimit())
}

func TestIsConnectivity(t *testing.T) {
	err := fmt.Errorf("execute view: %w", &ConnectivityError{Op: "execute view", Err: errors.New("connection refused")})
	assert.True(t, IsConnectivity(err))
	assert.False(t, IsConnectivity(&MeasurementError{Op: "execute view", Err: errors.New("timeout")}))

	var me *MeasurementError
	wrapped := &MeasurementError{Ordering: Ordering{"A"}, Op: "set order", Err: assert.AnError}
	require.ErrorAs(t, fmt.Errorf("x: %w", wrapped), &me)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Equal(t, "measure [A]: set order: "+assert.AnError.Error(), wrapped.Error())
}

func TestNewID_SortsByCreation(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a, b)
}
