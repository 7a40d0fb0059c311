// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"cubeopt/internal/domain"
)

// === Cube Handle Mock ===

// MockCube implements domain.CubeHandle, domain.DimensionProfiler and
// domain.CubeLister for testing. Unset function fields fall back to a
// simple in-memory cube built from Dimensions.
type MockCube struct {
	mu sync.Mutex

	Dimensions []domain.Dimension

	ListDimensionsFn    func(ctx context.Context, cube string) ([]domain.Dimension, error)
	SetDimensionOrderFn func(ctx context.Context, cube string, ordering domain.Ordering) error
	ExecuteViewFn       func(ctx context.Context, cube, view string, current domain.Ordering) (domain.ViewResult, error)
	MemoryUsageFn       func(ctx context.Context, cube string, current domain.Ordering) (int64, error)
	RunProcessFn        func(ctx context.Context, process string, current domain.Ordering) (time.Duration, error)
	ProfileDimensionFn  func(ctx context.Context, cube, dimension string, defaults map[string]string) (domain.DimensionProfile, error)
	ListCubesFn         func(ctx context.Context) ([]string, error)
	ViewExistsFn        func(ctx context.Context, cube, view string) (bool, error)

	// Current is the ordering most recently applied.
	Current domain.Ordering
	// SetCalls records every ordering passed to SetDimensionOrder.
	SetCalls []domain.Ordering
	// ViewCalls counts ExecuteView invocations.
	ViewCalls int
	// ProcessCalls counts RunProcess invocations.
	ProcessCalls int
}

var (
	_ domain.CubeHandle        = (*MockCube)(nil)
	_ domain.DimensionProfiler = (*MockCube)(nil)
	_ domain.CubeLister        = (*MockCube)(nil)
)

// NewMockCube returns a MockCube whose dimensions are names, in order.
func NewMockCube(names ...string) *MockCube {
	dims := make([]domain.Dimension, len(names))
	for i, n := range names {
		dims[i] = domain.Dimension{Name: n, Position: i, Cardinality: int64(10 * (i + 1))}
	}
	return &MockCube{Dimensions: dims, Current: domain.DimensionNames(dims)}
}

// ListDimensions implements the interface method for testing.
func (m *MockCube) ListDimensions(ctx context.Context, cube string) ([]domain.Dimension, error) {
	if m.ListDimensionsFn != nil {
		return m.ListDimensionsFn(ctx, cube)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Dimension, len(m.Current))
	for i, n := range m.Current {
		out[i] = domain.Dimension{Name: n, Position: i, Cardinality: m.cardinality(n)}
	}
	return out, nil
}

// SetDimensionOrder implements the interface method for testing.
func (m *MockCube) SetDimensionOrder(ctx context.Context, cube string, ordering domain.Ordering) error {
	m.mu.Lock()
	m.SetCalls = append(m.SetCalls, ordering.Clone())
	m.mu.Unlock()
	if m.SetDimensionOrderFn != nil {
		if err := m.SetDimensionOrderFn(ctx, cube, ordering); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Current = ordering.Clone()
	m.mu.Unlock()
	return nil
}

// ExecuteView implements the interface method for testing.
func (m *MockCube) ExecuteView(ctx context.Context, cube, view string) (domain.ViewResult, error) {
	m.mu.Lock()
	m.ViewCalls++
	current := m.Current.Clone()
	m.mu.Unlock()
	if m.ExecuteViewFn != nil {
		return m.ExecuteViewFn(ctx, cube, view, current)
	}
	return domain.ViewResult{Cells: 1, Elapsed: 10 * time.Millisecond}, nil
}

// MemoryUsage implements the interface method for testing.
func (m *MockCube) MemoryUsage(ctx context.Context, cube string) (int64, error) {
	m.mu.Lock()
	current := m.Current.Clone()
	m.mu.Unlock()
	if m.MemoryUsageFn != nil {
		return m.MemoryUsageFn(ctx, cube, current)
	}
	return 1 << 20, nil
}

// RunProcess implements the interface method for testing.
func (m *MockCube) RunProcess(ctx context.Context, process string) (time.Duration, error) {
	m.mu.Lock()
	m.ProcessCalls++
	current := m.Current.Clone()
	m.mu.Unlock()
	if m.RunProcessFn != nil {
		return m.RunProcessFn(ctx, process, current)
	}
	return 20 * time.Millisecond, nil
}

// ProfileDimension implements the interface method for testing.
func (m *MockCube) ProfileDimension(ctx context.Context, cube, dimension string, defaults map[string]string) (domain.DimensionProfile, error) {
	if m.ProfileDimensionFn != nil {
		return m.ProfileDimensionFn(ctx, cube, dimension, defaults)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cardinality(dimension)
	return domain.DimensionProfile{Dimension: dimension, Cardinality: c, Populated: c / 2}, nil
}

// ListCubes implements the interface method for testing.
func (m *MockCube) ListCubes(ctx context.Context) ([]string, error) {
	if m.ListCubesFn != nil {
		return m.ListCubesFn(ctx)
	}
	panic("unexpected call to MockCube.ListCubes")
}

// ViewExists implements the interface method for testing.
func (m *MockCube) ViewExists(ctx context.Context, cube, view string) (bool, error) {
	if m.ViewExistsFn != nil {
		return m.ViewExistsFn(ctx, cube, view)
	}
	return true, nil
}

// Applied returns a copy of the orderings passed to SetDimensionOrder.
func (m *MockCube) Applied() []domain.Ordering {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Ordering, len(m.SetCalls))
	for i, o := range m.SetCalls {
		out[i] = o.Clone()
	}
	return out
}

func (m *MockCube) cardinality(name string) int64 {
	for _, d := range m.Dimensions {
		if d.Name == name {
			return d.Cardinality
		}
	}
	return 0
}

// === Run Repository Mock ===

// MockRunRepo implements domain.RunRepository for testing.
type MockRunRepo struct {
	SaveRunFn    func(ctx context.Context, run *domain.RunSummary, records []domain.MeasurementRecord) error
	ListRunsFn   func(ctx context.Context, cube string, limit int) ([]domain.RunSummary, error)
	GetRecordsFn func(ctx context.Context, runID string) ([]domain.MeasurementRecord, error)

	Saved []*domain.RunSummary // collected runs for assertions
}

// SaveRun implements the interface method for testing.
func (m *MockRunRepo) SaveRun(ctx context.Context, run *domain.RunSummary, records []domain.MeasurementRecord) error {
	if m.SaveRunFn != nil {
		if err := m.SaveRunFn(ctx, run, records); err != nil {
			return err
		}
	}
	m.Saved = append(m.Saved, run)
	return nil
}

// ListRuns implements the interface method for testing.
func (m *MockRunRepo) ListRuns(ctx context.Context, cube string, limit int) ([]domain.RunSummary, error) {
	if m.ListRunsFn != nil {
		return m.ListRunsFn(ctx, cube, limit)
	}
	panic("unexpected call to MockRunRepo.ListRuns")
}

// GetRecords implements the interface method for testing.
func (m *MockRunRepo) GetRecords(ctx context.Context, runID string) ([]domain.MeasurementRecord, error) {
	if m.GetRecordsFn != nil {
		return m.GetRecordsFn(ctx, runID)
	}
	panic("unexpected call to MockRunRepo.GetRecords")
}

// === Archiver Mock ===

// MockArchiver implements domain.Archiver and keeps uploaded objects in memory.
type MockArchiver struct {
	mu       sync.Mutex
	UploadFn func(ctx context.Context, key string, body io.Reader) error
	Objects  map[string][]byte
}

// Upload implements the interface method for testing.
func (m *MockArchiver) Upload(ctx context.Context, key string, body io.Reader) error {
	if m.UploadFn != nil {
		return m.UploadFn(ctx, key, body)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Objects == nil {
		m.Objects = make(map[string][]byte)
	}
	m.Objects[key] = buf.Bytes()
	return nil
}

// Location implements the interface method for testing.
func (m *MockArchiver) Location() string { return "mem://archive" }
