package domain

import (
	"context"
	"io"
	"time"
)

// CubeHandle is the connection to a cube server. Every method blocks for the
// duration of the remote call. Implementations return a *ConnectivityError
// when the server cannot be reached at all.
// Implemented by rest.Client and duckcube.Cube.
type CubeHandle interface {
	ListDimensions(ctx context.Context, cube string) ([]Dimension, error)
	SetDimensionOrder(ctx context.Context, cube string, ordering Ordering) error
	ExecuteView(ctx context.Context, cube, view string) (ViewResult, error)
	MemoryUsage(ctx context.Context, cube string) (int64, error)
	RunProcess(ctx context.Context, process string) (time.Duration, error)
}

// DimensionProfiler is optionally implemented by handles that can compute
// the statistics used by the one-shot strategy.
type DimensionProfiler interface {
	ProfileDimension(ctx context.Context, cube, dimension string, defaultMembers map[string]string) (DimensionProfile, error)
}

// CubeLister is optionally implemented by handles that can enumerate cubes
// and check for a view, which the all-cubes mode needs.
type CubeLister interface {
	ListCubes(ctx context.Context) ([]string, error)
	ViewExists(ctx context.Context, cube, view string) (bool, error)
}

// RunRepository persists finished runs for later comparison.
// Implemented by repository.RunRepo.
type RunRepository interface {
	SaveRun(ctx context.Context, run *RunSummary, records []MeasurementRecord) error
	ListRuns(ctx context.Context, cube string, limit int) ([]RunSummary, error)
	GetRecords(ctx context.Context, runID string) ([]MeasurementRecord, error)
}

// Archiver uploads finished report files to object storage.
// Implemented by archive.S3Archiver, archive.GCSArchiver and archive.AzureArchiver.
type Archiver interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	Location() string
}
