// Package store persists pipeline runs, facilities with their final
// capacities and the per-district coverage results.
package store

import (
	"context"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Year   int             `json:"year,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the coverage pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, year int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Results
	SaveFacilities(ctx context.Context, runID string, facilities []model.Facility) error
	SaveDistrictCoverage(ctx context.Context, runID string, coverage []model.DistrictCoverage) error
	GetDistrictCoverage(ctx context.Context, runID string) ([]model.DistrictCoverage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
