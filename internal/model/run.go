package model

import (
	"time"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusEstimating  RunStatus = "estimating"
	RunStatusRouting     RunStatus = "routing"
	RunStatusResolving   RunStatus = "resolving"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// FailureStage identifies the pipeline stage in which a facility dropped out.
type FailureStage string

const (
	FailureStageRouting  FailureStage = "routing"
	FailureStageGeometry FailureStage = "geometry"
	FailureStageOverlap  FailureStage = "overlap"
)

// FacilityFailure records a facility excluded from the run with its reason.
// Per-facility failures are collected and reported at end of run rather than
// aborting the batch.
type FacilityFailure struct {
	FacilityID string       `json:"facility_id" yaml:"facility_id"`
	Stage      FailureStage `json:"stage" yaml:"stage"`
	Reason     string       `json:"reason" yaml:"reason"`
}

// Run is a persisted pipeline run.
type Run struct {
	ID        string     `json:"id" yaml:"id"`
	Year      int        `json:"year" yaml:"year"`
	Status    RunStatus  `json:"status" yaml:"status"`
	Result    *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// RunResult holds the end-of-run summary.
type RunResult struct {
	RunID             string            `json:"run_id" yaml:"run_id"`
	Status            RunStatus         `json:"status" yaml:"status"`
	Facilities        int               `json:"facilities" yaml:"facilities"`
	Catchments        int               `json:"catchments" yaml:"catchments"`
	CachedCatchments  int               `json:"cached_catchments" yaml:"cached_catchments"`
	Regions           int               `json:"regions" yaml:"regions"`
	RequestsUsed      int               `json:"requests_used" yaml:"requests_used"`
	CalibrationFactor float64           `json:"calibration_factor" yaml:"calibration_factor"`
	EstimatedCount    int               `json:"estimated_count" yaml:"estimated_count"`
	ClampedCount      int               `json:"clamped_count" yaml:"clamped_count"`
	Failures          []FacilityFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	StartedAt         time.Time         `json:"started_at" yaml:"started_at"`
	Duration          time.Duration     `json:"duration" yaml:"duration"`
}
