// Package model defines the core domain types shared across the coverage pipeline.
package model

import (
	"github.com/twpayne/go-geom"
)

// GeometryKind distinguishes the two facility geometry regimes.
type GeometryKind string

const (
	GeometryKindPoint   GeometryKind = "point"
	GeometryKindPolygon GeometryKind = "polygon"
)

// CapacitySource records how a facility's capacity value was obtained.
type CapacitySource string

const (
	CapacitySourceKnown      CapacitySource = "known"
	CapacitySourceRegression CapacitySource = "regression"
	CapacitySourceMedian     CapacitySource = "district_median"
)

// Facility is a daycare center record. Facility records are immutable inputs
// for the duration of a pipeline run except for the capacity fields, which
// the estimator fills, and District, which the spatial join assigns.
type Facility struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Geometry geom.T `json:"-"` // EPSG:4326 point or polygon

	// Capacity is the number of daycare spots. Nil until known or estimated.
	Capacity *float64 `json:"capacity,omitempty"`
	// FloorArea is the facility footprint in square meters, when available.
	FloorArea *float64 `json:"floor_area,omitempty"`
	// District is the assigned district ID, empty until the spatial join.
	District string `json:"district,omitempty"`

	CapacitySource CapacitySource `json:"capacity_source,omitempty"`
	// Clamped marks capacities that fell outside the plausibility window
	// and were pulled to the nearest bound.
	Clamped bool `json:"clamped,omitempty"`
}

// Kind reports whether the facility geometry is a point or a polygon.
func (f *Facility) Kind() GeometryKind {
	switch f.Geometry.(type) {
	case *geom.Point:
		return GeometryKindPoint
	default:
		return GeometryKindPolygon
	}
}

// HasKnownCapacity reports whether the facility came in with a capacity value.
func (f *Facility) HasKnownCapacity() bool {
	return f.Capacity != nil && f.CapacitySource == CapacitySourceKnown
}
