package model

import (
	"github.com/twpayne/go-geom"
)

// Catchment is the walking-distance service area of one facility, as
// returned by the routing service. Derived, owned by the pipeline run.
type Catchment struct {
	FacilityID   string  `json:"facility_id"`
	RadiusMeters float64 `json:"radius_meters"`
	Geometry     geom.T  `json:"-"` // EPSG:4326 polygon
}

// CoverageRegion is a disjoint piece of the combined catchment area together
// with the capacity shares attributed to it. The union of all regions for a
// set of catchments equals the union of the inputs, and regions are pairwise
// disjoint, so no ground area is counted twice.
type CoverageRegion struct {
	Geometry geom.T `json:"-"`
	// FacilityIDs lists the facilities whose catchments cover this region
	// with non-trivial area.
	FacilityIDs []string `json:"facility_ids"`
	// CapacityShares maps facility ID to the capacity share attributed to
	// this region. Summing a facility's shares across all regions reproduces
	// its full capacity.
	CapacityShares map[string]float64 `json:"capacity_shares"`
	AreaSqm        float64            `json:"area_sqm"`
}

// DistrictCoverage is the per-district supply summary. Recomputed on every
// pipeline run; districts without any intersecting coverage still get an
// entry with zero capacity so consumers can tell measured zero from missing.
type DistrictCoverage struct {
	DistrictID string `json:"district_id"`
	Name       string `json:"name"`
	// Capacity is the total capacity attributed to the district.
	Capacity float64 `json:"capacity"`
	// CoveredAreaSqm is the district area inside resolved coverage regions.
	CoveredAreaSqm float64 `json:"covered_area_sqm"`
	// CoveredFraction is CoveredAreaSqm over the district area.
	CoveredFraction float64 `json:"covered_fraction"`
	// ReachablePopulation estimates the demand population inside covered
	// area, zero when no demand figure was supplied.
	ReachablePopulation float64 `json:"reachable_population"`
	// CoverageRatio is capacity over forecast demand, zero when demand is
	// unknown.
	CoverageRatio float64 `json:"coverage_ratio"`
}
