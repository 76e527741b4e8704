package model

import (
	"github.com/twpayne/go-geom"
)

// District is an administrative boundary used for aggregation. District
// polygons are non-overlapping and together tile the study region.
type District struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Boundary geom.T `json:"-"` // EPSG:4326 polygon or multipolygon

	// PopulationByAge holds demographic figures by age band, consumed from
	// the external data-preparation stage. Not computed here.
	PopulationByAge map[string]int `json:"population_by_age,omitempty"`
}

// DemandForecast maps district ID and year to a demand figure, as produced
// by the external forecasting stage.
type DemandForecast map[string]map[int]float64

// Demand returns the forecast demand for a district in a given year.
// The second return is false when no figure is available.
func (d DemandForecast) Demand(districtID string, year int) (float64, bool) {
	years, ok := d[districtID]
	if !ok {
		return 0, false
	}
	v, ok := years[year]
	return v, ok
}
