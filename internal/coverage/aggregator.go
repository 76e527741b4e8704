// Package coverage joins disjoint coverage regions with district boundaries
// and demand figures to produce per-district coverage statistics.
package coverage

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/geometry"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// Aggregator computes district-level coverage from resolved regions. Area
// math runs in the local metric projection.
type Aggregator struct {
	engine *geometry.Engine
	proj   *geometry.Projection
}

// NewAggregator creates an Aggregator.
func NewAggregator(engine *geometry.Engine, proj *geometry.Projection) *Aggregator {
	return &Aggregator{engine: engine, proj: proj}
}

// Aggregate splits every region's capacity across the districts it touches
// in proportion to intersection area, so district capacities sum to the
// city-wide covered capacity. Districts without any coverage appear with
// zero values. The result is sorted by district ID.
func (a *Aggregator) Aggregate(regions []model.CoverageRegion, districts []model.District, demand model.DemandForecast, year int) ([]model.DistrictCoverage, error) {
	type prepared struct {
		geom     *geos.Geom
		capacity float64
		area     float64
	}

	preparedRegions := make([]prepared, 0, len(regions))
	for i := range regions {
		g, err := a.toMetric(regions[i].Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: project region %d", i)
		}
		var capacity float64
		for _, share := range regions[i].CapacityShares {
			capacity += share
		}
		preparedRegions = append(preparedRegions, prepared{
			geom:     g,
			capacity: capacity,
			area:     g.Area(),
		})
	}
	defer func() {
		for _, p := range preparedRegions {
			p.geom.Destroy()
		}
	}()

	out := make([]model.DistrictCoverage, 0, len(districts))
	for _, district := range districts {
		boundary, err := a.toMetric(district.Boundary)
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: project district %s", district.ID)
		}
		districtArea := boundary.Area()

		dc := model.DistrictCoverage{
			DistrictID: district.ID,
			Name:       district.Name,
		}
		for _, region := range preparedRegions {
			inter := boundary.Intersection(region.geom)
			interArea := inter.Area()
			inter.Destroy()
			if interArea <= 0 {
				continue
			}
			dc.CoveredAreaSqm += interArea
			if region.area > 0 {
				dc.Capacity += region.capacity * (interArea / region.area)
			}
		}
		boundary.Destroy()

		if districtArea > 0 {
			dc.CoveredFraction = dc.CoveredAreaSqm / districtArea
			if dc.CoveredFraction > 1 {
				dc.CoveredFraction = 1
			}
		}
		if d, ok := demand.Demand(district.ID, year); ok && d > 0 {
			dc.ReachablePopulation = d * dc.CoveredFraction
			dc.CoverageRatio = dc.Capacity / d
		} else {
			zap.L().Warn("no demand figure for district",
				zap.String("district", district.ID), zap.Int("year", year))
		}
		out = append(out, dc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DistrictID < out[j].DistrictID })
	return out, nil
}

func (a *Aggregator) toMetric(g geom.T) (*geos.Geom, error) {
	projected, err := a.proj.Project(g)
	if err != nil {
		return nil, err
	}
	return a.engine.FromGeom(projected)
}
