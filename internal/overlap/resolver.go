// Package overlap turns per-facility catchments into disjoint coverage
// regions with area-weighted capacity shares.
package overlap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/geometry"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// DefaultEpsilonSqm is the minimum area, in square meters, for an overlay
// piece to become a region. It absorbs floating-point slivers along shared
// boundaries.
const DefaultEpsilonSqm = 1.0

// Config holds the resolver parameters.
type Config struct {
	EpsilonSqm float64
}

// Result carries the disjoint regions plus the catchments that dropped out.
type Result struct {
	Regions  []model.CoverageRegion
	Failures []model.FacilityFailure
}

// Resolver decomposes overlapping catchments into disjoint regions. All area
// math runs in the local metric projection; region geometries are returned
// in geographic coordinates.
type Resolver struct {
	engine  *geometry.Engine
	proj    *geometry.Projection
	epsilon float64
}

// NewResolver creates a Resolver. A non-positive epsilon falls back to
// DefaultEpsilonSqm.
func NewResolver(engine *geometry.Engine, proj *geometry.Projection, cfg Config) *Resolver {
	if cfg.EpsilonSqm <= 0 {
		cfg.EpsilonSqm = DefaultEpsilonSqm
	}
	return &Resolver{engine: engine, proj: proj, epsilon: cfg.EpsilonSqm}
}

type clipped struct {
	facilityID string
	geom       *geos.Geom
	area       float64
	capacity   float64
}

// Resolve clips each catchment to the study boundary and overlays the
// clipped catchments into disjoint pieces, one region per distinct set of
// covering facilities. Two overlapping catchments therefore yield three
// regions, the two exclusive remainders and the shared piece. Each facility's
// capacity is attributed across its regions in proportion to area, so the
// shares of one facility always sum to its capacity.
func (r *Resolver) Resolve(catchments []model.Catchment, capacities map[string]float64, studyArea geom.T) (*Result, error) {
	result := &Result{}
	if len(catchments) == 0 {
		return result, nil
	}

	boundary, err := r.toMetric(studyArea)
	if err != nil {
		return nil, eris.Wrap(err, "overlap: project study boundary")
	}
	defer boundary.Destroy()

	parts := make([]clipped, 0, len(catchments))
	for _, c := range catchments {
		g, err := r.toMetric(c.Geometry)
		if err != nil {
			result.Failures = append(result.Failures, model.FacilityFailure{
				FacilityID: c.FacilityID,
				Stage:      model.FailureStageGeometry,
				Reason:     fmt.Sprintf("invalid catchment geometry: %v", err),
			})
			zap.L().Warn("catchment excluded, invalid geometry",
				zap.String("facility", c.FacilityID), zap.Error(err))
			continue
		}

		clip := boundary.Intersection(g)
		g.Destroy()
		if clip.IsEmpty() || clip.Area() <= r.epsilon {
			clip.Destroy()
			result.Failures = append(result.Failures, model.FacilityFailure{
				FacilityID: c.FacilityID,
				Stage:      model.FailureStageOverlap,
				Reason:     "catchment lies outside the study boundary",
			})
			zap.L().Warn("catchment excluded, outside study boundary",
				zap.String("facility", c.FacilityID))
			continue
		}
		parts = append(parts, clipped{
			facilityID: c.FacilityID,
			geom:       clip,
			area:       clip.Area(),
			capacity:   capacities[c.FacilityID],
		})
	}
	defer func() {
		for _, p := range parts {
			p.geom.Destroy()
		}
	}()
	if len(parts) == 0 {
		return result, nil
	}

	regions, err := r.overlay(parts)
	if err != nil {
		return nil, err
	}
	result.Regions = regions

	zap.L().Info("overlap resolution complete",
		zap.Int("catchments", len(catchments)),
		zap.Int("regions", len(result.Regions)),
		zap.Int("excluded", len(result.Failures)),
	)
	return result, nil
}

// piece is one disjoint cell of the catchment overlay together with the
// indexes of the clipped catchments covering it.
type piece struct {
	geom    *geos.Geom
	members []int
}

// overlay splits the clipped catchments into the disjoint arrangement of
// their intersections and differences, merges cells with the same covering
// set and emits one region per connected part. Cells at or below epsilon are
// dropped as slivers.
func (r *Resolver) overlay(parts []clipped) ([]model.CoverageRegion, error) {
	var pieces []piece
	for i := range parts {
		next := make([]piece, 0, 2*len(pieces)+1)
		remainder := parts[i].geom.Clone()
		for _, pc := range pieces {
			inter := pc.geom.Intersection(parts[i].geom)
			if inter.IsEmpty() {
				inter.Destroy()
			} else {
				members := append(append([]int(nil), pc.members...), i)
				next = append(next, piece{geom: inter, members: members})
			}
			diff := pc.geom.Difference(parts[i].geom)
			if diff.IsEmpty() {
				diff.Destroy()
			} else {
				next = append(next, piece{geom: diff, members: pc.members})
			}
			rest := remainder.Difference(pc.geom)
			remainder.Destroy()
			remainder = rest
			pc.geom.Destroy()
		}
		if remainder.IsEmpty() {
			remainder.Destroy()
		} else {
			next = append(next, piece{geom: remainder, members: []int{i}})
		}
		pieces = next
	}

	merged := make(map[string]*geos.Geom)
	var keys []string
	for _, pc := range pieces {
		if pc.geom.Area() <= r.epsilon {
			pc.geom.Destroy()
			continue
		}
		key := memberKey(parts, pc.members)
		if g, ok := merged[key]; ok {
			u := g.Union(pc.geom)
			g.Destroy()
			pc.geom.Destroy()
			merged[key] = u
		} else {
			merged[key] = pc.geom
			keys = append(keys, key)
		}
	}
	defer func() {
		for _, g := range merged {
			g.Destroy()
		}
	}()

	byID := make(map[string]*clipped, len(parts))
	for i := range parts {
		byID[parts[i].facilityID] = &parts[i]
	}

	sort.Strings(keys)
	var regions []model.CoverageRegion
	for _, key := range keys {
		ids := strings.Split(key, "\x1f")
		for _, part := range geometry.Components(merged[key]) {
			region, err := r.buildRegion(part, ids, byID)
			part.Destroy()
			if err != nil {
				return nil, err
			}
			if region != nil {
				regions = append(regions, *region)
			}
		}
	}
	return regions, nil
}

// memberKey canonicalizes a covering set as its sorted facility IDs.
func memberKey(parts []clipped, members []int) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = parts[m].facilityID
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x1f")
}

// buildRegion computes the capacity shares for one contiguous overlay cell.
// Every listed facility covers the whole cell, so its share is its capacity
// scaled by the cell's fraction of the clipped catchment area.
func (r *Resolver) buildRegion(cell *geos.Geom, ids []string, byID map[string]*clipped) (*model.CoverageRegion, error) {
	area := cell.Area()
	if area <= r.epsilon {
		return nil, nil
	}

	shares := make(map[string]float64, len(ids))
	for _, id := range ids {
		p := byID[id]
		shares[id] = p.capacity * (area / p.area)
	}

	metric, err := r.engine.ToGeom(cell)
	if err != nil {
		return nil, eris.Wrap(err, "overlap: decode region")
	}
	geographic, err := r.proj.Unproject(metric)
	if err != nil {
		return nil, eris.Wrap(err, "overlap: unproject region")
	}

	return &model.CoverageRegion{
		Geometry:       geographic,
		FacilityIDs:    append([]string(nil), ids...),
		CapacityShares: shares,
		AreaSqm:        area,
	}, nil
}

// toMetric projects a geographic geometry into the local metric plane and
// returns it as a repaired GEOS geometry.
func (r *Resolver) toMetric(g geom.T) (*geos.Geom, error) {
	projected, err := r.proj.Project(g)
	if err != nil {
		return nil, err
	}
	gg, err := r.engine.FromGeom(projected)
	if err != nil {
		return nil, err
	}
	if gg.IsEmpty() {
		gg.Destroy()
		return nil, eris.Wrap(geometry.ErrInvalidGeometry, "overlap: empty geometry")
	}
	repaired := r.engine.Repair(gg)
	if repaired != gg {
		gg.Destroy()
	}
	return repaired, nil
}
