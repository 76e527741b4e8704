package overlap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/geometry"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// square builds a geographic square with the given lower-left corner and
// side length in degrees.
func square(lonMin, latMin, side float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		lonMin, latMin,
		lonMin + side, latMin,
		lonMin + side, latMin + side,
		lonMin, latMin + side,
		lonMin, latMin,
	}, []int{10})
}

func newTestResolver() *Resolver {
	return NewResolver(geometry.NewEngine(), geometry.BerlinProjection(), Config{EpsilonSqm: 1})
}

func shareSum(regions []model.CoverageRegion, facilityID string) float64 {
	var sum float64
	for _, r := range regions {
		sum += r.CapacityShares[facilityID]
	}
	return sum
}

func TestResolver_DisjointCatchments(t *testing.T) {
	boundary := square(13.39, 52.49, 0.05)
	catchments := []model.Catchment{
		{FacilityID: "a", RadiusMeters: 500, Geometry: square(13.400, 52.500, 0.002)},
		{FacilityID: "b", RadiusMeters: 500, Geometry: square(13.410, 52.500, 0.002)},
	}
	capacities := map[string]float64{"a": 60, "b": 90}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	require.Len(t, result.Regions, 2)
	assert.Empty(t, result.Failures)

	total := make(map[string]float64)
	for _, region := range result.Regions {
		require.Len(t, region.FacilityIDs, 1)
		total[region.FacilityIDs[0]] = region.CapacityShares[region.FacilityIDs[0]]
		// A 0.002 degree square near Berlin spans roughly 135 by 222 meters.
		assert.InEpsilon(t, 30100, region.AreaSqm, 0.05)
	}
	assert.InDelta(t, 60, total["a"], 1e-6)
	assert.InDelta(t, 90, total["b"], 1e-6)
}

func TestResolver_OverlappingCatchmentsSplitIntoThreeRegions(t *testing.T) {
	boundary := square(13.39, 52.49, 0.05)
	// The squares overlap by 30% of either catchment's area.
	catchments := []model.Catchment{
		{FacilityID: "a", RadiusMeters: 500, Geometry: square(13.400, 52.500, 0.002)},
		{FacilityID: "b", RadiusMeters: 500, Geometry: square(13.4014, 52.500, 0.002)},
	}
	capacities := map[string]float64{"a": 60, "b": 90}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	require.Len(t, result.Regions, 3)

	byMembers := make(map[string]model.CoverageRegion)
	for _, region := range result.Regions {
		byMembers[strings.Join(region.FacilityIDs, ",")] = region
	}
	require.Contains(t, byMembers, "a")
	require.Contains(t, byMembers, "b")
	require.Contains(t, byMembers, "a,b")

	// 70% of each capacity stays in the exclusive remainder, 30% lands in
	// the shared piece, and the pieces sum back to the full capacities.
	shared := byMembers["a,b"]
	assert.InDelta(t, 18, shared.CapacityShares["a"], 1e-6)
	assert.InDelta(t, 27, shared.CapacityShares["b"], 1e-6)
	assert.InDelta(t, 42, byMembers["a"].CapacityShares["a"], 1e-6)
	assert.InDelta(t, 63, byMembers["b"].CapacityShares["b"], 1e-6)
	assert.InDelta(t, 60, shareSum(result.Regions, "a"), 1e-6)
	assert.InDelta(t, 90, shareSum(result.Regions, "b"), 1e-6)
}

func TestResolver_CapacityConservedAcrossRegions(t *testing.T) {
	boundary := square(13.39, 52.49, 0.05)
	// a and b overlap, c stands alone.
	catchments := []model.Catchment{
		{FacilityID: "a", RadiusMeters: 500, Geometry: square(13.400, 52.500, 0.002)},
		{FacilityID: "b", RadiusMeters: 500, Geometry: square(13.4012, 52.5008, 0.002)},
		{FacilityID: "c", RadiusMeters: 500, Geometry: square(13.420, 52.510, 0.002)},
	}
	capacities := map[string]float64{"a": 55, "b": 75, "c": 40}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	// a-only, a+b, b-only and c.
	require.Len(t, result.Regions, 4)

	for id, capacity := range capacities {
		assert.InDelta(t, capacity, shareSum(result.Regions, id), 1e-6, "facility %s", id)
	}
}

func TestResolver_ClippedToStudyBoundary(t *testing.T) {
	// The boundary cuts the catchment in half along its vertical midline.
	boundary := square(13.39, 52.49, 0.011)
	catchments := []model.Catchment{
		{FacilityID: "inside", RadiusMeters: 500, Geometry: square(13.400, 52.495, 0.002)},
	}
	capacities := map[string]float64{"inside": 80}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	require.Len(t, result.Regions, 1)

	region := result.Regions[0]
	// The clipped catchment is the whole region, so the full capacity is
	// attributed to it even though the raw catchment extends beyond the
	// boundary.
	assert.InDelta(t, 80, region.CapacityShares["inside"], 1e-6)

	fullExtent, err := newTestResolver().Resolve(catchments, capacities, square(13.39, 52.49, 0.05))
	require.NoError(t, err)
	require.Len(t, fullExtent.Regions, 1)
	assert.InEpsilon(t, region.AreaSqm*2, fullExtent.Regions[0].AreaSqm, 0.02)
}

func TestResolver_CatchmentOutsideBoundaryExcluded(t *testing.T) {
	boundary := square(13.39, 52.49, 0.01)
	catchments := []model.Catchment{
		{FacilityID: "in", RadiusMeters: 500, Geometry: square(13.392, 52.492, 0.002)},
		{FacilityID: "out", RadiusMeters: 500, Geometry: square(13.50, 52.60, 0.002)},
	}
	capacities := map[string]float64{"in": 50, "out": 70}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	require.Len(t, result.Regions, 1)
	assert.Equal(t, []string{"in"}, result.Regions[0].FacilityIDs)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "out", result.Failures[0].FacilityID)
	assert.Equal(t, model.FailureStageOverlap, result.Failures[0].Stage)
}

func TestResolver_NilGeometryRecordedAsFailure(t *testing.T) {
	boundary := square(13.39, 52.49, 0.05)
	catchments := []model.Catchment{
		{FacilityID: "ok", RadiusMeters: 500, Geometry: square(13.400, 52.500, 0.002)},
		{FacilityID: "broken", RadiusMeters: 500, Geometry: nil},
	}
	capacities := map[string]float64{"ok": 50, "broken": 70}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	require.Len(t, result.Regions, 1)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "broken", result.Failures[0].FacilityID)
	assert.Equal(t, model.FailureStageGeometry, result.Failures[0].Stage)
}

func TestResolver_RegionsAreDisjoint(t *testing.T) {
	boundary := square(13.39, 52.49, 0.05)
	catchments := []model.Catchment{
		{FacilityID: "a", RadiusMeters: 500, Geometry: square(13.400, 52.500, 0.002)},
		{FacilityID: "b", RadiusMeters: 500, Geometry: square(13.410, 52.500, 0.002)},
		{FacilityID: "c", RadiusMeters: 500, Geometry: square(13.4005, 52.5005, 0.002)},
	}
	capacities := map[string]float64{"a": 10, "b": 20, "c": 30}

	result, err := newTestResolver().Resolve(catchments, capacities, boundary)
	require.NoError(t, err)
	// a-only, a+c, c-only and b.
	require.Len(t, result.Regions, 4)

	// Disjoint regions partition the union, so region areas sum to the
	// area of the union of all catchments.
	engine := geometry.NewEngine()
	proj := geometry.BerlinProjection()
	var regionSum float64
	for _, region := range result.Regions {
		regionSum += region.AreaSqm
	}

	var unionArea float64
	pa, err := proj.Project(catchments[0].Geometry)
	require.NoError(t, err)
	union, err := engine.FromGeom(pa)
	require.NoError(t, err)
	for _, c := range catchments[1:] {
		pg, err := proj.Project(c.Geometry)
		require.NoError(t, err)
		gg, err := engine.FromGeom(pg)
		require.NoError(t, err)
		union = union.Union(gg)
	}
	unionArea = union.Area()

	assert.InEpsilon(t, unionArea, regionSum, 1e-6)
}

func TestResolver_EmptyInput(t *testing.T) {
	result, err := newTestResolver().Resolve(nil, nil, square(13.39, 52.49, 0.05))
	require.NoError(t, err)
	assert.Empty(t, result.Regions)
	assert.Empty(t, result.Failures)
}
