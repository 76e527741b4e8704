package coverage

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/geometry"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// AssignDistricts fills each facility's district by point-in-polygon lookup
// against the district boundaries. Polygon facilities are represented by
// their bounding-box center. The returned slice of IDs names facilities that
// fell outside every district; those keep an empty assignment.
func AssignDistricts(engine *geometry.Engine, facilities []model.Facility, districts []model.District) ([]model.Facility, []string, error) {
	type boundary struct {
		id   string
		geom *geos.Geom
	}
	prepared := make([]boundary, 0, len(districts))
	defer func() {
		for _, b := range prepared {
			b.geom.Destroy()
		}
	}()
	for _, d := range districts {
		g, err := engine.FromGeom(d.Boundary)
		if err != nil {
			return nil, nil, err
		}
		prepared = append(prepared, boundary{id: d.ID, geom: g})
	}

	out := make([]model.Facility, len(facilities))
	copy(out, facilities)

	var unassigned []string
	for i := range out {
		if out[i].District != "" {
			continue
		}
		lon, lat := facilityOrigin(&out[i])
		pt, err := engine.FromGeom(geom.NewPointFlat(geom.XY, []float64{lon, lat}))
		if err != nil {
			return nil, nil, err
		}

		found := false
		for _, b := range prepared {
			if b.geom.Intersects(pt) {
				out[i].District = b.id
				found = true
				break
			}
		}
		pt.Destroy()
		if !found {
			unassigned = append(unassigned, out[i].ID)
			zap.L().Warn("facility outside all district boundaries",
				zap.String("facility", out[i].ID),
				zap.Float64("lon", lon), zap.Float64("lat", lat))
		}
	}
	return out, unassigned, nil
}

func facilityOrigin(f *model.Facility) (lon, lat float64) {
	if pt, ok := f.Geometry.(*geom.Point); ok {
		return pt.X(), pt.Y()
	}
	return geometry.BoundsCenter(f.Geometry)
}
