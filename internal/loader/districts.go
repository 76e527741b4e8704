package loader

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// DistrictFields names the shapefile attribute columns for the district key
// and display name. Zero values fall back to the Berlin open-data schema.
type DistrictFields struct {
	ID   string
	Name string
}

// LoadDistricts reads district boundaries from a shapefile. Records without
// usable geometry are skipped with a warning.
func LoadDistricts(shpPath string, fields DistrictFields) ([]model.District, error) {
	if fields.ID == "" {
		fields.ID = "BEZ"
	}
	if fields.Name == "" {
		fields.Name = "BEZNAME"
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open districts %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	idIdx, ok := fieldIdx[strings.ToLower(fields.ID)]
	if !ok {
		return nil, eris.Errorf("loader: districts missing attribute %q", fields.ID)
	}
	nameIdx, ok := fieldIdx[strings.ToLower(fields.Name)]
	if !ok {
		return nil, eris.Errorf("loader: districts missing attribute %q", fields.Name)
	}

	var districts []model.District
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		boundary := polygonToMultiPolygon(poly)
		if boundary == nil {
			skipped++
			continue
		}

		districts = append(districts, model.District{
			ID:       attribute(reader, idIdx),
			Name:     attribute(reader, nameIdx),
			Boundary: boundary,
		})
	}

	if skipped > 0 {
		zap.L().Warn("district records skipped", zap.Int("skipped", skipped))
	}
	zap.L().Info("districts loaded",
		zap.String("path", shpPath),
		zap.Int("count", len(districts)),
	)
	return districts, nil
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// treating every part as an outer ring.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("skipping malformed district ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("skipping malformed district part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
