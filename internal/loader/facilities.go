// Package loader reads the pipeline inputs: facilities from GeoJSON,
// district boundaries from shapefiles, known capacities from XLSX and the
// demand forecast from JSON.
package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// LoadFacilities reads a facility GeoJSON file. Features carry an "id" and
// "name" property plus optional "capacity" and "floor_area" numbers.
// Features with unsupported geometry are skipped with a warning; a feature
// without an id is an error.
func LoadFacilities(path string) ([]model.Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read facilities %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "loader: parse facilities %s", path)
	}

	facilities := make([]model.Facility, 0, len(fc.Features))
	var skipped int
	for i, feature := range fc.Features {
		switch feature.Geometry.(type) {
		case *geom.Point, *geom.Polygon, *geom.MultiPolygon:
		default:
			skipped++
			zap.L().Warn("facility skipped, unsupported geometry",
				zap.Int("feature", i), zap.String("id", feature.ID))
			continue
		}

		id := feature.ID
		if id == "" {
			id = stringProp(feature.Properties, "id")
		}
		if id == "" {
			return nil, eris.Errorf("loader: facility feature %d has no id", i)
		}

		f := model.Facility{
			ID:        id,
			Name:      stringProp(feature.Properties, "name"),
			Geometry:  feature.Geometry,
			Capacity:  floatProp(feature.Properties, "capacity"),
			FloorArea: floatProp(feature.Properties, "floor_area"),
		}
		facilities = append(facilities, f)
	}

	zap.L().Info("facilities loaded",
		zap.String("path", path),
		zap.Int("count", len(facilities)),
		zap.Int("skipped", skipped),
	)
	return facilities, nil
}

func stringProp(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

func floatProp(props map[string]interface{}, key string) *float64 {
	if v, ok := props[key].(float64); ok {
		return &v
	}
	return nil
}
