package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// exportAll writes the run summary and the GeoJSON layers consumed by the
// visualization stage.
func exportAll(dir, runID string, result *model.RunResult, facilities []model.Facility,
	regions []model.CoverageRegion, districtCoverage []model.DistrictCoverage, districts []model.District) error {

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output dir %s", dir)
	}

	if err := writeRunSummary(filepath.Join(dir, "run_summary.yaml"), result); err != nil {
		return err
	}
	if err := writeFacilitiesGeoJSON(filepath.Join(dir, "facilities.geojson"), facilities); err != nil {
		return err
	}
	if err := writeRegionsGeoJSON(filepath.Join(dir, "regions.geojson"), regions); err != nil {
		return err
	}
	if err := writeCoverageGeoJSON(filepath.Join(dir, "coverage.geojson"), districtCoverage, districts); err != nil {
		return err
	}

	zap.L().Info("run exported", zap.String("run_id", runID), zap.String("dir", dir))
	return nil
}

func writeRunSummary(path string, result *model.RunResult) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal run summary")
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "pipeline: write %s", path)
}

func writeFacilitiesGeoJSON(path string, facilities []model.Facility) error {
	fc := &geojson.FeatureCollection{}
	for i := range facilities {
		f := &facilities[i]
		props := map[string]interface{}{
			"name":            f.Name,
			"district":        f.District,
			"capacity_source": string(f.CapacitySource),
			"clamped":         f.Clamped,
		}
		if f.Capacity != nil {
			props["capacity"] = *f.Capacity
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	return writeGeoJSON(path, fc)
}

func writeRegionsGeoJSON(path string, regions []model.CoverageRegion) error {
	fc := &geojson.FeatureCollection{}
	for i := range regions {
		r := &regions[i]
		var capacity float64
		for _, share := range r.CapacityShares {
			capacity += share
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: r.Geometry,
			Properties: map[string]interface{}{
				"facility_ids": r.FacilityIDs,
				"capacity":     capacity,
				"area_sqm":     r.AreaSqm,
			},
		})
	}
	return writeGeoJSON(path, fc)
}

func writeCoverageGeoJSON(path string, districtCoverage []model.DistrictCoverage, districts []model.District) error {
	boundaries := make(map[string]*model.District, len(districts))
	for i := range districts {
		boundaries[districts[i].ID] = &districts[i]
	}

	fc := &geojson.FeatureCollection{}
	for _, dc := range districtCoverage {
		district, ok := boundaries[dc.DistrictID]
		if !ok {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       dc.DistrictID,
			Geometry: district.Boundary,
			Properties: map[string]interface{}{
				"name":                 dc.Name,
				"capacity":             dc.Capacity,
				"covered_area_sqm":     dc.CoveredAreaSqm,
				"covered_fraction":     dc.CoveredFraction,
				"reachable_population": dc.ReachablePopulation,
				"coverage_ratio":       dc.CoverageRatio,
			},
		})
	}
	return writeGeoJSON(path, fc)
}

func writeGeoJSON(path string, fc *geojson.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrapf(err, "pipeline: marshal %s", path)
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "pipeline: write %s", path)
}
