package loader

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// LoadDemand reads the demand forecast JSON: district id to year to the
// number of children needing a place, e.g. {"01": {"2026": 18400}}.
func LoadDemand(path string) (model.DemandForecast, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read demand %s", path)
	}

	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "loader: parse demand %s", path)
	}

	forecast := make(model.DemandForecast, len(raw))
	for district, years := range raw {
		forecast[district] = make(map[int]float64, len(years))
		for yearStr, value := range years {
			year, err := strconv.Atoi(yearStr)
			if err != nil {
				return nil, eris.Wrapf(err, "loader: demand year %q for district %s", yearStr, district)
			}
			if value < 0 {
				return nil, eris.Errorf("loader: negative demand for district %s year %d", district, year)
			}
			forecast[district][year] = value
		}
	}

	zap.L().Info("demand forecast loaded",
		zap.String("path", path),
		zap.Int("districts", len(forecast)),
	)
	return forecast, nil
}
