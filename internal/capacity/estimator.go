// Package capacity imputes missing facility capacities and calibrates all
// values against the city-wide total.
package capacity

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// ErrCalibration means the regression or median model has too little data to
// produce meaningful estimates. Fatal: the run must abort.
var ErrCalibration = eris.New("capacity: insufficient calibration data")

// Config holds the estimation parameters.
type Config struct {
	// MinPlausible and MaxPlausible bound the plausibility window applied to
	// every capacity, known or estimated.
	MinPlausible float64
	MaxPlausible float64
	// CityTotal is the externally supplied city-wide capacity total. All
	// values are rescaled by one uniform factor to match it; zero disables
	// calibration.
	CityTotal float64
	// FactorLow and FactorHigh bound the multiplicative band applied to
	// district medians for point facilities.
	FactorLow  float64
	FactorHigh float64
}

// Report summarizes one estimation pass.
type Report struct {
	Alpha             float64 `json:"alpha"`
	Beta              float64 `json:"beta"`
	RegressionSamples int     `json:"regression_samples"`
	Known             int     `json:"known"`
	ByRegression      int     `json:"by_regression"`
	ByMedian          int     `json:"by_median"`
	Clamped           int     `json:"clamped"`
	CalibrationFactor float64 `json:"calibration_factor"`
}

// Estimator fills missing facility capacities. The random source is
// injected so runs are reproducible under a fixed seed.
type Estimator struct {
	cfg Config
	rng *rand.Rand
}

// NewEstimator creates an Estimator with the given config and random source.
func NewEstimator(cfg Config, rng *rand.Rand) *Estimator {
	if cfg.FactorLow <= 0 || cfg.FactorHigh < cfg.FactorLow {
		cfg.FactorLow, cfg.FactorHigh = 0.85, 1.15
	}
	return &Estimator{cfg: cfg, rng: rng}
}

// NewSeededEstimator creates an Estimator seeded for reproducible draws.
func NewSeededEstimator(cfg Config, seed int64) *Estimator {
	return NewEstimator(cfg, rand.New(rand.NewPCG(uint64(seed), uint64(seed))))
}

// Estimate returns a copy of facilities with every capacity filled, clamped
// to the plausibility window and calibrated to the city total. Facilities
// must already carry their district assignment for the median model.
func (e *Estimator) Estimate(facilities []model.Facility) ([]model.Facility, *Report, error) {
	out := make([]model.Facility, len(facilities))
	copy(out, facilities)
	report := &Report{CalibrationFactor: 1}

	needRegression := false
	needMedian := false
	for i := range out {
		if out[i].Capacity != nil {
			out[i].CapacitySource = model.CapacitySourceKnown
			report.Known++
			continue
		}
		if out[i].Kind() == model.GeometryKindPolygon && out[i].FloorArea != nil {
			needRegression = true
		} else {
			needMedian = true
		}
	}

	alpha, beta, samples, err := e.fitRegression(out, needRegression)
	if err != nil {
		return nil, nil, err
	}
	report.Alpha, report.Beta, report.RegressionSamples = alpha, beta, samples

	medians, cityMedian, err := districtMedians(out, needMedian)
	if err != nil {
		return nil, nil, err
	}

	// Imputation, in input order so draws are reproducible per seed.
	for i := range out {
		f := &out[i]
		if f.Capacity != nil && f.CapacitySource == model.CapacitySourceKnown {
			continue
		}
		if f.Kind() == model.GeometryKindPolygon && f.FloorArea != nil {
			v := alpha + beta*(*f.FloorArea)
			if v < 1 {
				v = 1
			}
			f.Capacity = &v
			f.CapacitySource = model.CapacitySourceRegression
			report.ByRegression++
			continue
		}

		median, ok := medians[f.District]
		if !ok {
			median = cityMedian
		}
		factor := e.cfg.FactorLow + e.rng.Float64()*(e.cfg.FactorHigh-e.cfg.FactorLow)
		v := median * factor
		f.Capacity = &v
		f.CapacitySource = model.CapacitySourceMedian
		report.ByMedian++
	}

	// Plausibility window applies to known and estimated values alike.
	if e.cfg.MaxPlausible > e.cfg.MinPlausible {
		for i := range out {
			f := &out[i]
			clamped := math.Min(math.Max(*f.Capacity, e.cfg.MinPlausible), e.cfg.MaxPlausible)
			if clamped != *f.Capacity {
				f.Capacity = &clamped
				f.Clamped = true
				report.Clamped++
				zap.L().Debug("capacity clamped to plausibility window",
					zap.String("facility", f.ID),
					zap.Float64("value", clamped),
				)
			}
		}
	}

	// Calibration is the last step and is applied uniformly, never
	// per-district, so the correction is not compounded.
	if e.cfg.CityTotal > 0 {
		var sum float64
		for i := range out {
			sum += *out[i].Capacity
		}
		if sum <= 0 {
			return nil, nil, eris.Wrap(ErrCalibration, "capacity: zero total before calibration")
		}
		factor := e.cfg.CityTotal / sum
		for i := range out {
			v := *out[i].Capacity * factor
			out[i].Capacity = &v
		}
		report.CalibrationFactor = factor
	}

	zap.L().Info("capacity estimation complete",
		zap.Int("known", report.Known),
		zap.Int("by_regression", report.ByRegression),
		zap.Int("by_median", report.ByMedian),
		zap.Int("clamped", report.Clamped),
		zap.Float64("calibration_factor", report.CalibrationFactor),
	)
	return out, report, nil
}

// fitRegression fits capacity = alpha + beta*area over facilities with both
// known area and known capacity. Skipped when no facility needs it.
func (e *Estimator) fitRegression(facilities []model.Facility, needed bool) (alpha, beta float64, n int, err error) {
	if !needed {
		return 0, 0, 0, nil
	}

	var xs, ys []float64
	for i := range facilities {
		f := &facilities[i]
		if f.HasKnownCapacity() && f.FloorArea != nil {
			xs = append(xs, *f.FloorArea)
			ys = append(ys, *f.Capacity)
		}
	}
	n = len(xs)
	if n < 2 {
		return 0, 0, n, eris.Wrapf(ErrCalibration, "capacity: %d regression samples, need at least 2", n)
	}

	var xbar, ybar float64
	for i := range xs {
		xbar += xs[i]
		ybar += ys[i]
	}
	xbar /= float64(n)
	ybar /= float64(n)

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - xbar
		sxx += dx * dx
		sxy += dx * (ys[i] - ybar)
	}
	if sxx == 0 {
		return 0, 0, n, eris.Wrap(ErrCalibration, "capacity: zero area variance in regression samples")
	}

	beta = sxy / sxx
	alpha = ybar - beta*xbar
	return alpha, beta, n, nil
}

// districtMedians computes the median known capacity per district plus the
// city-wide fallback median. Skipped when no facility needs it.
func districtMedians(facilities []model.Facility, needed bool) (map[string]float64, float64, error) {
	if !needed {
		return nil, 0, nil
	}

	byDistrict := make(map[string][]float64)
	var all []float64
	for i := range facilities {
		f := &facilities[i]
		if f.HasKnownCapacity() {
			byDistrict[f.District] = append(byDistrict[f.District], *f.Capacity)
			all = append(all, *f.Capacity)
		}
	}
	if len(all) == 0 {
		return nil, 0, eris.Wrap(ErrCalibration, "capacity: no known capacities for median model")
	}

	medians := make(map[string]float64, len(byDistrict))
	for district, vals := range byDistrict {
		medians[district] = median(vals)
	}
	return medians, median(all), nil
}

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
