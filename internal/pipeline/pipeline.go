// Package pipeline wires the full coverage analysis: input loading, capacity
// estimation, isochrone construction, overlap resolution and district
// aggregation, with results persisted to the store and exported for the
// visualization stage.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/capacity"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/config"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/coverage"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/geometry"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/isochrone"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/loader"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/overlap"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/resilience"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/routing"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/store"
)

// Pipeline runs the coverage analysis end to end.
type Pipeline struct {
	cfg    *config.Config
	store  store.Store
	client isochrone.RoutingClient
	cache  *isochrone.Cache
	budget *routing.Budget
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithRoutingClient overrides the routing client, used by tests.
func WithRoutingClient(c isochrone.RoutingClient) Option {
	return func(p *Pipeline) { p.client = c }
}

// New assembles a Pipeline from configuration. A missing routing API key
// switches isochrone construction to cache-only mode: cached catchments are
// used and uncached facilities are reported as routing failures.
func New(cfg *config.Config, st store.Store, cache *isochrone.Cache, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, store: st, cache: cache}
	defer func() {
		for _, opt := range opts {
			opt(p)
		}
	}()

	if cfg.Routing.APIKey == "" {
		zap.L().Warn("no routing API key configured, running cache-only")
		p.client = cacheOnlyClient{}
		return p
	}

	p.budget = routing.NewBudget(cfg.Routing.SessionCap)
	retry := resilience.DefaultRetryConfig()
	if cfg.Routing.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Routing.RetryAttempts
	}
	if cfg.Routing.RetryBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(cfg.Routing.RetryBackoffMs) * time.Millisecond
	}
	retry.OnRetry = resilience.RetryLogger("openrouteservice", "isochrone")
	p.client = routing.NewClient(cfg.Routing.APIKey,
		routing.WithBaseURL(cfg.Routing.BaseURL),
		routing.WithPerMinuteCap(cfg.Routing.PerMinuteCap),
		routing.WithTimeout(time.Duration(cfg.Routing.TimeoutSecs)*time.Second),
		routing.WithBudget(p.budget),
		routing.WithRetryConfig(retry),
	)
	return p
}

// inputs bundles the loaded datasets for one run.
type inputs struct {
	facilities []model.Facility
	districts  []model.District
	demand     model.DemandForecast
}

func (p *Pipeline) loadInputs() (*inputs, error) {
	in := p.cfg.Input

	facilities, err := loader.LoadFacilities(in.FacilitiesGeoJSON)
	if err != nil {
		return nil, err
	}
	districts, err := loader.LoadDistricts(in.DistrictsShapefile, loader.DistrictFields{})
	if err != nil {
		return nil, err
	}
	demand, err := loader.LoadDemand(in.DemandJSON)
	if err != nil {
		return nil, err
	}
	if in.CapacitiesXLSX != "" {
		known, err := loader.LoadKnownCapacities(in.CapacitiesXLSX)
		if err != nil {
			return nil, err
		}
		filled := loader.ApplyKnownCapacities(facilities, known)
		zap.L().Info("known capacities applied", zap.Int("filled", filled))
	}

	return &inputs{facilities: facilities, districts: districts, demand: demand}, nil
}

// Estimate runs input loading, district assignment and capacity estimation
// only, without touching the routing service or the store.
func (p *Pipeline) Estimate(ctx context.Context) ([]model.Facility, *capacity.Report, error) {
	in, err := p.loadInputs()
	if err != nil {
		return nil, nil, err
	}

	engine := geometry.NewEngine()
	if err := validateDistricts(engine, in.districts); err != nil {
		return nil, nil, err
	}
	facilities, _ := screenFacilities(engine, in.facilities)

	facilities, unassigned, err := coverage.AssignDistricts(engine, facilities, in.districts)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: assign districts")
	}
	if len(unassigned) > 0 {
		zap.L().Warn("facilities outside district boundaries, excluded", zap.Strings("ids", unassigned))
		facilities = dropByID(facilities, unassigned)
	}

	return p.newEstimator().Estimate(facilities)
}

// validateDistricts rejects malformed district boundaries up front. Unlike a
// bad facility this is not a per-record condition: districts must tile the
// study region, so one invalid boundary fails the run.
func validateDistricts(engine *geometry.Engine, districts []model.District) error {
	for i := range districts {
		if err := engine.Validate(districts[i].Boundary); err != nil {
			return eris.Wrapf(err, "pipeline: district %s boundary", districts[i].ID)
		}
	}
	return nil
}

// screenFacilities drops facilities whose geometry fails validation,
// recording one failure per dropped facility.
func screenFacilities(engine *geometry.Engine, facilities []model.Facility) ([]model.Facility, []model.FacilityFailure) {
	kept := make([]model.Facility, 0, len(facilities))
	var failures []model.FacilityFailure
	for i := range facilities {
		f := &facilities[i]
		if err := engine.Validate(f.Geometry); err != nil {
			failures = append(failures, model.FacilityFailure{
				FacilityID: f.ID,
				Stage:      model.FailureStageGeometry,
				Reason:     fmt.Sprintf("invalid geometry: %v", err),
			})
			zap.L().Warn("facility excluded, invalid geometry",
				zap.String("facility", f.ID), zap.Error(err))
			continue
		}
		kept = append(kept, *f)
	}
	return kept, failures
}

// dropByID removes the facilities with the given IDs, preserving order.
func dropByID(facilities []model.Facility, ids []string) []model.Facility {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := facilities[:0]
	for i := range facilities {
		if !drop[facilities[i].ID] {
			kept = append(kept, facilities[i])
		}
	}
	return kept
}

func (p *Pipeline) newEstimator() *capacity.Estimator {
	return capacity.NewSeededEstimator(capacity.Config{
		MinPlausible: p.cfg.Capacity.MinPlausible,
		MaxPlausible: p.cfg.Capacity.MaxPlausible,
		CityTotal:    p.cfg.Capacity.CityTotal,
		FactorLow:    p.cfg.Capacity.FactorLow,
		FactorHigh:   p.cfg.Capacity.FactorHigh,
	}, p.cfg.Capacity.Seed)
}

// BuildIsochrones fetches or restores the catchment for every facility,
// warming the cache without running the rest of the pipeline. Safe to repeat
// until the session budget is spent; cached catchments cost no requests.
func (p *Pipeline) BuildIsochrones(ctx context.Context) (*isochrone.Result, error) {
	in, err := p.loadInputs()
	if err != nil {
		return nil, err
	}

	facilities, invalid := screenFacilities(geometry.NewEngine(), in.facilities)

	builder := isochrone.NewBuilder(p.client, p.cache,
		isochrone.WithConcurrency(p.cfg.Routing.FetchConcurrent))
	built, err := builder.Build(ctx, facilities, float64(p.cfg.Routing.RadiusMeters))
	if err != nil {
		return nil, err
	}
	built.Failures = append(invalid, built.Failures...)
	return built, nil
}

// Budget exposes the routing session budget, nil in cache-only mode.
func (p *Pipeline) Budget() *routing.Budget {
	return p.budget
}

// Run executes the full pipeline for the configured demand year. Per-facility
// failures are collected in the result; only systemic errors abort the run.
func (p *Pipeline) Run(ctx context.Context) (*model.RunResult, error) {
	started := time.Now().UTC()

	in, err := p.loadInputs()
	if err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, p.cfg.Input.DemandYear)
	if err != nil {
		return nil, err
	}
	result := &model.RunResult{
		RunID:      run.ID,
		Facilities: len(in.facilities),
		StartedAt:  started,
	}

	engine := geometry.NewEngine()
	proj := geometry.BerlinProjection()

	fail := func(stage string, err error) (*model.RunResult, error) {
		zap.L().Error("run failed", zap.String("run_id", run.ID), zap.String("stage", stage), zap.Error(err))
		if serr := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed); serr != nil {
			zap.L().Warn("could not mark run failed", zap.Error(serr))
		}
		return nil, eris.Wrapf(err, "pipeline: %s", stage)
	}

	if err := validateDistricts(engine, in.districts); err != nil {
		return fail("validate districts", err)
	}
	facilities, invalid := screenFacilities(engine, in.facilities)
	result.Failures = append(result.Failures, invalid...)

	// Capacity estimation needs district assignments for the median model.
	facilities, unassigned, err := coverage.AssignDistricts(engine, facilities, in.districts)
	if err != nil {
		return fail("assign districts", err)
	}
	for _, id := range unassigned {
		result.Failures = append(result.Failures, model.FacilityFailure{
			FacilityID: id,
			Stage:      model.FailureStageGeometry,
			Reason:     "outside all district boundaries",
		})
	}
	facilities = dropByID(facilities, unassigned)

	facilities, report, err := p.newEstimator().Estimate(facilities)
	if err != nil {
		return fail("estimate capacities", err)
	}
	result.CalibrationFactor = report.CalibrationFactor
	result.EstimatedCount = report.ByRegression + report.ByMedian
	result.ClampedCount = report.Clamped

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRouting); err != nil {
		return fail("update status", err)
	}

	builder := isochrone.NewBuilder(p.client, p.cache,
		isochrone.WithConcurrency(p.cfg.Routing.FetchConcurrent))
	built, err := builder.Build(ctx, facilities, float64(p.cfg.Routing.RadiusMeters))
	if err != nil {
		return fail("build isochrones", err)
	}
	result.Catchments = len(built.Catchments)
	result.CachedCatchments = built.Cached
	result.Failures = append(result.Failures, built.Failures...)
	if p.budget != nil {
		result.RequestsUsed = p.budget.Used()
	}

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusResolving); err != nil {
		return fail("update status", err)
	}

	capacities := make(map[string]float64, len(facilities))
	for i := range facilities {
		if facilities[i].Capacity != nil {
			capacities[facilities[i].ID] = *facilities[i].Capacity
		}
	}
	boundary, err := studyArea(in.districts)
	if err != nil {
		return fail("build study area", err)
	}
	resolver := overlap.NewResolver(engine, proj, overlap.Config{EpsilonSqm: p.cfg.Overlap.EpsilonSqm})
	resolved, err := resolver.Resolve(built.Catchments, capacities, boundary)
	if err != nil {
		return fail("resolve overlaps", err)
	}
	result.Regions = len(resolved.Regions)
	result.Failures = append(result.Failures, resolved.Failures...)

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusAggregating); err != nil {
		return fail("update status", err)
	}

	aggregator := coverage.NewAggregator(engine, proj)
	districtCoverage, err := aggregator.Aggregate(resolved.Regions, in.districts, in.demand, p.cfg.Input.DemandYear)
	if err != nil {
		return fail("aggregate coverage", err)
	}

	if err := p.store.SaveFacilities(ctx, run.ID, facilities); err != nil {
		return fail("save facilities", err)
	}
	if err := p.store.SaveDistrictCoverage(ctx, run.ID, districtCoverage); err != nil {
		return fail("save coverage", err)
	}

	result.Status = model.RunStatusComplete
	result.Duration = time.Since(started)
	if err := p.store.UpdateRunResult(ctx, run.ID, result); err != nil {
		return fail("save result", err)
	}

	if p.cfg.Output.Dir != "" {
		if err := exportAll(p.cfg.Output.Dir, run.ID, result, facilities, resolved.Regions, districtCoverage, in.districts); err != nil {
			zap.L().Warn("export failed", zap.Error(err))
		}
	}

	zap.L().Info("run complete",
		zap.String("run_id", run.ID),
		zap.Int("facilities", result.Facilities),
		zap.Int("catchments", result.Catchments),
		zap.Int("regions", result.Regions),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// studyArea merges district boundaries into one multipolygon used to clip
// catchments.
func studyArea(districts []model.District) (geom.T, error) {
	if len(districts) == 0 {
		return nil, eris.New("pipeline: no districts loaded")
	}
	engine := geometry.NewEngine()

	union, err := engine.FromGeom(districts[0].Boundary)
	if err != nil {
		return nil, err
	}
	for _, d := range districts[1:] {
		g, err := engine.FromGeom(d.Boundary)
		if err != nil {
			union.Destroy()
			return nil, err
		}
		next := union.Union(g)
		union.Destroy()
		g.Destroy()
		union = next
	}
	defer union.Destroy()
	return engine.ToGeom(union)
}

// cacheOnlyClient stands in for the routing client when no API key is
// configured. Its quota error makes the builder stop requesting immediately
// while keeping every cached catchment.
type cacheOnlyClient struct{}

func (cacheOnlyClient) Isochrone(context.Context, float64, float64, float64) (geom.T, error) {
	return nil, &routing.Error{Code: "no_api_key", Message: "routing API key not configured", Err: routing.ErrQuotaExceeded}
}
