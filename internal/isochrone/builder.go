package isochrone

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/geometry"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/routing"
)

// RoutingClient is the routing surface the builder depends on.
type RoutingClient interface {
	Isochrone(ctx context.Context, lon, lat, radiusMeters float64) (geom.T, error)
}

// Result holds the outcome of one build pass.
type Result struct {
	Catchments []model.Catchment
	Failures   []model.FacilityFailure
	// Cached counts catchments served from the cache; Requested counts
	// facilities for which a routing call was attempted.
	Cached    int
	Requested int
}

// Builder produces one catchment per facility, cache-first, skipping and
// recording facilities whose routing failed. Processing order is input
// order so partial-failure runs are reproducible and resumable.
type Builder struct {
	client      RoutingClient
	cache       *Cache
	concurrency int
}

// Option configures the Builder.
type Option func(*Builder)

// WithConcurrency bounds parallel routing calls. Values above the routing
// per-minute cap only add idle workers.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBuilder creates a Builder over the given client and cache.
func NewBuilder(client RoutingClient, cache *Cache, opts ...Option) *Builder {
	b := &Builder{client: client, cache: cache, concurrency: 4}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// origin returns the routing origin for a facility: the point itself, or
// the footprint bounding-box center for polygon facilities.
func origin(f *model.Facility) (lon, lat float64) {
	if p, ok := f.Geometry.(*geom.Point); ok {
		return p.X(), p.Y()
	}
	return geometry.BoundsCenter(f.Geometry)
}

// Build produces catchments for all facilities at the given radius. Cached
// entries are served without network calls; a warm cache issues zero
// requests. Routing failures are recorded per facility. Once the session
// budget is exhausted remaining uncached facilities fail fast, keeping all
// catchments resolved so far so a later run can resume.
func (b *Builder) Build(ctx context.Context, facilities []model.Facility, radiusMeters float64) (*Result, error) {
	type slot struct {
		catchment *model.Catchment
		failure   *model.FacilityFailure
	}
	slots := make([]slot, len(facilities))

	// Cache pass, in input order.
	var misses []int
	res := &Result{}
	for i := range facilities {
		f := &facilities[i]
		g, ok, err := b.cache.Get(ctx, f.ID, radiusMeters)
		if err != nil {
			return nil, eris.Wrapf(err, "isochrone: cache lookup for %s", f.ID)
		}
		if ok {
			slots[i].catchment = &model.Catchment{FacilityID: f.ID, RadiusMeters: radiusMeters, Geometry: g}
			res.Cached++
			continue
		}
		misses = append(misses, i)
	}

	// Routing pass over cache misses, bounded concurrency. The routing
	// client's own budget and pacing stay authoritative; quotaHit only
	// short-circuits the queue once the budget is known to be spent.
	var quotaHit atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, i := range misses {
		f := &facilities[i]
		s := &slots[i]
		res.Requested++
		g.Go(func() error {
			if quotaHit.Load() {
				s.failure = &model.FacilityFailure{
					FacilityID: f.ID,
					Stage:      model.FailureStageRouting,
					Reason:     "session request budget exhausted",
				}
				return nil
			}

			lon, lat := origin(f)
			poly, err := b.client.Isochrone(gctx, lon, lat, radiusMeters)
			if err != nil {
				if eris.Is(err, routing.ErrQuotaExceeded) {
					quotaHit.Store(true)
				}
				zap.L().Warn("isochrone request failed",
					zap.String("facility", f.ID),
					zap.Error(err),
				)
				s.failure = &model.FacilityFailure{
					FacilityID: f.ID,
					Stage:      model.FailureStageRouting,
					Reason:     err.Error(),
				}
				return nil
			}

			if err := b.cache.Put(gctx, f.ID, radiusMeters, poly); err != nil {
				// A failed cache write costs a repeat request next run, not
				// this run's result.
				zap.L().Warn("isochrone cache write failed",
					zap.String("facility", f.ID),
					zap.Error(err),
				)
			}
			s.catchment = &model.Catchment{FacilityID: f.ID, RadiusMeters: radiusMeters, Geometry: poly}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "isochrone: build")
	}

	for i := range slots {
		switch {
		case slots[i].catchment != nil:
			res.Catchments = append(res.Catchments, *slots[i].catchment)
		case slots[i].failure != nil:
			res.Failures = append(res.Failures, *slots[i].failure)
		}
	}

	zap.L().Info("isochrone build complete",
		zap.Int("facilities", len(facilities)),
		zap.Int("cached", res.Cached),
		zap.Int("requested", res.Requested),
		zap.Int("failed", len(res.Failures)),
	)
	return res, nil
}
