// Package routing wraps the OpenRouteService isochrone API behind a session
// request budget and a per-minute rate limit.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/resilience"
)

const (
	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// profile is fixed: the pipeline only models pedestrian reachability.
	profile = "foot-walking"

	// DefaultSessionCap matches the free-tier daily isochrone allowance.
	DefaultSessionCap = 450

	// DefaultPerMinuteCap matches the free-tier rate limit.
	DefaultPerMinuteCap = 11

	defaultTimeout = 30 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client requests walking-distance isochrones, enforcing both a session
// budget and a request rate. Safe for concurrent callers.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	limiter    *rate.Limiter
	budget     *Budget
	retry      resilience.RetryConfig
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc HTTPDoer) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request attempt. It applies to the default HTTP
// client and is ignored after WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if hc, ok := c.httpClient.(*http.Client); ok && d > 0 {
			hc.Timeout = d
		}
	}
}

// WithPerMinuteCap sets the paced request rate. Requests beyond the cap
// block until the next allowed slot.
func WithPerMinuteCap(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

// WithLimiter injects a rate limiter directly, used by tests.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBudget injects a session budget, shared across callers.
func WithBudget(b *Budget) Option {
	return func(c *Client) { c.budget = b }
}

// WithRetryConfig overrides the retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a routing client with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/DefaultPerMinuteCap), 1),
		budget:     NewBudget(DefaultSessionCap),
		retry:      resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("openrouteservice", "isochrone")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Budget exposes the session budget for accounting in run reports.
func (c *Client) Budget() *Budget {
	return c.budget
}

// isochroneRequest is the ORS isochrone API request body.
type isochroneRequest struct {
	Locations  [][]float64 `json:"locations"`
	Range      []float64   `json:"range"`
	RangeType  string      `json:"range_type"`
	Attributes []string    `json:"attributes,omitempty"`
}

// Isochrone requests the walking-distance polygon around a point. The
// returned geometry is EPSG:4326. Failures unwrap to ErrQuotaExceeded or
// ErrUnavailable.
func (c *Client) Isochrone(ctx context.Context, lon, lat, radiusMeters float64) (geom.T, error) {
	poly, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (geom.T, error) {
		return c.request(ctx, lon, lat, radiusMeters)
	})
	if err == nil {
		return poly, nil
	}
	if eris.Is(err, ErrQuotaExceeded) {
		return nil, err
	}
	var rerr *Error
	if eris.As(err, &rerr) {
		return nil, err
	}
	return nil, &Error{Code: "request_failed", Message: err.Error(), Err: ErrUnavailable}
}

// request performs a single attempt. Each attempt consumes budget and waits
// for a rate slot, so retries are paced and bounded like first tries.
func (c *Client) request(ctx context.Context, lon, lat, radiusMeters float64) (geom.T, error) {
	if !c.budget.Take() {
		return nil, &Error{Code: "quota", Message: "session request budget exhausted", Err: ErrQuotaExceeded}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "routing: rate limit wait")
	}

	body, err := json.Marshal(isochroneRequest{
		Locations:  [][]float64{{lon, lat}}, // ORS uses [lon, lat] order
		Range:      []float64{radiusMeters},
		RangeType:  "distance",
		Attributes: []string{"area"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "routing: marshal request")
	}

	url := fmt.Sprintf("%s/v2/isochrones/%s", c.baseURL, profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "routing: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/geo+json")

	zap.L().Debug("requesting isochrone",
		zap.Float64("lon", lon),
		zap.Float64("lat", lat),
		zap.Float64("radius_m", radiusMeters),
		zap.Int("budget_used", c.budget.Used()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "routing: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "routing: read body")
	}

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("routing: status %d", resp.StatusCode), resp.StatusCode)
		}
		return nil, &Error{
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
			Message: fmt.Sprintf("routing provider returned status %d", resp.StatusCode),
			Err:     ErrUnavailable,
		}
	}

	return parseIsochrone(respBody)
}

// parseIsochrone extracts the polygon from an ORS GeoJSON response and
// rejects degenerate results.
func parseIsochrone(body []byte) (geom.T, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, &Error{Code: "bad_response", Message: "unparseable isochrone response", Err: ErrUnavailable}
	}
	if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
		return nil, &Error{Code: "empty_response", Message: "no isochrone feature returned", Err: ErrUnavailable}
	}

	g := fc.Features[0].Geometry
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
	default:
		return nil, &Error{Code: "bad_geometry", Message: fmt.Sprintf("unexpected geometry type %T", g), Err: ErrUnavailable}
	}

	b := g.Bounds()
	if len(g.FlatCoords()) < 8 || b.Max(0) <= b.Min(0) || b.Max(1) <= b.Min(1) {
		return nil, &Error{Code: "degenerate", Message: "degenerate isochrone polygon", Err: ErrUnavailable}
	}

	return g, nil
}
