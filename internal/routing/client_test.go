package routing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"golang.org/x/time/rate"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/resilience"
)

const isochroneResponse = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {"value": 500},
		"geometry": {
			"type": "Polygon",
			"coordinates": [[[13.0, 52.0], [13.01, 52.0], [13.01, 52.01], [13.0, 52.01], [13.0, 52.0]]]
		}
	}]
}`

func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestClient_IsochroneSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/isochrones/foot-walking", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"range_type":"distance"`)
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = io.WriteString(w, isochroneResponse)
	}))
	defer srv.Close()

	c := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithLimiter(newTestLimiter()),
		WithRetryConfig(fastRetry()),
	)

	g, err := c.Isochrone(context.Background(), 13.005, 52.005, 500)
	require.NoError(t, err)
	_, ok := g.(*geom.Polygon)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Budget().Used())
}

func TestClient_DegeneratePolygonIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"type": "FeatureCollection",
			"features": [{
				"type": "Feature",
				"properties": {},
				"geometry": {"type": "Polygon", "coordinates": [[[13.0, 52.0], [13.0, 52.0], [13.0, 52.0], [13.0, 52.0]]]}
			}]
		}`)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithLimiter(newTestLimiter()), WithRetryConfig(fastRetry()))

	_, err := c.Isochrone(context.Background(), 13, 52, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_EmptyFeatureCollectionIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"type": "FeatureCollection", "features": []}`)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithLimiter(newTestLimiter()), WithRetryConfig(fastRetry()))

	_, err := c.Isochrone(context.Background(), 13, 52, 500)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, isochroneResponse)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithLimiter(newTestLimiter()), WithRetryConfig(fastRetry()))

	g, err := c.Isochrone(context.Background(), 13, 52, 500)
	require.NoError(t, err)
	assert.NotNil(t, g)
	assert.Equal(t, int32(3), calls.Load())
	// Every attempt consumes session budget.
	assert.Equal(t, 3, c.Budget().Used())
}

func TestClient_PermanentHTTPErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithLimiter(newTestLimiter()), WithRetryConfig(fastRetry()))

	_, err := c.Isochrone(context.Background(), 13, 52, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_QuotaExceeded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, isochroneResponse)
	}))
	defer srv.Close()

	c := NewClient("k",
		WithBaseURL(srv.URL),
		WithLimiter(newTestLimiter()),
		WithRetryConfig(fastRetry()),
		WithBudget(NewBudget(2)),
	)

	ctx := context.Background()
	_, err := c.Isochrone(ctx, 13, 52, 500)
	require.NoError(t, err)
	_, err = c.Isochrone(ctx, 13.1, 52.1, 500)
	require.NoError(t, err)

	// Third call fails fast without reaching the service.
	_, err = c.Isochrone(ctx, 13.2, 52.2, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, c.Budget().Remaining())
}

func TestClient_WithTimeoutAppliesToDefaultHTTPClient(t *testing.T) {
	c := NewClient("test-key", WithTimeout(5*time.Second))

	hc, ok := c.httpClient.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, hc.Timeout)

	// Non-positive values keep the default.
	c = NewClient("test-key", WithTimeout(0))
	hc, ok = c.httpClient.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, defaultTimeout, hc.Timeout)
}

func TestClient_RateLimiterPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, isochroneResponse)
	}))
	defer srv.Close()

	interval := 30 * time.Millisecond
	c := NewClient("k",
		WithBaseURL(srv.URL),
		WithLimiter(rate.NewLimiter(rate.Every(interval), 1)),
		WithRetryConfig(fastRetry()),
	)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := c.Isochrone(context.Background(), 13, 52, 500)
		require.NoError(t, err)
	}
	// First request is immediate, the remaining three wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 3*interval)
}

func TestBudget_ConcurrentTake(t *testing.T) {
	b := NewBudget(10)
	done := make(chan bool)
	for i := 0; i < 25; i++ {
		go func() { done <- b.Take() }()
	}
	granted := 0
	for i := 0; i < 25; i++ {
		if <-done {
			granted++
		}
	}
	assert.Equal(t, 10, granted)
	assert.Equal(t, 10, b.Used())
}
