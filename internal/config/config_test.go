package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.openrouteservice.org", cfg.Routing.BaseURL)
	assert.Equal(t, 450, cfg.Routing.SessionCap)
	assert.Equal(t, 11, cfg.Routing.PerMinuteCap)
	assert.Equal(t, 500, cfg.Routing.RadiusMeters)
	assert.Equal(t, 30, cfg.Routing.TimeoutSecs)
	assert.Equal(t, 3, cfg.Routing.RetryAttempts)
	assert.Equal(t, 4, cfg.Routing.FetchConcurrent)
	assert.InDelta(t, 10, cfg.Capacity.MinPlausible, 0.001)
	assert.InDelta(t, 200, cfg.Capacity.MaxPlausible, 0.001)
	assert.Equal(t, int64(42), cfg.Capacity.Seed)
	assert.InDelta(t, 0.85, cfg.Capacity.FactorLow, 0.001)
	assert.InDelta(t, 1.15, cfg.Capacity.FactorHigh, 0.001)
	assert.InDelta(t, 1.0, cfg.Overlap.EpsilonSqm, 0.001)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "isochrone_cache.db", cfg.Cache.Path)
	assert.Equal(t, 2025, cfg.Input.DemandYear)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
routing:
  radius_meters: 750
store:
  driver: postgres
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 750, cfg.Routing.RadiusMeters)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 450, cfg.Routing.SessionCap)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("KITAMAP_STORE_DRIVER", "sqlite")
	t.Setenv("KITAMAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("KITAMAP_ROUTING_API_KEY", "ors-test-key")
	t.Setenv("KITAMAP_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ors-test-key", cfg.Routing.APIKey)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Routing.RadiusMeters = 500
	cfg.Routing.PerMinuteCap = 11
	cfg.Capacity.MinPlausible = 10
	cfg.Capacity.MaxPlausible = 200
	cfg.Capacity.FactorLow = 0.85
	cfg.Capacity.FactorHigh = 1.15
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAnalyze_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.FacilitiesGeoJSON = "facilities.geojson"
	cfg.Input.DistrictsShapefile = "districts.shp"
	cfg.Input.DemandJSON = "demand.json"

	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateAnalyze_MissingInputs(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("analyze")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "input.facilities_geojson is required")
	assert.Contains(t, err.Error(), "input.districts_shapefile is required")
	assert.Contains(t, err.Error(), "input.demand_json is required")
}

func TestValidateIsochrones_OnlyNeedsFacilities(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.FacilitiesGeoJSON = "facilities.geojson"

	assert.NoError(t, cfg.Validate("isochrones"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.FacilitiesGeoJSON = "facilities.geojson"
	cfg.Input.DistrictsShapefile = "districts.shp"
	cfg.Input.DemandJSON = "demand.json"
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRoutingBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.FacilitiesGeoJSON = "facilities.geojson"

	cfg.Routing.RadiusMeters = 0
	err := cfg.Validate("isochrones")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "routing.radius_meters must be > 0")

	cfg.Routing.RadiusMeters = 500
	cfg.Routing.PerMinuteCap = 0
	err = cfg.Validate("isochrones")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "routing.per_minute_cap must be >= 1")
}

func TestValidateCapacityWindow(t *testing.T) {
	cfg := validDefaults()

	cfg.Capacity.MinPlausible = 300
	err := cfg.Validate("status")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "min_plausible")

	cfg.Capacity.MinPlausible = 10
	cfg.Capacity.FactorLow = 1.5
	err = cfg.Validate("status")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "factor_low")
}
