// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Routing  RoutingConfig  `yaml:"routing" mapstructure:"routing"`
	Capacity CapacityConfig `yaml:"capacity" mapstructure:"capacity"`
	Overlap  OverlapConfig  `yaml:"overlap" mapstructure:"overlap"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RoutingConfig configures the OpenRouteService isochrone client.
type RoutingConfig struct {
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	SessionCap      int    `yaml:"session_cap" mapstructure:"session_cap"`
	PerMinuteCap    int    `yaml:"per_minute_cap" mapstructure:"per_minute_cap"`
	RadiusMeters    int    `yaml:"radius_meters" mapstructure:"radius_meters"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts   int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	FetchConcurrent int    `yaml:"fetch_concurrent" mapstructure:"fetch_concurrent"`
}

// CapacityConfig configures capacity imputation and calibration.
type CapacityConfig struct {
	MinPlausible float64 `yaml:"min_plausible" mapstructure:"min_plausible"`
	MaxPlausible float64 `yaml:"max_plausible" mapstructure:"max_plausible"`
	// CityTotal is the externally supplied city-wide capacity total that all
	// values are rescaled against.
	CityTotal float64 `yaml:"city_total" mapstructure:"city_total"`
	// Seed drives the point-facility imputation draws; fixed seed means
	// reproducible estimates.
	Seed int64 `yaml:"seed" mapstructure:"seed"`
	// FactorLow/FactorHigh bound the multiplicative band applied to district
	// medians for point facilities.
	FactorLow  float64 `yaml:"factor_low" mapstructure:"factor_low"`
	FactorHigh float64 `yaml:"factor_high" mapstructure:"factor_high"`
}

// OverlapConfig configures overlap resolution.
type OverlapConfig struct {
	// EpsilonSqm is the minimum area for an overlap region; smaller pieces
	// are dropped as slivers.
	EpsilonSqm float64 `yaml:"epsilon_sqm" mapstructure:"epsilon_sqm"`
}

// StoreConfig configures the results store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CacheConfig configures the isochrone cache.
type CacheConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// InputConfig points at the datasets handed over by the ingestion stage.
type InputConfig struct {
	FacilitiesGeoJSON  string `yaml:"facilities_geojson" mapstructure:"facilities_geojson"`
	DistrictsShapefile string `yaml:"districts_shapefile" mapstructure:"districts_shapefile"`
	CapacitiesXLSX     string `yaml:"capacities_xlsx" mapstructure:"capacities_xlsx"`
	DemandJSON         string `yaml:"demand_json" mapstructure:"demand_json"`
	DemandYear         int    `yaml:"demand_year" mapstructure:"demand_year"`
}

// OutputConfig configures result exports for the visualization stage.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the results server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KITAMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("routing.base_url", "https://api.openrouteservice.org")
	v.SetDefault("routing.session_cap", 450)
	v.SetDefault("routing.per_minute_cap", 11)
	v.SetDefault("routing.radius_meters", 500)
	v.SetDefault("routing.timeout_secs", 30)
	v.SetDefault("routing.retry_attempts", 3)
	v.SetDefault("routing.retry_backoff_ms", 500)
	v.SetDefault("routing.fetch_concurrent", 4)
	v.SetDefault("capacity.min_plausible", 10)
	v.SetDefault("capacity.max_plausible", 200)
	v.SetDefault("capacity.city_total", 0)
	v.SetDefault("capacity.seed", 42)
	v.SetDefault("capacity.factor_low", 0.85)
	v.SetDefault("capacity.factor_high", 1.15)
	v.SetDefault("overlap.epsilon_sqm", 1.0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "kitamap.db")
	v.SetDefault("cache.path", "isochrone_cache.db")
	v.SetDefault("input.demand_year", 2025)
	v.SetDefault("output.dir", "output")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes: "analyze" (full pipeline run), "isochrones" (routing stage only),
// "serve" (HTTP server), "status" (cache inspection).
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Routing.RadiusMeters <= 0 {
		problems = append(problems, "routing.radius_meters must be > 0")
	}
	if c.Routing.PerMinuteCap < 1 {
		problems = append(problems, "routing.per_minute_cap must be >= 1")
	}
	if c.Capacity.MinPlausible > c.Capacity.MaxPlausible {
		problems = append(problems, "capacity.min_plausible must not exceed capacity.max_plausible")
	}
	if c.Capacity.FactorLow <= 0 || c.Capacity.FactorLow > c.Capacity.FactorHigh {
		problems = append(problems, "capacity.factor_low must be > 0 and <= capacity.factor_high")
	}

	switch mode {
	case "analyze":
		problems = append(problems, c.validateInputs()...)
	case "isochrones":
		if c.Input.FacilitiesGeoJSON == "" {
			problems = append(problems, "input.facilities_geojson is required")
		}
	case "serve":
		problems = append(problems, c.validateInputs()...)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateInputs() []string {
	var problems []string
	if c.Input.FacilitiesGeoJSON == "" {
		problems = append(problems, "input.facilities_geojson is required")
	}
	if c.Input.DistrictsShapefile == "" {
		problems = append(problems, "input.districts_shapefile is required")
	}
	if c.Input.DemandJSON == "" {
		problems = append(problems, "input.demand_json is required")
	}
	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
