// Package config loads the pipeline configuration from an optional YAML file
// and NO2_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

const envPrefix = "NO2"

// Fetch sources.
const (
	SourceLocal = "local"
	SourceHTTP  = "http"
)

// Config is the complete runtime configuration.
type Config struct {
	Region    string           `mapstructure:"region"`
	Variable  string           `mapstructure:"variable"`
	Extent    domain.Extent    `mapstructure:"extent"`
	Divisions domain.Divisions `mapstructure:"divisions"`
	Precision int              `mapstructure:"precision"`
	Scale     ScaleConfig      `mapstructure:"scale"`
	Fetch     FetchConfig      `mapstructure:"fetch"`
	Interp    InterpConfig     `mapstructure:"interp"`
	Output    OutputConfig     `mapstructure:"output"`
	Catalog   CatalogConfig    `mapstructure:"catalog"`
	Log       LogConfig        `mapstructure:"log"`
	Server    ServerConfig     `mapstructure:"server"`
}

// ScaleConfig is the unit conversion applied before persistence.
type ScaleConfig struct {
	Factor   float64 `mapstructure:"factor"`
	Units    string  `mapstructure:"units"`
	LongName string  `mapstructure:"long_name"`
}

// FetchConfig selects and tunes the tile fetcher.
type FetchConfig struct {
	Source      string        `mapstructure:"source"`
	Dir         string        `mapstructure:"dir"`
	URLTemplate string        `mapstructure:"url_template"`
	Workers     int           `mapstructure:"workers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// InterpConfig tunes the cubic estimator. A MaxExtrapolation of zero keeps
// the cubic variant inside the linear hull.
type InterpConfig struct {
	Neighbors        int     `mapstructure:"neighbors"`
	MaxExtrapolation float64 `mapstructure:"max_extrapolation"`
}

// OutputConfig is where artifacts are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// CatalogConfig locates the run catalog. An empty path disables it.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the operations API.
type ServerConfig struct {
	Port               int      `mapstructure:"port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", "Indonesia")
	v.SetDefault("variable", "NO2")
	v.SetDefault("extent.west", 95.0)
	v.SetDefault("extent.east", 141.0)
	v.SetDefault("extent.south", -11.0)
	v.SetDefault("extent.north", 6.0)
	v.SetDefault("divisions.x", 5)
	v.SetDefault("divisions.y", 2)
	v.SetDefault("precision", domain.DefaultPrecision)
	v.SetDefault("scale.factor", 6.022e19)
	v.SetDefault("scale.units", "molecules/cm^2")
	v.SetDefault("scale.long_name", "Tropospheric vertical column of Nitrogen Dioxide")
	v.SetDefault("fetch.source", SourceLocal)
	v.SetDefault("fetch.dir", "./data/tiles")
	v.SetDefault("fetch.url_template", "")
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.timeout", 10*time.Minute)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("interp.neighbors", 12)
	v.SetDefault("interp.max_extrapolation", 0.05)
	v.SetDefault("output.dir", "./data/output")
	v.SetDefault("catalog.path", "./data/catalog.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{})
}

// New returns a viper instance with defaults and NO2_* environment binding.
// NO2_EXTENT_WEST overrides extent.west and so on.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads path (if not empty), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	// A comma-separated env value arrives as a single element.
	if len(cfg.Server.CORSAllowedOrigins) == 1 && strings.Contains(cfg.Server.CORSAllowedOrigins[0], ",") {
		cfg.Server.CORSAllowedOrigins = strings.Split(cfg.Server.CORSAllowedOrigins[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Extent.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Divisions.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Region == "" {
		errs = append(errs, fmt.Errorf("%w: region is required", domain.ErrInvalidConfiguration))
	}
	if c.Variable == "" {
		errs = append(errs, fmt.Errorf("%w: variable is required", domain.ErrInvalidConfiguration))
	}
	if c.Precision < 1 {
		errs = append(errs, fmt.Errorf("%w: precision must be at least 1 decimal", domain.ErrInvalidConfiguration))
	}
	if c.Scale.Factor <= 0 {
		errs = append(errs, fmt.Errorf("%w: scale.factor must be positive", domain.ErrInvalidConfiguration))
	}
	switch c.Fetch.Source {
	case SourceLocal:
	case SourceHTTP:
		if c.Fetch.URLTemplate == "" {
			errs = append(errs, fmt.Errorf("%w: fetch.url_template is required for the http source", domain.ErrInvalidConfiguration))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown fetch.source %q", domain.ErrInvalidConfiguration, c.Fetch.Source))
	}
	if c.Fetch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: fetch.workers must be positive", domain.ErrInvalidConfiguration))
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: fetch.max_retries must not be negative", domain.ErrInvalidConfiguration))
	}
	if c.Interp.Neighbors < 3 {
		errs = append(errs, fmt.Errorf("%w: interp.neighbors must be at least 3", domain.ErrInvalidConfiguration))
	}
	if c.Interp.MaxExtrapolation < 0 {
		errs = append(errs, fmt.Errorf("%w: interp.max_extrapolation must not be negative", domain.ErrInvalidConfiguration))
	}
	if c.Output.Dir == "" {
		errs = append(errs, fmt.Errorf("%w: output.dir is required", domain.ErrInvalidConfiguration))
	}
	return errors.Join(errs...)
}
