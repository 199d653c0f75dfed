// Package config loads the wxgrid configuration: regions, reference grids,
// providers and service settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"go.ngs.io/wxgrid/internal/domain"
)

// DefaultPath is tried when no configuration file is given.
const DefaultPath = "configs/config.yaml"

var validate = validator.New()

// Config is the full application configuration.
type Config struct {
	Regions        map[string]domain.Bounds  `yaml:"regions"`
	ReferenceGrids map[string]GridSpec       `yaml:"reference_grids" validate:"dive"`
	Providers      map[string]ProviderConfig `yaml:"providers" validate:"dive"`
	Defaults       Defaults                  `yaml:"defaults"`
	CanonicalUnits map[string]string         `yaml:"canonical_units"`
	Cache          CacheConfig               `yaml:"cache"`
	Server         ServerConfig              `yaml:"server"`
	Prefetch       PrefetchConfig            `yaml:"prefetch"`
	Log            LogConfig                 `yaml:"log"`
	DataDir        string                    `yaml:"data_dir" validate:"required"`
}

// GridSpec describes a reference grid built over a region.
type GridSpec struct {
	Resolution  float64 `yaml:"resolution" validate:"gt=0"`
	Description string  `yaml:"description"`
	Convention  string  `yaml:"convention" validate:"omitempty,oneof=center edge"`
	// Region is used when a grid is requested without one.
	Region string `yaml:"region"`
}

// ProviderConfig configures one remote data source.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type" validate:"required,oneof=opendap zarr"`
	BaseURL string `yaml:"base_url" validate:"required"`
	Enabled *bool  `yaml:"enabled"`
	// Variables maps standard names (t2m) to provider names (tmp2m).
	Variables     map[string]string `yaml:"variables" validate:"required,min=1"`
	ForecastHours []int             `yaml:"forecast_hours"`
	Cycles        []string          `yaml:"cycles"`
	// TimeStepHours converts a forecast hour into a time index.
	TimeStepHours   int           `yaml:"time_step_hours" validate:"gte=0"`
	AvailabilityLag time.Duration `yaml:"availability_lag"`
	LatName         string        `yaml:"lat_name"`
	LonName         string        `yaml:"lon_name"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0"`
}

// IsEnabled reports whether the provider may be used; providers are
// enabled unless configured otherwise.
func (p ProviderConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// Defaults are used when a command omits the corresponding flag.
type Defaults struct {
	Provider      string `yaml:"provider"`
	ReferenceGrid string `yaml:"reference_grid"`
	Region        string `yaml:"region"`
	Method        string `yaml:"method"`
	Variable      string `yaml:"variable"`
}

// CacheConfig controls the regridding weight cache.
type CacheConfig struct {
	// WeightsDir enables on-disk weight files when set.
	WeightsDir string `yaml:"weights_dir"`
}

// ServerConfig configures `wxgrid serve`.
type ServerConfig struct {
	Port               string        `yaml:"port" validate:"required,numeric"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// PrefetchConfig schedules periodic downloads while serving.
type PrefetchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Providers     []string      `yaml:"providers"`
	Variables     []string      `yaml:"variables"`
	ForecastHours []int         `yaml:"forecast_hours"`
	Region        string        `yaml:"region"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

// Load reads the configuration at path. An empty path tries DefaultPath and
// falls back to the built-in defaults when it does not exist. A .env file
// in the working directory and WXGRID_* variables are applied on top.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	var cfg *Config
	switch {
	case err == nil:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.fillDefaults()
		log.Debug().Str("path", path).Msg("configuration loaded")
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = Default()
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults completes a file-based configuration with built-in values
// for every section the file leaves empty.
func (c *Config) fillDefaults() {
	d := Default()
	if len(c.Regions) == 0 {
		c.Regions = d.Regions
	}
	if len(c.ReferenceGrids) == 0 {
		c.ReferenceGrids = d.ReferenceGrids
	}
	if len(c.Providers) == 0 {
		c.Providers = d.Providers
	}
	if len(c.CanonicalUnits) == 0 {
		c.CanonicalUnits = d.CanonicalUnits
	}
	if c.Defaults.Method == "" {
		c.Defaults.Method = d.Defaults.Method
	}
	if c.Defaults.ReferenceGrid == "" {
		c.Defaults.ReferenceGrid = d.Defaults.ReferenceGrid
	}
	if c.Defaults.Region == "" {
		c.Defaults.Region = d.Defaults.Region
	}
	if c.Defaults.Provider == "" {
		c.Defaults.Provider = d.Defaults.Provider
	}
	if c.Server.Port == "" {
		c.Server.Port = d.Server.Port
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = d.Server.RequestTimeout
	}
	if c.Prefetch.Interval == 0 {
		c.Prefetch.Interval = d.Prefetch.Interval
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	for name, p := range c.Providers {
		if p.Name == "" {
			p.Name = name
		}
		if len(p.Cycles) == 0 {
			p.Cycles = []string{"00", "06", "12", "18"}
		}
		if p.AvailabilityLag == 0 {
			p.AvailabilityLag = 3 * time.Hour
		}
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
		c.Providers[name] = p
	}
}

// applyEnv overrides settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("WXGRID_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WXGRID_WEIGHTS_DIR"); v != "" {
		c.Cache.WeightsDir = v
	}
	if v := getEnv("WXGRID_PORT", os.Getenv("PORT")); v != "" {
		c.Server.Port = v
	}
	if v := getEnv("WXGRID_CORS_ALLOWED_ORIGINS", os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("WXGRID_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks struct constraints, then the cross references between
// sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, b := range c.Regions {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("region %s: %w", name, err)
		}
	}
	for name, g := range c.ReferenceGrids {
		if g.Region != "" {
			if _, ok := c.Regions[g.Region]; !ok {
				return fmt.Errorf("reference grid %s: unknown region %q", name, g.Region)
			}
		}
	}
	if d := c.Defaults.Region; d != "" {
		if _, ok := c.Regions[d]; !ok {
			return fmt.Errorf("defaults: unknown region %q", d)
		}
	}
	if d := c.Defaults.ReferenceGrid; d != "" {
		if _, ok := c.ReferenceGrids[d]; !ok {
			return fmt.Errorf("defaults: unknown reference grid %q", d)
		}
	}
	for _, name := range c.Prefetch.Providers {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("prefetch: unknown provider %q", name)
		}
	}
	return nil
}

// Region resolves a named region; an empty name selects the default.
func (c *Config) Region(name string) (domain.Region, error) {
	if name == "" {
		name = c.Defaults.Region
	}
	b, ok := c.Regions[name]
	if !ok {
		return domain.Region{}, domain.NewError(domain.ErrInvalidGrid,
			"unknown region %q (available: %s)", name, strings.Join(sortedKeys(c.Regions), ", "))
	}
	return domain.Region{Name: name, Bounds: b}, nil
}

// Grid builds the named reference grid over a region. An empty region
// selects the grid's own region, then the default region.
func (c *Config) Grid(name, region string) (*domain.GridDefinition, error) {
	if name == "" {
		name = c.Defaults.ReferenceGrid
	}
	gs, ok := c.ReferenceGrids[name]
	if !ok {
		return nil, domain.NewError(domain.ErrInvalidGrid,
			"unknown reference grid %q (available: %s)", name, strings.Join(sortedKeys(c.ReferenceGrids), ", "))
	}
	if region == "" {
		region = gs.Region
	}
	r, err := c.Region(region)
	if err != nil {
		return nil, err
	}
	return buildGrid(gs, r.Bounds)
}

// GridOver builds the named reference grid over explicit bounds.
func (c *Config) GridOver(name string, b domain.Bounds) (*domain.GridDefinition, error) {
	if name == "" {
		name = c.Defaults.ReferenceGrid
	}
	gs, ok := c.ReferenceGrids[name]
	if !ok {
		return nil, domain.NewError(domain.ErrInvalidGrid,
			"unknown reference grid %q (available: %s)", name, strings.Join(sortedKeys(c.ReferenceGrids), ", "))
	}
	return buildGrid(gs, b)
}

func buildGrid(gs GridSpec, b domain.Bounds) (*domain.GridDefinition, error) {
	g, err := domain.BuildGrid(b, gs.Resolution)
	if err != nil {
		return nil, err
	}
	if gs.Convention == domain.CellEdge.String() {
		return domain.NewGrid(g.Lats(), g.Lons(), domain.CellEdge)
	}
	return g, nil
}

// Provider returns a provider's configuration by name.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	if name == "" {
		name = c.Defaults.Provider
	}
	p, ok := c.Providers[name]
	if !ok {
		var enabled []string
		for _, k := range sortedKeys(c.Providers) {
			if c.Providers[k].IsEnabled() {
				enabled = append(enabled, k)
			}
		}
		return ProviderConfig{}, domain.NewError(domain.ErrProvider,
			"provider %q not found (available: %s)", name, strings.Join(enabled, ", "))
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// CanonicalUnit returns the unit fields of a variable are converted to, or
// "" when none is configured.
func (c *Config) CanonicalUnit(variable string) string {
	return c.CanonicalUnits[variable]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
