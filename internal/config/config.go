// Package config loads the run configuration and region catalog from
// YAML, with embedded defaults covering the documented Amazon survey
// regions.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skookum/geocascade/internal/types"
)

// ErrConfiguration marks invalid startup configuration. These are
// always fatal before any work begins.
var ErrConfiguration = errors.New("configuration error")

// Config is the full run configuration, loadable from a YAML file.
// Zero values fall back to the defaults from DefaultConfig.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	OutputDir    string `yaml:"output_dir"`

	// Simulate swaps the interpreter-backed analyzer for the scripted
	// one; no external calls are made.
	Simulate bool `yaml:"simulate"`

	Interpreter InterpreterConfig `yaml:"interpreter"`
	Cascade     CascadeConfig     `yaml:"cascade"`
	Compliance  ComplianceConfig  `yaml:"compliance"`
	Imagery     ImageryConfig     `yaml:"imagery"`

	// Regions is the full catalog; ActiveRegions selects which ids a
	// run actually cascades (empty means every high-priority region).
	Regions       []RegionConfig `yaml:"regions"`
	ActiveRegions []string       `yaml:"active_regions"`
}

// InterpreterConfig tunes the interpreter client.
type InterpreterConfig struct {
	Model              string  `yaml:"model"`
	MaxRetries         int     `yaml:"max_retries"`
	Timeout            string  `yaml:"timeout"` // duration string like "120s", "2m"
	CallsPerMinute     float64 `yaml:"calls_per_minute"`
	MaxConcurrentCalls int     `yaml:"max_concurrent_calls"`
}

// TimeoutDuration parses the timeout string.
func (i InterpreterConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(i.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid interpreter timeout %q: %w", i.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interpreter timeout must be positive (got %s)", d)
	}
	return d, nil
}

// CascadeConfig bounds the cascade's fan-out. Area and leverage caps
// are per region; concurrency limits apply to areas within a tier and
// regions within a run respectively.
type CascadeConfig struct {
	PromotionThreshold float64 `yaml:"promotion_threshold"`
	MaxZoneAreas       int     `yaml:"max_zone_areas"`
	MaxSiteAreas       int     `yaml:"max_site_areas"`
	MaxLeveragePasses  int     `yaml:"max_leverage_passes"`
	AreaConcurrency    int     `yaml:"area_concurrency"`
	RegionConcurrency  int     `yaml:"region_concurrency"`
}

// ComplianceConfig tunes the submission rules.
type ComplianceConfig struct {
	MinDiscoveries int     `yaml:"min_discoveries"`
	ToleranceM     float64 `yaml:"tolerance_m"`
}

// ImageryConfig bounds raster acquisition. UseBasemap adds the
// high-res basemap as a third evidence kind alongside optical and
// radar.
type ImageryConfig struct {
	DateStart   string  `yaml:"date_start"` // YYYY-MM-DD
	DateEnd     string  `yaml:"date_end"`
	MaxCloudPct float64 `yaml:"max_cloud_pct"`
	UseBasemap  bool    `yaml:"use_basemap"`
}

// RegionConfig is one catalog entry.
type RegionConfig struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Priority string  `yaml:"priority"` // high|medium|low
}

// DefaultConfig returns the embedded defaults, including the survey
// region catalog.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: ".geocascade/cascade.db",
		OutputDir:    ".geocascade/submissions",
		Interpreter: InterpreterConfig{
			Model:              "claude-sonnet-4-5-20250929",
			MaxRetries:         3,
			Timeout:            "120s",
			CallsPerMinute:     30,
			MaxConcurrentCalls: 3,
		},
		Cascade: CascadeConfig{
			PromotionThreshold: 0.5,
			MaxZoneAreas:       18,
			MaxSiteAreas:       18,
			MaxLeveragePasses:  1,
			AreaConcurrency:    3,
			RegionConcurrency:  2,
		},
		Compliance: ComplianceConfig{
			MinDiscoveries: 5,
			ToleranceM:     50,
		},
		Imagery: ImageryConfig{
			DateStart:   "2023-01-01",
			DateEnd:     "2023-12-31",
			MaxCloudPct: 30,
		},
		Regions: []RegionConfig{
			{ID: "bolivia_casarabe_main", Name: "Casarabe Culture Core, Llanos de Mojos, Bolivia", Lat: -12.6, Lon: -65.3, Priority: "high"},
			{ID: "bolivia_casarabe_extended", Name: "Extended Casarabe Territory, Bolivia", Lat: -13.2, Lon: -64.8, Priority: "high"},
			{ID: "ecuador_upano_valley", Name: "Upano Valley Complex, Ecuador", Lat: -2.2, Lon: -78.1, Priority: "high"},
			{ID: "brazil_acre_geoglyphs", Name: "Acre Geoglyph Region, Brazil", Lat: -9.5, Lon: -67.8, Priority: "high"},
			{ID: "brazil_upper_xingu", Name: "Upper Xingu Cultural Complex, Brazil", Lat: -12.5, Lon: -53.0, Priority: "high"},
			{ID: "brazil_santarem_lower_amazon", Name: "Santarem Region, Lower Amazon, Brazil", Lat: -2.4, Lon: -54.7, Priority: "medium"},
			{ID: "brazil_acre_mound_villages", Name: "Acre Mound Villages, Brazil", Lat: -9.8, Lon: -67.5, Priority: "medium"},
			{ID: "colombia_caqueta_region", Name: "Caqueta Archaeological Region, Colombia", Lat: -1.0, Lon: -75.0, Priority: "medium"},
			{ID: "peru_ucayali_basin", Name: "Ucayali Basin Archaeological Zone, Peru", Lat: -8.0, Lon: -74.5, Priority: "medium"},
			{ID: "brazil_rondonia_explore", Name: "Rondonia Archaeological Frontier, Brazil", Lat: -11.5, Lon: -62.0, Priority: "medium"},
			{ID: "peru_madre_de_dios", Name: "Madre de Dios Region, Peru", Lat: -12.0, Lon: -70.0, Priority: "medium"},
			{ID: "venezuela_amazon_orinoco", Name: "Venezuelan Amazon-Orinoco Transition, Venezuela", Lat: 4.0, Lon: -67.0, Priority: "low"},
			{ID: "guyana_rupununi_savannas", Name: "Rupununi Savannas, Guyana", Lat: 2.5, Lon: -59.5, Priority: "low"},
		},
	}
}

// Load reads the YAML file at path layered over the defaults. A
// missing file is not an error; the defaults stand alone.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w in %s: %w", ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Validate checks the configuration invariants. Configuration problems
// are fatal before any work starts, never mid-run.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Cascade.PromotionThreshold < 0 || c.Cascade.PromotionThreshold > 1 {
		return fmt.Errorf("promotion_threshold %.2f out of range [0, 1]", c.Cascade.PromotionThreshold)
	}
	if c.Cascade.AreaConcurrency < 1 {
		return fmt.Errorf("area_concurrency must be at least 1")
	}
	if c.Cascade.RegionConcurrency < 1 {
		return fmt.Errorf("region_concurrency must be at least 1")
	}
	if c.Compliance.MinDiscoveries < 1 {
		return fmt.Errorf("min_discoveries must be at least 1")
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}

	seen := map[string]struct{}{}
	for _, r := range c.Regions {
		region := r.Region()
		if err := region.Validate(); err != nil {
			return fmt.Errorf("region %s: %w", r.ID, err)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate region id: %s", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for _, id := range c.ActiveRegions {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("active region %s is not in the catalog", id)
		}
	}

	if _, _, err := c.Imagery.Window(); err != nil {
		return err
	}
	if _, err := c.Interpreter.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// Region converts a catalog entry to the domain type.
func (r RegionConfig) Region() *types.Region {
	return &types.Region{
		ID:       r.ID,
		Name:     r.Name,
		Center:   types.Coordinate{Lat: r.Lat, Lon: r.Lon},
		Priority: r.Priority,
	}
}

// SelectedRegions resolves ActiveRegions against the catalog; with no
// explicit selection, the high-priority regions run.
func (c *Config) SelectedRegions() []*types.Region {
	byID := map[string]RegionConfig{}
	for _, r := range c.Regions {
		byID[r.ID] = r
	}

	var out []*types.Region
	if len(c.ActiveRegions) > 0 {
		for _, id := range c.ActiveRegions {
			if r, ok := byID[id]; ok {
				out = append(out, r.Region())
			}
		}
		return out
	}
	for _, r := range c.Regions {
		if r.Priority == "high" {
			out = append(out, r.Region())
		}
	}
	return out
}

// Window parses the imagery acquisition dates.
func (i ImageryConfig) Window() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", i.DateStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid imagery date_start %q: %w", i.DateStart, err)
	}
	end, err := time.Parse("2006-01-02", i.DateEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid imagery date_end %q: %w", i.DateEnd, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("imagery date_end %s precedes date_start %s", i.DateEnd, i.DateStart)
	}
	return start, end, nil
}
