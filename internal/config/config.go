// Package config handles configuration loading for the SunnyD tile server.
package config

import (
	"fmt"
	"os"

	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/vitd"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Layers LayersConfig `yaml:"layers"`
	Model  ModelConfig  `yaml:"model"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains grid source settings. An empty Dir selects the
// synthetic source.
type DataConfig struct {
	Dir           string  `yaml:"dir"`
	Pattern       string  `yaml:"pattern"`
	SyntheticStep float64 `yaml:"synthetic_step"`

	// PrefetchWorkers bounds startup loading; negative disables prefetch.
	PrefetchWorkers int `yaml:"prefetch_workers"`
}

// LayerEncoding is the scale and offset a layer's samples are stored with.
type LayerEncoding struct {
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

// LayersConfig contains per-layer encodings.
type LayersConfig struct {
	UV   LayerEncoding `yaml:"uv"`
	Temp LayerEncoding `yaml:"temp"`
}

// ModelConfig contains the exposure model constants.
type ModelConfig struct {
	Version         string             `yaml:"version"`
	KMinutes        float64            `yaml:"k_minutes"`
	SkinTypes       map[int]float64    `yaml:"skin_types"`
	ExposurePresets map[string]float64 `yaml:"exposure_presets"`
}

// CacheConfig contains caching settings. An empty SQLitePath disables the
// persistent tile cache.
type CacheConfig struct {
	TileSizeMB     int    `yaml:"tile_size_mb"`
	TileTTLMinutes int    `yaml:"tile_ttl_minutes"`
	QueryCacheSize int    `yaml:"query_cache_size"`
	SQLitePath     string `yaml:"sqlite_path"`
	RetentionDays  int    `yaml:"retention_days"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize     int `yaml:"tile_size"`
	MaxZoom      int `yaml:"max_zoom"`
	LegendWidth  int `yaml:"legend_width"`
	LegendHeight int `yaml:"legend_height"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	constants := vitd.DefaultConstants()
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			Pattern:         "%s_%d.bin",
			SyntheticStep:   1,
			PrefetchWorkers: 4,
		},
		Layers: LayersConfig{
			UV:   LayerEncoding{Scale: 3, Offset: 0},
			Temp: LayerEncoding{Scale: 100, Offset: 50},
		},
		Model: ModelConfig{
			Version:         constants.Version,
			KMinutes:        constants.KMinutes,
			SkinTypes:       constants.SkinTypes,
			ExposurePresets: constants.ExposurePresets,
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			QueryCacheSize: 4096,
			RetentionDays:  30,
		},
		Render: RenderConfig{
			TileSize:     256,
			MaxZoom:      10,
			LegendWidth:  320,
			LegendHeight: 48,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.Pattern == "" {
		cfg.Data.Pattern = defaults.Data.Pattern
	}
	if cfg.Data.SyntheticStep == 0 {
		cfg.Data.SyntheticStep = defaults.Data.SyntheticStep
	}
	if cfg.Data.PrefetchWorkers == 0 {
		cfg.Data.PrefetchWorkers = defaults.Data.PrefetchWorkers
	}
	if cfg.Layers.UV.Scale == 0 {
		cfg.Layers.UV = defaults.Layers.UV
	}
	if cfg.Layers.Temp.Scale == 0 {
		cfg.Layers.Temp = defaults.Layers.Temp
	}
	if cfg.Model.Version == "" {
		cfg.Model.Version = defaults.Model.Version
	}
	if cfg.Model.KMinutes == 0 {
		cfg.Model.KMinutes = defaults.Model.KMinutes
	}
	if len(cfg.Model.SkinTypes) == 0 {
		cfg.Model.SkinTypes = defaults.Model.SkinTypes
	}
	if len(cfg.Model.ExposurePresets) == 0 {
		cfg.Model.ExposurePresets = defaults.Model.ExposurePresets
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Cache.RetentionDays == 0 {
		cfg.Cache.RetentionDays = defaults.Cache.RetentionDays
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.MaxZoom == 0 {
		cfg.Render.MaxZoom = defaults.Render.MaxZoom
	}
	if cfg.Render.LegendWidth == 0 {
		cfg.Render.LegendWidth = defaults.Render.LegendWidth
	}
	if cfg.Render.LegendHeight == 0 {
		cfg.Render.LegendHeight = defaults.Render.LegendHeight
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Layers.UV.Scale <= 0 || c.Layers.Temp.Scale <= 0 {
		return fmt.Errorf("layer scales must be positive")
	}
	if c.Model.KMinutes <= 0 {
		return fmt.Errorf("k_minutes must be positive, got %v", c.Model.KMinutes)
	}
	for skin, k := range c.Model.SkinTypes {
		if skin < 1 || skin > 6 || k <= 0 {
			return fmt.Errorf("invalid skin type entry %d: %v", skin, k)
		}
	}
	for name, f := range c.Model.ExposurePresets {
		if name == vitd.WeatherAdjustedPreset {
			return fmt.Errorf("preset name %q is reserved", name)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("preset %q fraction %v outside [0, 1]", name, f)
		}
	}
	if c.Data.Dir == "" && c.Data.SyntheticStep < grid.MinSyntheticStep {
		return fmt.Errorf("synthetic_step %v below minimum %.4f", c.Data.SyntheticStep, grid.MinSyntheticStep)
	}
	if c.Render.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive, got %d", c.Render.TileSize)
	}
	if c.Render.MaxZoom < 0 || c.Render.MaxZoom > 22 {
		return fmt.Errorf("max_zoom %d out of range (0-22)", c.Render.MaxZoom)
	}
	return nil
}

// Constants builds the immutable model bundle.
func (c *Config) Constants() vitd.Constants {
	skins := make(map[int]float64, len(c.Model.SkinTypes))
	for k, v := range c.Model.SkinTypes {
		skins[k] = v
	}
	presets := make(map[string]float64, len(c.Model.ExposurePresets))
	for k, v := range c.Model.ExposurePresets {
		presets[k] = v
	}
	return vitd.Constants{
		Version:         c.Model.Version,
		KMinutes:        c.Model.KMinutes,
		SkinTypes:       skins,
		ExposurePresets: presets,
	}
}

// Encodings returns the per-layer encodings keyed by layer.
func (c *Config) Encodings() map[grid.Layer]grid.Encoding {
	return map[grid.Layer]grid.Encoding{
		grid.LayerUV:   {Scale: c.Layers.UV.Scale, Offset: c.Layers.UV.Offset},
		grid.LayerTemp: {Scale: c.Layers.Temp.Scale, Offset: c.Layers.Temp.Offset},
	}
}
