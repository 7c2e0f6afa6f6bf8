// Package config holds construction-time configuration for the resource and
// caching layer. Out-of-range values are clamped to documented bounds with a
// logged warning; configuration is never a hard failure.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Documented bounds (see package doc).
const (
	PoolSizeMin = 1
	PoolSizeMax = 20

	CacheTTLMin = 60 * time.Second
	CacheTTLMax = 3600 * time.Second
)

// Config is the construction-time configuration for the layer. The zero value
// is not usable directly; start from Default() or Load().
type Config struct {
	// Pool
	PoolSize       int           `yaml:"pool_size"`
	StorageMode    string        `yaml:"storage_mode"` // "wal" or "default"
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// Response cache
	CacheTTLDefault time.Duration `yaml:"cache_ttl_default"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`

	// Geocode cache
	GeocodeTTL time.Duration `yaml:"geocode_ttl"`

	// Rate limiting
	RateCapacity     int           `yaml:"rate_capacity"`
	RateRefillPerSec float64       `yaml:"rate_refill_per_sec"`
	RateMaxWait      time.Duration `yaml:"rate_max_wait"`
	CooldownFactor   float64       `yaml:"cooldown_factor"`
	CooldownWindow   time.Duration `yaml:"cooldown_window"`

	// OpTimeout is the overall deadline applied to externally visible
	// operations that arrive without one.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// LogLevel is the minimum level emitted: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		PoolSize:         5,
		StorageMode:      "wal",
		AcquireTimeout:   5 * time.Second,
		CacheTTLDefault:  300 * time.Second,
		CacheMaxEntries:  0,
		GeocodeTTL:       24 * time.Hour,
		RateCapacity:     5,
		RateRefillPerSec: 1,
		RateMaxWait:      10 * time.Second,
		CooldownFactor:   0.25,
		CooldownWindow:   30 * time.Second,
		OpTimeout:        20 * time.Second,
		LogLevel:         "info",
	}
}

// Load reads a YAML configuration file over the defaults and clamps the
// result. A missing file yields the defaults.
func Load(path string, logger zerolog.Logger) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("path", path).Msg("No config file, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	cfg.Clamp(logger)
	return cfg, nil
}

// Clamp bounds every value to its documented range, logging a warning for
// each adjustment.
func (c *Config) Clamp(logger zerolog.Logger) {
	def := Default()

	if c.PoolSize == 0 {
		c.PoolSize = def.PoolSize
	}
	if c.PoolSize < PoolSizeMin {
		logger.Warn().Int("pool_size", c.PoolSize).Int("min", PoolSizeMin).Msg("Pool size below minimum, clamping")
		c.PoolSize = PoolSizeMin
	}
	if c.PoolSize > PoolSizeMax {
		logger.Warn().Int("pool_size", c.PoolSize).Int("max", PoolSizeMax).Msg("Pool size above maximum, clamping")
		c.PoolSize = PoolSizeMax
	}

	if c.CacheTTLDefault == 0 {
		c.CacheTTLDefault = def.CacheTTLDefault
	}
	if c.CacheTTLDefault < CacheTTLMin {
		logger.Warn().Dur("ttl", c.CacheTTLDefault).Dur("min", CacheTTLMin).Msg("Cache TTL below minimum, clamping")
		c.CacheTTLDefault = CacheTTLMin
	}
	if c.CacheTTLDefault > CacheTTLMax {
		logger.Warn().Dur("ttl", c.CacheTTLDefault).Dur("max", CacheTTLMax).Msg("Cache TTL above maximum, clamping")
		c.CacheTTLDefault = CacheTTLMax
	}

	if c.GeocodeTTL <= 0 {
		c.GeocodeTTL = def.GeocodeTTL
	}
	if c.RateCapacity <= 0 {
		c.RateCapacity = def.RateCapacity
	}
	if c.RateRefillPerSec <= 0 {
		c.RateRefillPerSec = def.RateRefillPerSec
	}
	if c.RateMaxWait <= 0 {
		c.RateMaxWait = def.RateMaxWait
	}
	if c.CooldownFactor <= 0 || c.CooldownFactor >= 1 {
		c.CooldownFactor = def.CooldownFactor
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = def.CooldownWindow
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = def.OpTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.StorageMode != "wal" && c.StorageMode != "default" {
		if c.StorageMode != "" {
			logger.Warn().Str("storage_mode", c.StorageMode).Msg("Unknown storage mode, using wal")
		}
		c.StorageMode = def.StorageMode
	}
}
