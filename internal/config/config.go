// Package config loads stereoplay's TOML configuration file and applies
// command-line overrides on top of it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zsiec/stereo/media"
)

// Defaults mirror the pipeline package's own defaulting so a config file
// only needs to name what it changes.
const (
	DefaultLayout          = "sbs"
	DefaultPairHorizonAU   = 4
	DefaultInterViewWaitMS = 250
	DefaultPoolSize        = 6
	DefaultLogLevel        = "info"
)

// Config is the full stereoplay configuration.
type Config struct {
	// Input is the MVES elementary-stream dump to play.
	Input string `toml:"input"`
	// Output receives the composed surfaces as raw packed YUYV frames.
	// Empty means discard (decode-and-compose benchmark mode).
	Output string `toml:"output"`

	// Layout is the initial frame packing: sbs, tab, or packed.
	Layout string `toml:"layout"`
	// BlankingLines overrides the packed layout's inter-field blanking
	// band height; 0 picks the standard value for the stream height.
	BlankingLines int `toml:"blanking_lines"`

	// SeekFrame, when positive, seeks to that frame index before playback.
	SeekFrame int `toml:"seek_frame"`

	PairHorizonAU   int `toml:"pair_horizon_au"`
	InterViewWaitMS int `toml:"inter_view_wait_ms"`
	PoolSize        int `toml:"pool_size"`

	Log LogConfig `toml:"log"`
}

// LogConfig controls slog output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level"`
	// File, when set, routes logs through a size-rotated file instead of
	// stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Layout:          DefaultLayout,
		PairHorizonAU:   DefaultPairHorizonAU,
		InterViewWaitMS: DefaultInterViewWaitMS,
		PoolSize:        DefaultPoolSize,
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return cfg, fmt.Errorf("config: unknown key %q in %s", undec[0].String(), path)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("config: input file required")
	}
	if _, err := media.ParseLayout(c.Layout); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.BlankingLines < 0 {
		return fmt.Errorf("config: blanking_lines must be >= 0")
	}
	if c.SeekFrame < 0 {
		return fmt.Errorf("config: seek_frame must be >= 0")
	}
	if c.PairHorizonAU <= 0 {
		return fmt.Errorf("config: pair_horizon_au must be > 0")
	}
	if c.InterViewWaitMS <= 0 {
		return fmt.Errorf("config: inter_view_wait_ms must be > 0")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: pool_size must be > 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// ParsedLayout returns the Layout enum for the configured name. Validate
// must have succeeded.
func (c *Config) ParsedLayout() media.Layout {
	l, _ := media.ParseLayout(c.Layout)
	return l
}

// InterViewWait returns the inter-view wait as a duration.
func (c *Config) InterViewWait() time.Duration {
	return time.Duration(c.InterViewWaitMS) * time.Millisecond
}
