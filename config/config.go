// Package config holds the campaign configuration. The original
// toolchain scattered this state across environment variables
// (track-log path, paths-to-target lists); here it is one explicit
// value decoded from TOML and handed to each component at construction.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the campaign configuration.
type Config struct {
	// Workdir holds the persistent corpus, crashers and suppressions.
	Workdir string `toml:"workdir"`
	// CfgFile is the instrumentation artifact consumed by the loader.
	CfgFile string `toml:"cfg_file"`
	// TrackLog, when set, is a taint trace recorded by an external
	// taint-tracking run; it seeds the graph with indirect edges and
	// magic bytes.
	TrackLog string `toml:"track_log"`
	// TrackInput is the input file the taint trace was recorded for.
	TrackInput string `toml:"track_input"`
	// Func selects which registered fuzz function to run.
	Func string `toml:"func"`
	// TargetCmps lists comparison ids recorded even when untainted.
	TargetCmps []uint32 `toml:"target_cmps"`

	Verbosity int      `toml:"verbosity"`
	Minimize  Duration `toml:"minimize"`
	Dup       bool     `toml:"dup"`
}

// Duration adds TOML text decoding to time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Workdir:  ".",
		Minimize: Duration{time.Minute},
	}
}

// Load decodes the TOML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from %v: %w", path, err)
	}
	return cfg, nil
}

// MinimizeBudget is the per-input minimization time limit.
func (c *Config) MinimizeBudget() time.Duration {
	return c.Minimize.Duration
}
