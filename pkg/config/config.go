// Package config handles despair.toml runner configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"despair/pkg/codebuf"
	"despair/pkg/dynarec"
)

// ModeEnv overrides the configured execution mode when set.
const ModeEnv = "DESPAIR_MODE"

// Config is the runner configuration.
type Config struct {
	Mode   string `toml:"mode"`
	Engine Engine `toml:"engine"`
	Log    Log    `toml:"log"`

	Journal Journal `toml:"journal"`
	Monitor Monitor `toml:"monitor"`
	Metrics Metrics `toml:"metrics"`
}

// Engine tunes the recompiler.
type Engine struct {
	CodeIncrement int    `toml:"code-increment"`
	Seed          uint64 `toml:"seed"`
}

type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Journal configures the run history. An empty path disables it.
type Journal struct {
	Path string `toml:"path"`
}

// Monitor configures the QUIC snapshot endpoint. An empty address disables
// it; Key is a hex Ed25519 seed, generated per run when empty.
type Monitor struct {
	Addr string `toml:"addr"`
	Key  string `toml:"key"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Mode:   dynarec.ModeJIT.String(),
		Engine: Engine{CodeIncrement: codebuf.DefaultIncrement},
		Log:    Log{Verbosity: 1},
	}
}

// Load reads path over the defaults. An empty path loads only the defaults.
// The DESPAIR_MODE environment variable wins over both.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	}
	if mode := os.Getenv(ModeEnv); mode != "" {
		c.Mode = mode
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := dynarec.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Engine.CodeIncrement <= 0 {
		return fmt.Errorf("engine.code-increment must be positive, got %d", c.Engine.CodeIncrement)
	}
	return nil
}

// Options converts the engine settings for dynarec.NewProcess.
func (c *Config) Options() (dynarec.Options, error) {
	mode, err := dynarec.ParseMode(c.Mode)
	if err != nil {
		return dynarec.Options{}, err
	}
	return dynarec.Options{
		Mode:          mode,
		CodeIncrement: c.Engine.CodeIncrement,
		Seed:          c.Engine.Seed,
	}, nil
}
