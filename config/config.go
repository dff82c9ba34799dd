package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fzft/go-wake-event/system"
)

const (
	DefaultLogLevel  = "info"
	DefaultFifoPath  = system.DefaultFifoPath
	DefaultFifoMode  = 0666
	DefaultMaxEvents = 128
	DefaultTick      = time.Second
)

type Config struct {
	Log  LogConfig  `toml:"log"`
	Wake WakeConfig `toml:"wake"`
	Loop LoopConfig `toml:"loop"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// WakeConfig only matters when the binary is built with the wakefifo tag.
type WakeConfig struct {
	FifoPath string `toml:"fifo_path"`
	FifoMode uint32 `toml:"fifo_mode"`
}

type LoopConfig struct {
	MaxEvents int `toml:"max_events"`
	// Tick bounds every wait of the loop, e.g. "500ms". Zero waits until woken.
	Tick Duration `toml:"tick"`
}

// Duration decodes TOML strings such as "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: DefaultLogLevel},
		Wake: WakeConfig{FifoPath: DefaultFifoPath, FifoMode: DefaultFifoMode},
		Loop: LoopConfig{MaxEvents: DefaultMaxEvents, Tick: Duration{DefaultTick}},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Loop.MaxEvents <= 0 {
		return fmt.Errorf("loop.max_events must be positive, got %d", c.Loop.MaxEvents)
	}
	if c.Loop.Tick.Duration < 0 {
		return fmt.Errorf("loop.tick must not be negative, got %s", c.Loop.Tick)
	}
	if !filepath.IsAbs(c.Wake.FifoPath) {
		return fmt.Errorf("wake.fifo_path must be absolute, got %q", c.Wake.FifoPath)
	}
	if c.Wake.FifoMode&^0o777 != 0 {
		return fmt.Errorf("wake.fifo_mode must only hold permission bits, got %o", c.Wake.FifoMode)
	}
	return nil
}

// WaitTick is the tick as passed to the loop, where negative means forever.
func (c *Config) WaitTick() time.Duration {
	if c.Loop.Tick.Duration == 0 {
		return -1
	}
	return c.Loop.Tick.Duration
}
