// Package config loads shmlog settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// PageSize is the size of a physical frame and of a log channel page.
const PageSize = 4096

const (
	defaultArenaPages = 1024
	defaultMaxProcs   = 64
	defaultMaxVA      = 1 << 38
	minArenaPages     = 16
)

// Config holds all shmlog configuration.
type Config struct {
	Arena   ArenaConfig  `envconfig:"ARENA"`
	Kernel  KernelConfig `envconfig:"KERNEL"`
	Logging LogConfig    `envconfig:"LOG"`
	Drain   DrainConfig  `envconfig:"DRAIN"`
	HTTP    HTTPConfig   `envconfig:"HTTP"`
}

// ArenaConfig sizes the physical memory arena.
type ArenaConfig struct {
	Pages int `envconfig:"PAGES" default:"1024"`
	// Name of a /dev/shm file to back the arena. Empty uses anonymous memory.
	Name string `envconfig:"NAME" default:""`
}

// KernelConfig holds process table and address space limits.
type KernelConfig struct {
	MaxProcs int    `envconfig:"MAX_PROCS" default:"64"`
	MaxVA    uint64 `envconfig:"MAX_VA" default:"274877906944"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// DrainConfig bounds the consumer's polling backoff.
type DrainConfig struct {
	InitialInterval time.Duration `envconfig:"INITIAL" default:"1ms"`
	MaxInterval     time.Duration `envconfig:"MAX" default:"50ms"`
}

// HTTPConfig holds the serve command's listener.
type HTTPConfig struct {
	Addr string `envconfig:"ADDR" default:":9464"`
}

// Load loads configuration from the environment, e.g. SHMLOG_ARENA_PAGES,
// SHMLOG_KERNEL_MAX_PROCS or SHMLOG_LOG_LEVEL.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("shmlog", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := Verify(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Arena: ArenaConfig{
			Pages: defaultArenaPages,
		},
		Kernel: KernelConfig{
			MaxProcs: defaultMaxProcs,
			MaxVA:    defaultMaxVA,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Drain: DrainConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr: ":9464",
		},
	}
}

// Verify checks that cfg describes a usable kernel.
func Verify(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Arena.Pages < minArenaPages {
		return fmt.Errorf("arena pages must be at least %d, got %d", minArenaPages, cfg.Arena.Pages)
	}
	if cfg.Kernel.MaxProcs <= 0 {
		return fmt.Errorf("max procs must be positive, got %d", cfg.Kernel.MaxProcs)
	}
	if cfg.Kernel.MaxVA == 0 || cfg.Kernel.MaxVA%PageSize != 0 {
		return fmt.Errorf("max va must be a positive multiple of %d, got %d", PageSize, cfg.Kernel.MaxVA)
	}
	if cfg.Drain.InitialInterval <= 0 || cfg.Drain.MaxInterval < cfg.Drain.InitialInterval {
		return fmt.Errorf("invalid drain backoff [%s, %s]", cfg.Drain.InitialInterval, cfg.Drain.MaxInterval)
	}
	return nil
}
