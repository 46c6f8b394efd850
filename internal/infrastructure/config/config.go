package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all kerneld configuration.
type Config struct {
	Kernel    KernelConfig    `yaml:"kernel" toml:"kernel"`
	Memory    MemoryConfig    `yaml:"memory" toml:"memory"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// KernelConfig holds scheduler and IPC limits.
type KernelConfig struct {
	Cores              int           `envconfig:"KERNEL_CORES" default:"1" yaml:"cores" toml:"cores"`
	Priorities         int           `envconfig:"KERNEL_PRIORITIES" default:"8" yaml:"priorities" toml:"priorities"`
	QueueCapacity      int           `envconfig:"KERNEL_QUEUE_CAPACITY" default:"8" yaml:"queue_capacity" toml:"queue_capacity"`
	MaxQueueCapacity   int           `envconfig:"KERNEL_MAX_QUEUE_CAPACITY" default:"1024" yaml:"max_queue_capacity" toml:"max_queue_capacity"`
	MaxHandles         int           `envconfig:"KERNEL_MAX_HANDLES" default:"4096" yaml:"max_handles" toml:"max_handles"`
	MaxObjects         int           `envconfig:"KERNEL_MAX_OBJECTS" default:"65536" yaml:"max_objects" toml:"max_objects"`
	MaxMessageBytes    int           `envconfig:"KERNEL_MAX_MESSAGE_BYTES" default:"65536" yaml:"max_message_bytes" toml:"max_message_bytes"`
	MaxAttachedHandles int           `envconfig:"KERNEL_MAX_ATTACHED_HANDLES" default:"64" yaml:"max_attached_handles" toml:"max_attached_handles"`
	Quantum            time.Duration `envconfig:"KERNEL_QUANTUM" default:"10ms" yaml:"quantum" toml:"quantum"`
}

// MemoryConfig holds the simulated physical memory and allocation policy.
type MemoryConfig struct {
	Frames           int           `envconfig:"MEMORY_FRAMES" default:"16384" yaml:"frames" toml:"frames"`
	AllocRetries     int           `envconfig:"MEMORY_ALLOC_RETRIES" default:"3" yaml:"alloc_retries" toml:"alloc_retries"`
	AllocBackoff     time.Duration `envconfig:"MEMORY_ALLOC_BACKOFF" default:"100us" yaml:"alloc_backoff" toml:"alloc_backoff"`
	BreakerThreshold int           `envconfig:"MEMORY_BREAKER_THRESHOLD" default:"8" yaml:"breaker_threshold" toml:"breaker_threshold"`
	BreakerCooldown  time.Duration `envconfig:"MEMORY_BREAKER_COOLDOWN" default:"50ms" yaml:"breaker_cooldown" toml:"breaker_cooldown"`
	// MaxObjectPages caps one memory object; 0 means Frames.
	MaxObjectPages int `envconfig:"MEMORY_MAX_OBJECT_PAGES" default:"0" yaml:"max_object_pages" toml:"max_object_pages"`
}

// ServerConfig holds the introspection HTTP server configuration.
type ServerConfig struct {
	Addr    string `envconfig:"KERNELD_ADDR" default:"127.0.0.1:8080" yaml:"addr" toml:"addr"`
	Enabled bool   `envconfig:"KERNELD_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
	// GRPCAddr serves gRPC introspection when non-empty.
	GRPCAddr        string        `envconfig:"KERNELD_GRPC_ADDR" default:"127.0.0.1:9090" yaml:"grpc_addr" toml:"grpc_addr"`
	ShutdownTimeout time.Duration `envconfig:"KERNELD_SHUTDOWN_TIMEOUT" default:"5s" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration for the introspection API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML or TOML file, chosen by extension, then applies
// environment overrides. Only variables that are actually set override the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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
		Kernel: KernelConfig{
			Cores:              1,
			Priorities:         8,
			QueueCapacity:      8,
			MaxQueueCapacity:   1024,
			MaxHandles:         4096,
			MaxObjects:         65536,
			MaxMessageBytes:    64 * 1024,
			MaxAttachedHandles: 64,
			Quantum:            10 * time.Millisecond,
		},
		Memory: MemoryConfig{
			Frames:           16384,
			AllocRetries:     3,
			AllocBackoff:     100 * time.Microsecond,
			BreakerThreshold: 8,
			BreakerCooldown:  50 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			Enabled:         true,
			GRPCAddr:        "127.0.0.1:9090",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// maxHandles is the handle index space of one task (16 bits, slot 0 included).
const maxHandles = 1<<16 - 1

// Validate rejects configurations the kernel cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Kernel.Cores < 1:
		return fmt.Errorf("kernel cores must be >= 1, got %d", c.Kernel.Cores)
	case c.Kernel.Priorities < 1:
		return fmt.Errorf("kernel priorities must be >= 1, got %d", c.Kernel.Priorities)
	case c.Kernel.QueueCapacity < 1 || c.Kernel.QueueCapacity > c.Kernel.MaxQueueCapacity:
		return fmt.Errorf("queue capacity %d outside [1, %d]", c.Kernel.QueueCapacity, c.Kernel.MaxQueueCapacity)
	case c.Kernel.MaxHandles < 1 || c.Kernel.MaxHandles > maxHandles:
		return fmt.Errorf("max handles %d outside [1, %d]", c.Kernel.MaxHandles, maxHandles)
	case c.Kernel.MaxObjects < 1:
		return fmt.Errorf("max objects must be >= 1, got %d", c.Kernel.MaxObjects)
	case c.Memory.Frames < 1:
		return fmt.Errorf("memory frames must be >= 1, got %d", c.Memory.Frames)
	case c.Memory.MaxObjectPages < 0:
		return fmt.Errorf("max object pages must be >= 0, got %d", c.Memory.MaxObjectPages)
	case c.Memory.AllocRetries < 1:
		return fmt.Errorf("alloc retries must be >= 1, got %d", c.Memory.AllocRetries)
	}
	return nil
}

// applyEnv overlays set environment variables onto cfg without resetting
// fields the file provided to envconfig defaults.
func applyEnv(cfg *Config) error {
	env := Default()
	if err := envconfig.Process("", env); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	overlay := func(key string, apply func()) {
		if _, ok := os.LookupEnv(key); ok {
			apply()
		}
	}

	overlay("KERNEL_CORES", func() { cfg.Kernel.Cores = env.Kernel.Cores })
	overlay("KERNEL_PRIORITIES", func() { cfg.Kernel.Priorities = env.Kernel.Priorities })
	overlay("KERNEL_QUEUE_CAPACITY", func() { cfg.Kernel.QueueCapacity = env.Kernel.QueueCapacity })
	overlay("KERNEL_MAX_QUEUE_CAPACITY", func() { cfg.Kernel.MaxQueueCapacity = env.Kernel.MaxQueueCapacity })
	overlay("KERNEL_MAX_HANDLES", func() { cfg.Kernel.MaxHandles = env.Kernel.MaxHandles })
	overlay("KERNEL_MAX_OBJECTS", func() { cfg.Kernel.MaxObjects = env.Kernel.MaxObjects })
	overlay("KERNEL_MAX_MESSAGE_BYTES", func() { cfg.Kernel.MaxMessageBytes = env.Kernel.MaxMessageBytes })
	overlay("KERNEL_MAX_ATTACHED_HANDLES", func() { cfg.Kernel.MaxAttachedHandles = env.Kernel.MaxAttachedHandles })
	overlay("KERNEL_QUANTUM", func() { cfg.Kernel.Quantum = env.Kernel.Quantum })
	overlay("MEMORY_FRAMES", func() { cfg.Memory.Frames = env.Memory.Frames })
	overlay("MEMORY_ALLOC_RETRIES", func() { cfg.Memory.AllocRetries = env.Memory.AllocRetries })
	overlay("MEMORY_ALLOC_BACKOFF", func() { cfg.Memory.AllocBackoff = env.Memory.AllocBackoff })
	overlay("MEMORY_BREAKER_THRESHOLD", func() { cfg.Memory.BreakerThreshold = env.Memory.BreakerThreshold })
	overlay("MEMORY_BREAKER_COOLDOWN", func() { cfg.Memory.BreakerCooldown = env.Memory.BreakerCooldown })
	overlay("MEMORY_MAX_OBJECT_PAGES", func() { cfg.Memory.MaxObjectPages = env.Memory.MaxObjectPages })
	overlay("KERNELD_ADDR", func() { cfg.Server.Addr = env.Server.Addr })
	overlay("KERNELD_ENABLED", func() { cfg.Server.Enabled = env.Server.Enabled })
	overlay("KERNELD_GRPC_ADDR", func() { cfg.Server.GRPCAddr = env.Server.GRPCAddr })
	overlay("KERNELD_SHUTDOWN_TIMEOUT", func() { cfg.Server.ShutdownTimeout = env.Server.ShutdownTimeout })
	overlay("LOG_LEVEL", func() { cfg.Logging.Level = env.Logging.Level })
	overlay("LOG_DEV", func() { cfg.Logging.Development = env.Logging.Development })
	overlay("RATE_LIMIT_RPS", func() { cfg.RateLimit.RequestsPerSecond = env.RateLimit.RequestsPerSecond })
	overlay("RATE_LIMIT_BURST", func() { cfg.RateLimit.Burst = env.RateLimit.Burst })
	overlay("RATE_LIMIT_ENABLED", func() { cfg.RateLimit.Enabled = env.RateLimit.Enabled })
	return nil
}
