// Package config provides 12-factor configuration for kerneld.
//
// Configuration is loaded from environment variables with defaults, or from a
// YAML/TOML file that environment variables then override.
//
// Configuration Sections:
//   - Kernel: cores, priority tiers, queue and handle limits, quantum
//   - Memory: simulated frame count and the allocation retry/breaker policy
//   - Server: introspection HTTP address
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting of the introspection API
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	k, err := kernel.New(cfg)
//
// Environment Variables:
//   - KERNEL_CORES, KERNEL_PRIORITIES, KERNEL_QUEUE_CAPACITY, KERNEL_MAX_HANDLES
//   - MEMORY_FRAMES, MEMORY_ALLOC_RETRIES, MEMORY_BREAKER_THRESHOLD
//   - KERNELD_ADDR, LOG_LEVEL, LOG_DEV, RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
