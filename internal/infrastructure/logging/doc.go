// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output on stderr
//
// Kernel components receive a *zap.Logger through their options and default
// to a no-op logger, so unit tests stay silent unless they opt in.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	k := kernel.New(cfg, kernel.WithLogger(logger.Component("kernel")))
//	logger.Info("kernel ready", zap.Int("cores", cfg.Kernel.Cores))
package logging
