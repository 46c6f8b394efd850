// Package middleware provides the HTTP middleware of the introspection API.
//
// Middleware stack includes:
//   - RequestID: X-Request-ID propagation, generated with google/uuid
//   - Logger: one zap line per request
//   - CORS: cross-origin access for dashboards
//   - RateLimit: per-IP token buckets with idle eviction
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.Logger(log))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
