// Package http serves the read-only introspection API of a running kernel.
//
// Routes:
//
//	GET /healthz              liveness
//	GET /metrics              Prometheus exposition of the kernel registry
//	GET /v1/stats             kernel.Stats snapshot
//	GET /v1/tasks             live tasks
//	GET /v1/tasks/:label      one task by label
//	GET /v1/services          registered services, ?prefix= and ?limit= filter
//	GET /v1/stream            WebSocket stream of stats, see package ws
//
// Nothing here mutates kernel state; tasks interact with the kernel only
// through syscalls.
package http
