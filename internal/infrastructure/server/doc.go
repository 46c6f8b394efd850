// Package server runs the kernel introspection surfaces: the gin HTTP API and
// the gRPC introspection service. Both listeners are bound by New, served by
// Run and shut down gracefully when Run's context ends.
package server
