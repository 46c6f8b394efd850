// Package client is a typed HTTP client for the kernel introspection API.
//
// Requests go through resty on top of a go-retryablehttp transport, so
// connection errors and 5xx responses are retried with backoff. A circuit
// breaker fails calls fast while kerneld is unreachable.
//
// Example Usage:
//
//	c := client.New("http://127.0.0.1:8080")
//	stats, err := c.Stats(ctx)
package client
