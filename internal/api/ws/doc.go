// Package ws streams live kernel state to dashboards over WebSocket.
//
// After the upgrade the server sends a "system" greeting, then a "stats"
// message every interval until the client disconnects.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - interval: Change the stats period, {"interval_ms": N}
//   - tasks: Request a task listing now
//
// Message Types (Server → Client):
//   - system: Greeting with the current interval
//   - stats: kernel.Stats snapshot
//   - tasks: Task listing
//   - pong: Reply to ping
//   - error: Bad client message
//
// Example Usage:
//
//	handler := ws.NewHandler(k, log)
//	router.GET("/v1/stream", handler.HandleConnection)
package ws
