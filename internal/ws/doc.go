// Package ws streams kernel events over WebSocket for live inspection.
//
// A connected client receives every kernel event (task spawn/exit, fault,
// message delivery, reply, notification) as a JSON frame. Slow clients
// lose events rather than stalling the kernel; the event bus drops on a
// full subscriber queue.
//
// Message Types (Client → Server):
//   - ping: keep-alive, answered with pong
//
// Message Types (Server → Client):
//   - system: connection banner with the kernel boot ID
//   - pong: keep-alive answer
//   - event: one kernel event
//
// Example Usage:
//
//	handler := ws.NewHandler(k, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws
