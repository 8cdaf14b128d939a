// Package connection manages the WebSocket link to the exchange feed.
//
// Client is a thin transport wrapper around one gorilla/websocket
// connection: it serializes writes, timestamps every inbound frame, and
// watches liveness with ping/pong heartbeats. Supervisor owns the
// client's lifecycle: dials are gated through a circuit breaker, retry
// pacing comes from the reconnection scheduler, and after the fallback
// threshold the supervisor announces degraded mode so the REST poller
// can take over until the stream recovers.
package connection
