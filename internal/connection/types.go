package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame bytes with the local receive time.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Feed URL (e.g. wss://ws-feed.exchange.coinbase.com)
	HandshakeTimeout time.Duration // Dial deadline
	PingTimeout      time.Duration // Max quiet time before the link is considered stale
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping cadence
	BufferSize       int           // Inbound frame channel depth
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		BufferSize:       65536,
	}
}

// EventType classifies supervisor lifecycle notifications.
type EventType int

const (
	StreamConnected EventType = iota
	StreamDisconnected
	StreamDegraded  // Reconnect fallback threshold crossed; poller should take over
	StreamRecovered // Stream back up after a degraded stretch
)

// String returns the event name used in logs.
func (t EventType) String() string {
	switch t {
	case StreamConnected:
		return "connected"
	case StreamDisconnected:
		return "disconnected"
	case StreamDegraded:
		return "degraded"
	case StreamRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Event is one supervisor lifecycle notification.
type Event struct {
	Type    EventType
	Attempt int   // Reconnect attempt count at the time of the event
	Err     error // Cause, when the event follows a failure
}
