// Package transport adapts the websocket layer into the polled, queue-based
// shape the session loop consumes: connections surface a hello payload for
// approval, then data frames and a final disconnect, all through one bounded
// inbound event queue.
package transport

// Reliability selects the delivery guarantee for an outbound payload.
type Reliability int

const (
	// Reliable delivery is ordered per peer and never silently dropped.
	// Used for all match-protocol messages.
	Reliable Reliability = iota
	// Unreliable delivery is best-effort: when a peer's outbound buffer is
	// full the payload is discarded. Used only for movement samples.
	Unreliable
)

// ConnID is a stable handle for one live connection.
type ConnID string

// EventKind discriminates the inbound event stream.
type EventKind int

const (
	// EventHello carries a new connection's hello payload; the session must
	// answer with Approve or Deny.
	EventHello EventKind = iota
	// EventData carries one application frame.
	EventData
	// EventDisconnect is the last event a connection ever produces.
	EventDisconnect
)

// Event is one entry in the inbound queue.
type Event struct {
	Conn    ConnID
	Kind    EventKind
	Payload []byte
	Reason  string
}
