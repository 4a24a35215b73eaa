package registry

import "errors"

// ErrConnClosed is returned by Deliver when the connection is gone or its
// outbound buffer is full. Delivery is best-effort; callers do not retry.
var ErrConnClosed = errors.New("connection closed")

// Conn is one live bidirectional channel registered for an account. The
// gateway session type implements it; tests use in-memory fakes.
type Conn interface {
	// ID uniquely identifies the connection handle.
	ID() string

	// Deliver queues payload for the connection's outbound stream without
	// blocking. At-most-once: a failed delivery is dropped, not retried.
	Deliver(payload []byte) error

	// Close tears the connection down with a reason shown to the client.
	Close(reason string)
}
