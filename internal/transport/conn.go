// Package transport defines the socket abstraction a session drives.
// Implementations live in subpackages so sessions can be tested against
// in-memory connections.
package transport

import (
	"context"
	"fmt"
)

// Conn is one physical, message-oriented connection.
type Conn interface {
	// Read blocks until the next complete message arrives. A close frame
	// from the peer is reported as *CloseError.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one complete message.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. It is safe to call more than once and
	// unblocks a pending Read.
	Close() error

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Dialer opens connections. Dial must honor ctx cancellation until the
// handshake has completed.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// CloseError reports that the peer closed the connection with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed by peer: code %d", e.Code)
	}
	return fmt.Sprintf("connection closed by peer: code %d: %s", e.Code, e.Reason)
}
