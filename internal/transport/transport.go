package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Send on a closed channel.
var ErrNotConnected = errors.New("not connected")

// Conn is one open duplex channel. Implementations deliver inbound payloads
// on Messages and report a broken channel on Errors; after either the
// Messages channel closes or an error is delivered, the Conn is dead and a
// new one must be dialed.
type Conn interface {
	// Send writes one payload to the channel.
	Send(data []byte) error

	// Messages returns the inbound payload channel.
	Messages() <-chan []byte

	// Errors returns a channel reporting a broken connection.
	Errors() <-chan error

	// Close tears down the channel.
	Close() error
}

// Dialer opens duplex channels. The session engine dials a fresh Conn per
// connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
