package transport

import (
	"context"
	"errors"
	"fmt"
)

// Transport errors.
var (
	// ErrLinkClosed is returned by Send after the link has dropped.
	ErrLinkClosed = errors.New("link closed")
)

// ConnectError reports a failed attempt to open a link to a target.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Link is a live bidirectional connection to one device.
type Link interface {
	// Send transmits one complete frame. It returns ErrLinkClosed once the
	// link has dropped; other errors indicate a transport fault that will
	// shortly drop the link as well.
	Send(data []byte) error

	// Frames returns the inbound frame stream. The channel is closed when
	// the link drops, whether by Close or by transport failure. Each
	// received slice is owned by the receiver.
	Frames() <-chan []byte

	// Close tears the link down. It is idempotent, safe from any goroutine
	// and never blocks on the network.
	Close() error
}

// Dialer opens links to devices. Implementations decide what a target
// string means: a BLE address for the direct radio transport, a device
// identifier for the gateway tunnel.
type Dialer interface {
	// Open establishes a link, honoring ctx for cancellation and deadline.
	// Failure is reported as a ConnectError.
	Open(ctx context.Context, target string) (Link, error)
}
