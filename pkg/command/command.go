package command

import (
	"context"
	"fmt"
	"time"

	"github.com/jaapp/marstek-go/pkg/protocol"
)

// Default command parameters. The BLE round trip to a Venus device is
// usually well under a second; the generous timeout covers connection
// wobble without stalling the queue for long.
const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 2
	RetryBackoff   = 500 * time.Millisecond
)

// Priority separates state-changing writes from poll reads.
type Priority uint8

const (
	// PriorityRead is poll traffic: bounded queue, oldest evicted first.
	PriorityRead Priority = iota

	// PriorityWrite is user-initiated state changes: never dropped,
	// served ahead of reads.
	PriorityWrite
)

// String returns the priority class name.
func (p Priority) String() string {
	switch p {
	case PriorityRead:
		return "READ"
	case PriorityWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// FailureKind classifies command failures.
type FailureKind uint8

const (
	// FailureTimeout means the retry budget was exhausted without a response.
	FailureTimeout FailureKind = iota + 1

	// FailureTransport means the link refused the outgoing frame.
	FailureTransport

	// FailureMalformed means a response arrived but its payload did not decode.
	FailureMalformed

	// FailureSuperseded means the connection was torn down before completion,
	// or the command was evicted from an overflowing read queue.
	FailureSuperseded
)

// String returns the failure kind name.
func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "TIMEOUT"
	case FailureTransport:
		return "TRANSPORT"
	case FailureMalformed:
		return "MALFORMED"
	case FailureSuperseded:
		return "SUPERSEDED"
	default:
		return "UNKNOWN"
	}
}

// Error is a failed command outcome.
type Error struct {
	Kind   FailureKind
	Opcode protocol.Opcode
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("command %s failed: %s: %v", e.Opcode, e.Kind, e.Cause)
	}
	return fmt.Sprintf("command %s failed: %s", e.Opcode, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is matching by failure kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && e.Kind == other.Kind
}

// Sentinel command errors for errors.Is checks.
var (
	ErrTimeout    = &Error{Kind: FailureTimeout}
	ErrTransport  = &Error{Kind: FailureTransport}
	ErrMalformed  = &Error{Kind: FailureMalformed}
	ErrSuperseded = &Error{Kind: FailureSuperseded}
)

// Command is one request to the device. Immutable once enqueued.
type Command struct {
	// Opcode selects the operation.
	Opcode protocol.Opcode

	// Payload is the encoded argument bytes (may be nil).
	Payload []byte

	// Timeout bounds each send attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// Retries is the retry budget after the first attempt.
	// Negative means no retries; zero means DefaultRetries.
	Retries int

	// Priority is the scheduling class.
	Priority Priority
}

// Read builds a read command with default timing.
func Read(op protocol.Opcode, payload []byte) Command {
	return Command{Opcode: op, Payload: payload, Priority: PriorityRead}
}

// Write builds a write command with default timing.
func Write(op protocol.Opcode, payload []byte) Command {
	return Command{Opcode: op, Payload: payload, Priority: PriorityWrite}
}

// timeout returns the effective per-attempt timeout.
func (c Command) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// retries returns the effective retry budget.
func (c Command) retries() int {
	if c.Retries == 0 {
		return DefaultRetries
	}
	if c.Retries < 0 {
		return 0
	}
	return c.Retries
}

// expectsResponse reports whether a response notification will arrive.
// Fire-and-forget writes resolve as soon as the frame is sent.
func (c Command) expectsResponse() bool {
	return c.Priority == PriorityRead && c.Opcode.IsRead()
}

// Result is the outcome of one command.
type Result struct {
	// Opcode echoes the command's opcode.
	Opcode protocol.Opcode

	// Value is the decoded response payload (one of the protocol payload
	// types), nil for fire-and-forget writes.
	Value any

	// Raw is the undecoded response payload bytes, nil for writes.
	Raw []byte

	// Err is nil on success, otherwise a *Error.
	Err error
}

// Pending is the caller's handle on an enqueued command.
type Pending struct {
	cmd  Command
	done chan struct{}

	// result is written exactly once, before done is closed.
	result Result

	// attempt counts send attempts; guarded by the owning queue's mutex.
	attempt int
}

func newPending(cmd Command) *Pending {
	return &Pending{cmd: cmd, done: make(chan struct{})}
}

// Command returns the enqueued command.
func (p *Pending) Command() Command { return p.cmd }

// Done is closed once the command has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome. Valid only after Done is closed.
func (p *Pending) Result() Result { return p.result }

// Await blocks until the command resolves or ctx is cancelled. The
// returned error is non-nil only when ctx expired first; a command that
// resolved with a failure comes back with a nil error and Result.Err
// carrying the *Error.
func (p *Pending) Await(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{Opcode: p.cmd.Opcode, Err: ctx.Err()}, ctx.Err()
	}
}

// resolve records the outcome. Must be called at most once, with the
// owning queue's mutex held.
func (p *Pending) resolve(res Result) {
	p.result = res
	close(p.done)
}
