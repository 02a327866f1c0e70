package log

import (
	"time"
)

// MaxFrameCapture bounds how many raw frame bytes one event stores.
// Venus frames are at most 255 bytes, so truncation is rare.
const MaxFrameCapture = 128

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// LinkID uniquely identifies the link the event belongs to (UUID).
	LinkID string `cbor:"2,keyasint,omitempty"`

	// Target is the device address or name the session dials.
	Target string `cbor:"3,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the device identifier (populated once identity is read).
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // raw frame traffic
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"` // command lifecycle
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // session state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates raw frame traffic.
	CategoryFrame Category = 0
	// CategoryCommand indicates a command resolution.
	CategoryCommand Category = 1
	// CategoryState indicates a session state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryCommand:
		return "COMMAND"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one raw frame on the wire.
type FrameEvent struct {
	// Opcode is the frame's command byte, when the frame parsed far
	// enough to extract it.
	Opcode byte `cbor:"1,keyasint,omitempty"`

	// Size is the full frame size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw frame, capped at MaxFrameCapture bytes.
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates Data was capped.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent from raw frame bytes.
func NewFrameEvent(frame []byte) *FrameEvent {
	ev := &FrameEvent{Size: len(frame)}
	if len(frame) >= 4 {
		ev.Opcode = frame[3]
	}
	n := len(frame)
	if n > MaxFrameCapture {
		n = MaxFrameCapture
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), frame[:n]...)
	return ev
}

// CommandEvent captures one command's resolution.
type CommandEvent struct {
	// Opcode the command was issued with.
	Opcode byte `cbor:"1,keyasint"`

	// Priority is "write" or "read".
	Priority string `cbor:"2,keyasint,omitempty"`

	// Outcome is "ok" or the failure kind.
	Outcome string `cbor:"3,keyasint"`

	// Duration from enqueue to resolution. Stored as nanoseconds.
	Duration *time.Duration `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures session lifecycle transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
