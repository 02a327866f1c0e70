package protocol

import (
	"errors"
	"fmt"
)

// Frame format constants.
const (
	// FrameStart is the first byte of every frame.
	FrameStart = 0x73

	// FrameType is the third byte of every frame.
	FrameType = 0x23

	// HeaderSize is the fixed prefix before the payload:
	// start, length, type, opcode.
	HeaderSize = 4

	// MinFrameSize is the smallest valid frame (empty payload + checksum).
	MinFrameSize = HeaderSize + 1

	// MaxFrameSize is limited by the one-byte length field.
	MaxFrameSize = 255

	// MaxPayloadSize is the largest payload that fits in a frame.
	MaxPayloadSize = MaxFrameSize - MinFrameSize
)

// EncodeError reports a payload that cannot be framed. This is a programmer
// error (commands carry at most a few bytes); it is never retried.
type EncodeError struct {
	PayloadLen int
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes exceeds maximum %d", e.PayloadLen, MaxPayloadSize)
}

// DecodeKind classifies frame decode failures.
type DecodeKind uint8

const (
	// KindTruncated indicates the buffer is shorter than a minimal frame or
	// shorter than its own declared length.
	KindTruncated DecodeKind = iota

	// KindChecksumMismatch indicates the XOR checksum did not validate.
	KindChecksumMismatch

	// KindUnknownFraming indicates the start or type byte is wrong.
	KindUnknownFraming

	// KindUnknownOpcode indicates the opcode has no payload decoder.
	KindUnknownOpcode
)

// String returns the decode failure kind name.
func (k DecodeKind) String() string {
	switch k {
	case KindTruncated:
		return "TRUNCATED"
	case KindChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case KindUnknownFraming:
		return "UNKNOWN_FRAMING"
	case KindUnknownOpcode:
		return "UNKNOWN_OPCODE"
	default:
		return "UNKNOWN"
	}
}

// DecodeError reports a frame that could not be decoded. The transport may
// deliver partial or garbled buffers, so decoding is total: every malformed
// input maps to a DecodeError, never a panic.
type DecodeError struct {
	Kind   DecodeKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode failed: %s", e.Kind)
	}
	return fmt.Sprintf("decode failed: %s (%s)", e.Kind, e.Detail)
}

// Is supports errors.Is matching against another DecodeError by kind.
func (e *DecodeError) Is(target error) bool {
	var other *DecodeError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel decode errors for errors.Is checks.
var (
	ErrTruncated        = &DecodeError{Kind: KindTruncated}
	ErrChecksumMismatch = &DecodeError{Kind: KindChecksumMismatch}
	ErrUnknownFraming   = &DecodeError{Kind: KindUnknownFraming}
	ErrUnknownOpcode    = &DecodeError{Kind: KindUnknownOpcode}
)

// Encode builds a complete frame for the given opcode and payload.
// Encoding is deterministic: the same inputs always produce the same bytes.
func Encode(op Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &EncodeError{PayloadLen: len(payload)}
	}

	frame := make([]byte, 0, HeaderSize+len(payload)+1)
	frame = append(frame, FrameStart, 0, FrameType, byte(op))
	frame = append(frame, payload...)
	frame[1] = byte(len(frame) + 1) // length includes the checksum byte

	var sum byte
	for _, b := range frame {
		sum ^= b
	}
	return append(frame, sum), nil
}

// Decode validates a frame and returns its opcode and payload. The returned
// payload aliases data; callers that retain it must copy. Buffers longer
// than the declared frame length are tolerated, the excess is ignored.
func Decode(data []byte) (Opcode, []byte, error) {
	if len(data) < MinFrameSize {
		return 0, nil, &DecodeError{Kind: KindTruncated, Detail: fmt.Sprintf("%d bytes", len(data))}
	}
	if data[0] != FrameStart || data[2] != FrameType {
		return 0, nil, &DecodeError{
			Kind:   KindUnknownFraming,
			Detail: fmt.Sprintf("header %02x %02x %02x", data[0], data[1], data[2]),
		}
	}

	length := int(data[1])
	if length < MinFrameSize {
		return 0, nil, &DecodeError{Kind: KindUnknownFraming, Detail: fmt.Sprintf("declared length %d", length)}
	}
	if len(data) < length {
		return 0, nil, &DecodeError{
			Kind:   KindTruncated,
			Detail: fmt.Sprintf("declared %d bytes, got %d", length, len(data)),
		}
	}
	frame := data[:length]

	var sum byte
	for _, b := range frame[:length-1] {
		sum ^= b
	}
	if sum != frame[length-1] {
		return 0, nil, &DecodeError{
			Kind:   KindChecksumMismatch,
			Detail: fmt.Sprintf("expected %02x, got %02x", sum, frame[length-1]),
		}
	}

	return Opcode(frame[3]), frame[HeaderSize : length-1], nil
}
