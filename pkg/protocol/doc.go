// Package protocol implements the Marstek binary frame format.
//
// Every command and notification is a single frame:
//
//	┌──────┬──────┬──────┬────────┬─────────────┬──────┐
//	│ 0x73 │ len  │ 0x23 │ opcode │ payload ... │ xor  │
//	└──────┴──────┴──────┴────────┴─────────────┴──────┘
//
// The length byte counts the whole frame including the trailing checksum.
// The checksum is the XOR of every preceding byte. There is no request
// identifier anywhere in the frame: responses are correlated to requests
// purely by the single-command-in-flight discipline enforced upstream.
//
// # Opcodes
//
// Read opcodes (runtime info, BMS data, system data, ...) are answered by a
// notification carrying the same opcode. Write opcodes (output control,
// EPS mode, reboot, ...) are fire-and-forget: the device sends no response
// frame, only the eventual effect shows up in later telemetry.
//
// Opcode 0x0D is dual-purpose: reading it returns system data, writing it
// with a one-byte payload selects the charge mode.
//
// # Payload layouts
//
// The per-opcode payload layouts, offsets and scale factors in this package
// were reverse-engineered from captures of real Venus E devices. They are a
// contract to match against device behavior, not something to re-derive.
// Scalars are little-endian; voltage is scaled /100, current /10 (signed),
// temperatures /10 (signed), cell voltages /1000.
package protocol
