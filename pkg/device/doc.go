// Package device assembles the per-battery stack: one session, one
// command queue, one polling scheduler and one telemetry store, wired
// together and exposed behind a single handle.
//
// A Device owns its goroutines. Start dials the session and begins
// polling; the scheduler suspends automatically whenever the session
// drops and resumes from tick zero on reconnect. Close tears everything
// down without blocking on the network.
//
// Writes go through the logical command methods (SetOutput, SetChargeMode,
// Reboot, ...), which map user intent onto raw opcodes, propagate failures
// to the caller, and record assumed state for the switches the device
// never reports back.
package device
