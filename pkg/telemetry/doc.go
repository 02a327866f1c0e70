// Package telemetry merges decoded poll responses into one typed snapshot
// per device.
//
// Each field carries the tier that produced it, the time it was last
// updated, and a quality tag. Updates are monotonic: a response that
// arrives late never overwrites a newer value. A field whose value has not
// been refreshed for three times its tier's interval is reported
// unavailable, but keeps its last-known value so consumers can still
// display it.
//
// Some device switches give no telemetry feedback at all. Writes to those
// are recorded as assumed values, tagged so consumers can tell optimistic
// state from state the device actually confirmed.
package telemetry
