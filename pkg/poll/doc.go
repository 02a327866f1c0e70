// Package poll schedules the periodic reads that keep a device's
// telemetry fresh.
//
// Two tiers share one logical clock. The clock ticks at the fast
// interval; every tick issues the fast tier's reads, and every Nth tick
// (N = round(medium / fast)) also issues the medium tier's reads.
// Deriving both cadences from a single counter keeps them phase-aligned:
// the tiers cannot drift apart, and reconfiguring an interval simply
// restarts the clock from tick zero.
//
// The scheduler suspends while the session is down and resumes from tick
// zero on reconnect. Missed ticks are not replayed. Poll failures are
// logged and swallowed; a missed sample is not an error worth surfacing.
package poll
