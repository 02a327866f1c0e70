// Package command implements the per-device command queue.
//
// The Marstek protocol has no request identifiers: a response notification
// can only be correlated to a request because at most one command is ever
// outstanding on the link. This package enforces that single-in-flight
// discipline and layers ordering, timeouts and retries on top of it.
//
// # Priority classes
//
// Write commands change device state and are never dropped; they are served
// ahead of any queued reads. Read commands are poll traffic: the queue keeps
// at most a handful of them, and when it overflows during a stall the oldest
// queued read is evicted - a stale poll is worth less than a bounded queue.
//
// # Lifecycle
//
// Commands time out individually and are retried with an increasing backoff
// up to their retry budget. When the owning session leaves the Connected
// state, everything in flight or queued resolves as Superseded immediately
// rather than waiting out its timeout.
package command
