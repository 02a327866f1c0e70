// Package connection manages the session lifecycle for one Venus device.
//
// This package handles:
//   - Connection state tracking (disconnected, connecting, connected,
//     reconnecting, closed)
//   - Exponential backoff for reconnection attempts
//   - Jitter to prevent synchronized retries across devices
//   - Binding the command queue to the live link and routing inbound
//     frames back to it
//
// # Reconnection Strategy
//
// When a link is lost, the session retries with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s on successful reconnection
//
// # Jitter
//
// Several sessions sharing one BLE adapter should not retry in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # Link Loss
//
// On any transition out of the connected state, every queued and
// in-flight command is failed as superseded. Commands issued after a
// connection drops queue up and dispatch once the link is back.
package connection
