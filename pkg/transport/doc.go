// Package transport defines the link abstraction the protocol core runs on.
//
// The core never talks to a radio directly. It depends on two small
// interfaces: Transport opens a link to a named target, Link sends raw
// frames and delivers inbound frames as a push stream. Two production
// realizations live outside this module - a direct BLE connection and a
// tunnel through a remote gateway process - and the core cannot tell them
// apart.
//
// The Loopback transport in this package is neither of those: it is an
// in-memory simulated battery used by tests and the interactive CLI. It
// speaks the real frame format, so everything above the link boundary is
// exercised against it unchanged.
package transport
