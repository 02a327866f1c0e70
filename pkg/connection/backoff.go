package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Reconnect delay parameters. The battery accepts one BLE connection at a
// time, so hammering it after a drop only keeps the slot busy.
const (
	// InitialBackoff is the delay before the first reconnect attempt.
	InitialBackoff = 1 * time.Second

	// MaxBackoff caps the delay between attempts.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier = 2.0

	// JitterFactor bounds the random fraction added on top of the base
	// delay, so several clients do not redial in lockstep.
	JitterFactor = 0.25
)

// BackoffConfig overrides the reconnect delay parameters. Zero values fall
// back to the package defaults; a negative Jitter disables jitter entirely.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Backoff tracks the exponential reconnect delay across attempts. All
// methods are safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	attempts int
	rng      *rand.Rand

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

// NewBackoff returns a Backoff with the package defaults.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig returns a Backoff with cfg applied over the defaults.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the jittered delay for the upcoming attempt and advances the
// base delay toward the cap.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.jittered(b.current)
	b.attempts++
	if grown := time.Duration(float64(b.current) * b.multiplier); grown < b.max {
		b.current = grown
	} else {
		b.current = b.max
	}
	return delay
}

// Peek returns the delay Next would hand out, without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jittered(b.current)
}

// Reset returns the delay to its initial value. Called after a connect
// succeeds.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts reports how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay for the upcoming attempt, without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// BackoffSequence lists the default base delays, first attempt to cap.
func BackoffSequence() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
	}
}
