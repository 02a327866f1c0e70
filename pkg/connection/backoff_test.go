package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Jitter: -1}) // jitter off

	for i, want := range BackoffSequence() {
		got := b.Next()
		assert.Equal(t, want, got, "attempt %d", i+1)
	}

	// Stays pinned at the maximum.
	assert.Equal(t, MaxBackoff, b.Next())
	assert.Equal(t, MaxBackoff, b.Next())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Jitter: -1})

	b.Next()
	b.Next()
	b.Next()
	assert.Equal(t, 3, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, InitialBackoff, b.Next())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff()

	for i := 0; i < 100; i++ {
		base := b.Current()
		delay := b.Peek()
		ceiling := base + time.Duration(float64(base)*JitterFactor)
		assert.GreaterOrEqual(t, delay, base)
		assert.LessOrEqual(t, delay, ceiling)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{})
	assert.Equal(t, InitialBackoff, b.Current())
}
