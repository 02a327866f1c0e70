package device

import (
	"sync"
	"time"

	"github.com/jaapp/marstek-go/pkg/command"
	"github.com/jaapp/marstek-go/pkg/protocol"
)

// historySize bounds the diagnostics command ring.
const historySize = 32

// CommandRecord is one resolved command in the diagnostics history.
type CommandRecord struct {
	Time     time.Time
	Opcode   protocol.Opcode
	Priority command.Priority
	Outcome  string
	Duration time.Duration
}

// Diagnostics is a point-in-time view of the device's command activity.
type Diagnostics struct {
	Stats       command.Stats
	LastError   string
	LastErrorAt time.Time

	// History holds the most recent command resolutions, newest first.
	History []CommandRecord
}

// history is a fixed-size ring of command records.
type history struct {
	mu          sync.Mutex
	records     [historySize]CommandRecord
	next        int
	count       int
	lastError   string
	lastErrorAt time.Time
}

func (h *history) record(rec CommandRecord, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = rec
	h.next = (h.next + 1) % historySize
	if h.count < historySize {
		h.count++
	}
	if err != nil {
		h.lastError = err.Error()
		h.lastErrorAt = rec.Time
	}
}

// snapshot returns the ring contents newest first.
func (h *history) snapshot() ([]CommandRecord, string, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CommandRecord, 0, h.count)
	for i := 1; i <= h.count; i++ {
		idx := (h.next - i + historySize) % historySize
		out = append(out, h.records[idx])
	}
	return out, h.lastError, h.lastErrorAt
}

// Diagnostics returns command counters, the last error, and the recent
// command history.
func (d *Device) Diagnostics() Diagnostics {
	records, lastErr, lastErrAt := d.history.snapshot()
	return Diagnostics{
		Stats:       d.queue.Stats(),
		LastError:   lastErr,
		LastErrorAt: lastErrAt,
		History:     records,
	}
}
