package command

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jaapp/marstek-go/pkg/protocol"
)

// DefaultMaxReads is the bound on queued read commands per device.
const DefaultMaxReads = 4

// SendFunc transmits one encoded command to the device. It is installed by
// the owning session while a link is live.
type SendFunc func(op protocol.Opcode, payload []byte) error

// Stats are cumulative queue counters, used for diagnostics.
type Stats struct {
	Enqueued  int
	Sent      int
	Succeeded int
	Failed    int
	Retried   int
	Evicted   int
}

// Queue serializes commands for one device, keeping at most one in flight.
type Queue struct {
	mu sync.Mutex

	writes []*Pending // unbounded, FIFO
	reads  []*Pending // bounded, FIFO, oldest evicted on overflow

	inFlight *Pending
	timer    *time.Timer

	// send is non-nil only while the session is Connected.
	send SendFunc

	maxReads int
	stats    Stats
	log      *slog.Logger
}

// New creates a queue with the default read bound.
func New(log *slog.Logger) *Queue {
	return NewWithBound(log, DefaultMaxReads)
}

// NewWithBound creates a queue with a custom read bound.
func NewWithBound(log *slog.Logger, maxReads int) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if maxReads <= 0 {
		maxReads = DefaultMaxReads
	}
	return &Queue{maxReads: maxReads, log: log}
}

// Enqueue adds a command and returns its handle. If the queue is bound to a
// live link and idle, the command is sent immediately.
func (q *Queue) Enqueue(cmd Command) *Pending {
	p := newPending(cmd)

	q.mu.Lock()
	q.stats.Enqueued++
	if cmd.Priority == PriorityWrite {
		q.writes = append(q.writes, p)
	} else {
		if len(q.reads) >= q.maxReads {
			evicted := q.reads[0]
			q.reads = q.reads[1:]
			q.stats.Evicted++
			q.log.Debug("read queue overflow, evicting oldest",
				"evicted", evicted.cmd.Opcode.String())
			evicted.resolve(Result{
				Opcode: evicted.cmd.Opcode,
				Err:    &Error{Kind: FailureSuperseded, Opcode: evicted.cmd.Opcode},
			})
		}
		q.reads = append(q.reads, p)
	}
	q.lockedPump()
	q.mu.Unlock()

	return p
}

// Bind attaches the queue to a live link and starts dispatching.
func (q *Queue) Bind(send SendFunc) {
	q.mu.Lock()
	q.send = send
	q.lockedPump()
	q.mu.Unlock()
}

// Unbind detaches the queue. Queued commands stay queued; the in-flight
// command, if any, is not touched - callers that are tearing the session
// down use SupersedeAll instead.
func (q *Queue) Unbind() {
	q.mu.Lock()
	q.send = nil
	q.mu.Unlock()
}

// HandleResponse offers an inbound decoded response to the queue. It
// resolves the in-flight command when the opcode matches its expected
// response, and reports false for out-of-band frames, which callers discard.
func (q *Queue) HandleResponse(op protocol.Opcode, value any, raw []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.inFlight
	if p == nil {
		return false
	}
	expected, ok := protocol.ResponseFor(p.cmd.Opcode)
	if !ok || expected != op {
		return false
	}

	q.lockedStopTimer()
	q.inFlight = nil
	q.stats.Succeeded++
	p.resolve(Result{Opcode: p.cmd.Opcode, Value: value, Raw: raw})
	q.lockedPump()
	return true
}

// HandleMalformed resolves the in-flight command as malformed when a frame
// with its expected response opcode arrived but did not decode. Frames for
// other opcodes report false and are discarded by the caller.
func (q *Queue) HandleMalformed(op protocol.Opcode, cause error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.inFlight
	if p == nil {
		return false
	}
	expected, ok := protocol.ResponseFor(p.cmd.Opcode)
	if !ok || expected != op {
		return false
	}

	q.lockedStopTimer()
	q.inFlight = nil
	q.stats.Failed++
	p.resolve(Result{
		Opcode: p.cmd.Opcode,
		Err:    &Error{Kind: FailureMalformed, Opcode: p.cmd.Opcode, Cause: cause},
	})
	q.lockedPump()
	return true
}

// SupersedeAll fails the in-flight command and everything queued. Called on
// any transition out of Connected.
func (q *Queue) SupersedeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.send = nil
	q.lockedStopTimer()

	fail := func(p *Pending) {
		q.stats.Failed++
		p.resolve(Result{
			Opcode: p.cmd.Opcode,
			Err:    &Error{Kind: FailureSuperseded, Opcode: p.cmd.Opcode},
		})
	}

	if q.inFlight != nil {
		fail(q.inFlight)
		q.inFlight = nil
	}
	for _, p := range q.writes {
		fail(p)
	}
	for _, p := range q.reads {
		fail(p)
	}
	q.writes = nil
	q.reads = nil
}

// InFlight reports whether a command is currently outstanding.
func (q *Queue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight != nil
}

// Depth returns the number of queued (not in-flight) commands.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.writes) + len(q.reads)
}

// Stats returns a copy of the cumulative counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// lockedPump starts the next command if the queue is bound and idle.
func (q *Queue) lockedPump() {
	if q.send == nil || q.inFlight != nil {
		return
	}

	var next *Pending
	switch {
	case len(q.writes) > 0:
		next = q.writes[0]
		q.writes = q.writes[1:]
	case len(q.reads) > 0:
		next = q.reads[0]
		q.reads = q.reads[1:]
	default:
		return
	}

	q.inFlight = next
	q.lockedSendAttempt(next)
}

// lockedSendAttempt transmits the in-flight command once and arms its
// timeout. Caller holds mu and has set q.inFlight = p.
func (q *Queue) lockedSendAttempt(p *Pending) {
	p.attempt++
	q.stats.Sent++

	if err := q.send(p.cmd.Opcode, p.cmd.Payload); err != nil {
		// The link refused the frame; it is about to drop. Resolve now,
		// the session will supersede anything else when it notices.
		q.inFlight = nil
		q.stats.Failed++
		p.resolve(Result{
			Opcode: p.cmd.Opcode,
			Err:    &Error{Kind: FailureTransport, Opcode: p.cmd.Opcode, Cause: err},
		})
		return
	}

	if !p.cmd.expectsResponse() {
		// Fire-and-forget: sent is done.
		q.inFlight = nil
		q.stats.Succeeded++
		p.resolve(Result{Opcode: p.cmd.Opcode})
		q.lockedPump()
		return
	}

	attempt := p.attempt
	q.timer = time.AfterFunc(p.cmd.timeout(), func() {
		q.onTimeout(p, attempt)
	})
}

// onTimeout handles expiry of one send attempt.
func (q *Queue) onTimeout(p *Pending, attempt int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Stale timer: the command resolved or the session changed underneath.
	if q.inFlight != p || p.attempt != attempt {
		return
	}

	if p.attempt > p.cmd.retries() {
		q.inFlight = nil
		q.stats.Failed++
		q.log.Debug("command timed out",
			"opcode", p.cmd.Opcode.String(), "attempts", p.attempt)
		p.resolve(Result{
			Opcode: p.cmd.Opcode,
			Err:    &Error{Kind: FailureTimeout, Opcode: p.cmd.Opcode},
		})
		q.lockedPump()
		return
	}

	// Retry after a backoff that grows with each attempt. The command
	// stays in flight so nothing else can jump ahead of it.
	q.stats.Retried++
	delay := RetryBackoff * time.Duration(p.attempt)
	q.log.Debug("command timed out, retrying",
		"opcode", p.cmd.Opcode.String(), "attempt", p.attempt, "delay", delay)

	next := p.attempt
	q.timer = time.AfterFunc(delay, func() {
		q.retrySend(p, next)
	})
}

// retrySend re-transmits after the backoff delay.
func (q *Queue) retrySend(p *Pending, attempt int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight != p || p.attempt != attempt {
		return
	}
	if q.send == nil {
		// Session dropped while we were backing off; SupersedeAll has
		// either run or is about to. Nothing to do here.
		return
	}
	q.lockedSendAttempt(p)
}

// lockedStopTimer cancels any pending timeout or retry timer.
func (q *Queue) lockedStopTimer() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}
