package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jaapp/marstek-go/pkg/command"
)

// Config configures a scheduler.
type Config struct {
	// Queue receives the poll reads. Required.
	Queue *command.Queue

	// Intervals are clamped into bounds before use. Zero means defaults.
	Intervals Intervals

	// FastReads and MediumReads override the stock tier command lists.
	// Nil keeps TierReads. A device without BMS access, for example,
	// passes a fast list without the BMS read.
	FastReads   []command.Command
	MediumReads []command.Command

	// Logger for operational messages. Nil means slog.Default().
	Logger *slog.Logger
}

// Scheduler drives the two polling tiers for one device from a single
// monotonic tick counter.
type Scheduler struct {
	mu sync.Mutex

	queue *command.Queue
	log   *slog.Logger

	intervals Intervals
	ratio     uint64
	counter   uint64

	fastReads   []command.Command
	mediumReads []command.Command

	onResult func(tier Tier, res command.Result)

	// cancel is non-nil while the clock is ticking.
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a suspended scheduler; Resume starts the clock.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Queue == nil {
		panic("poll: Config.Queue is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	iv := cfg.Intervals
	if iv == (Intervals{}) {
		iv = DefaultIntervals()
	}
	iv = iv.Clamp()

	fast := cfg.FastReads
	if fast == nil {
		fast = TierReads(TierFast)
	}
	medium := cfg.MediumReads
	if medium == nil {
		medium = TierReads(TierMedium)
	}

	return &Scheduler{
		queue:       cfg.Queue,
		log:         log,
		intervals:   iv,
		ratio:       iv.Ratio(),
		fastReads:   fast,
		mediumReads: medium,
	}
}

// Intervals returns the clamped intervals in effect.
func (s *Scheduler) Intervals() Intervals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals
}

// TickCount returns the ticks elapsed since the clock last (re)started.
func (s *Scheduler) TickCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Running reports whether the clock is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// OnResult sets a callback receiving every poll read's outcome.
func (s *Scheduler) OnResult(fn func(tier Tier, res command.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

// Resume starts the clock from tick zero. Called on every transition into
// the connected state. No-op while already running.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

// Suspend stops the clock. Called on every transition out of the connected
// state; queued poll reads are left for the queue to supersede.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Reconfigure applies new intervals, clamped into bounds. A running clock
// restarts from tick zero so the new cadence takes effect immediately.
func (s *Scheduler) Reconfigure(iv Intervals) Intervals {
	iv = iv.Clamp()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals = iv
	s.ratio = iv.Ratio()
	s.counter = 0
	if s.cancel != nil {
		s.stopLocked()
		s.startLocked()
	}
	return iv
}

// Close stops the clock permanently and waits for the tick goroutine.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) startLocked() {
	if s.cancel != nil || s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.counter = 0
	s.wg.Add(1)
	go s.run(ctx, s.intervals.Fast)
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// run is the clock goroutine. A sweep that outlasts the fast interval
// simply coalesces ticker fires; missed ticks are not replayed.
func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tier := range s.advance() {
				s.sweep(ctx, tier)
			}
		}
	}
}

// advance moves the clock one tick and reports which tiers are due.
func (s *Scheduler) advance() []Tier {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	tiers := []Tier{TierFast}
	if s.counter%s.ratio == 0 {
		tiers = append(tiers, TierMedium)
	}
	return tiers
}

// sweep issues one tier's reads sequentially, awaiting each response before
// enqueueing the next so a full sweep never floods the bounded read queue.
func (s *Scheduler) sweep(ctx context.Context, tier Tier) {
	for _, cmd := range s.reads(tier) {
		res, err := s.queue.Enqueue(cmd).Await(ctx)
		if err != nil {
			return // clock stopped mid-sweep
		}
		if res.Err != nil {
			// Swallowed: a missed sample is repaired by the next tick.
			s.log.Debug("poll read failed",
				"tier", tier.String(), "opcode", cmd.Opcode.String(), "error", res.Err)
		}
		s.notifyResult(tier, res)
	}
}

func (s *Scheduler) reads(tier Tier) []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tier == TierFast {
		return s.fastReads
	}
	return s.mediumReads
}

func (s *Scheduler) notifyResult(tier Tier, res command.Result) {
	s.mu.Lock()
	cb := s.onResult
	s.mu.Unlock()
	if cb != nil {
		cb(tier, res)
	}
}
