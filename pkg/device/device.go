package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jaapp/marstek-go/pkg/command"
	"github.com/jaapp/marstek-go/pkg/connection"
	"github.com/jaapp/marstek-go/pkg/log"
	"github.com/jaapp/marstek-go/pkg/poll"
	"github.com/jaapp/marstek-go/pkg/protocol"
	"github.com/jaapp/marstek-go/pkg/telemetry"
	"github.com/jaapp/marstek-go/pkg/transport"
)

// Capabilities flags which optional telemetry a device model supports.
// The zero value means everything; flags switch reads off.
type Capabilities struct {
	// NoBMS drops the BMS read from the fast tier (older firmware
	// answers 0x14 with garbage).
	NoBMS bool

	// NoCTMeter drops the CT rate and meter address reads.
	NoCTMeter bool

	// NoLocalAPI drops the local API status read.
	NoLocalAPI bool
}

// Config configures a Device.
type Config struct {
	// Name is the human label from configuration.
	Name string

	// Target is what the dialer connects to.
	Target string

	// Dialer realizes the link (BLE, gateway tunnel, loopback). Required.
	Dialer transport.Dialer

	// Intervals are the polling cadence, clamped into bounds.
	Intervals poll.Intervals

	// Capabilities trims the poll tiers for limited models.
	Capabilities Capabilities

	// Logger for operational messages. Nil means slog.Default().
	Logger *slog.Logger

	// Capture receives protocol events. Nil disables capture.
	Capture log.Logger
}

// Device is the top-level handle for one battery.
type Device struct {
	name    string
	queue   *command.Queue
	session *connection.Session
	sched   *poll.Scheduler
	store   *telemetry.Store
	capture log.Logger
	log     *slog.Logger
	caps    Capabilities
	history history

	mu   sync.Mutex
	info protocol.DeviceInfo

	closeOnce sync.Once
}

// New assembles a device. Start connects it.
func New(cfg Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", cfg.Name)

	capture := cfg.Capture
	if capture == nil {
		capture = log.NoopLogger{}
	}

	iv := cfg.Intervals
	if iv == (poll.Intervals{}) {
		iv = poll.DefaultIntervals()
	}
	iv = iv.Clamp()

	queue := command.New(logger)
	store := telemetry.NewStore(iv, logger)

	d := &Device{
		name:    cfg.Name,
		queue:   queue,
		store:   store,
		capture: capture,
		log:     logger,
		caps:    cfg.Capabilities,
	}

	d.sched = poll.NewScheduler(poll.Config{
		Queue:       queue,
		Intervals:   iv,
		FastReads:   tierReads(poll.TierFast, cfg.Capabilities),
		MediumReads: tierReads(poll.TierMedium, cfg.Capabilities),
		Logger:      logger,
	})
	d.sched.OnResult(d.onPollResult)

	d.session = connection.NewSession(connection.Config{
		Target:        cfg.Target,
		Dialer:        cfg.Dialer,
		Queue:         queue,
		AutoReconnect: true,
		Logger:        logger,
	})
	d.session.OnStateChange(d.onStateChange)
	d.session.OnConnected(func(string) { go d.primeIdentity() })
	d.session.OnTraffic(d.onTraffic)

	return d
}

// tierReads filters the stock tier lists by capability.
func tierReads(tier poll.Tier, caps Capabilities) []command.Command {
	var out []command.Command
	for _, cmd := range poll.TierReads(tier) {
		switch cmd.Opcode {
		case protocol.OpBMSData:
			if caps.NoBMS {
				continue
			}
		case protocol.OpCTPollingRate, protocol.OpMeterIP:
			if caps.NoCTMeter {
				continue
			}
		case protocol.OpLocalAPIStatus:
			if caps.NoLocalAPI {
				continue
			}
		}
		out = append(out, cmd)
	}
	return out
}

// Name returns the configured device name.
func (d *Device) Name() string { return d.name }

// State returns the session state.
func (d *Device) State() connection.State { return d.session.State() }

// Start dials the device and begins polling. The first dial's error is
// returned; reconnection continues in the background either way.
func (d *Device) Start(ctx context.Context) error {
	return d.session.Start(ctx)
}

// Close tears the device down. Safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.sched.Close()
		d.session.Close()
	})
	return nil
}

// Snapshot returns the current telemetry.
func (d *Device) Snapshot() telemetry.Snapshot { return d.store.Snapshot() }

// Subscribe registers a snapshot-changed callback; the returned function
// unsubscribes.
func (d *Device) Subscribe(fn func(changed []string)) func() {
	return d.store.Subscribe(fn)
}

// Info returns the device identity read at connect. Zero until the first
// successful identity read.
func (d *Device) Info() protocol.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Stats returns cumulative command counters for diagnostics.
func (d *Device) Stats() command.Stats { return d.queue.Stats() }

// Intervals returns the polling cadence in effect.
func (d *Device) Intervals() poll.Intervals { return d.sched.Intervals() }

// Reconfigure applies a new polling cadence at runtime. The clamped result
// is returned and the clock restarts from tick zero.
func (d *Device) Reconfigure(iv poll.Intervals) poll.Intervals {
	applied := d.sched.Reconfigure(iv)
	d.store.SetIntervals(applied)
	d.log.Info("polling reconfigured", "fast", applied.Fast, "medium", applied.Medium)
	return applied
}

// Read issues a one-off read outside the polling tiers and returns the
// decoded payload.
func (d *Device) Read(ctx context.Context, op protocol.Opcode, payload []byte) (any, error) {
	res, err := d.await(ctx, command.Read(op, payload))
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

// onStateChange tracks the session for the scheduler and the capture log.
func (d *Device) onStateChange(old, newState connection.State) {
	if newState == connection.StateConnected {
		d.sched.Resume()
	} else {
		d.sched.Suspend()
	}

	d.capture.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    d.session.LinkID(),
		Target:    d.session.Target(),
		DeviceID:  d.deviceID(),
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: newState.String(),
		},
	})
}

// onTraffic forwards raw frames to the capture log.
func (d *Device) onTraffic(outbound bool, frame []byte) {
	dir := log.DirectionIn
	if outbound {
		dir = log.DirectionOut
	}
	d.capture.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    d.session.LinkID(),
		Target:    d.session.Target(),
		DeviceID:  d.deviceID(),
		Direction: dir,
		Category:  log.CategoryFrame,
		Frame:     log.NewFrameEvent(frame),
	})
}

// onPollResult feeds successful poll reads into the telemetry store and
// records every outcome in the diagnostics history.
func (d *Device) onPollResult(tier poll.Tier, res command.Result) {
	now := time.Now()
	outcome := "ok"
	if res.Err != nil {
		outcome = res.Err.Error()
	}
	d.history.record(CommandRecord{
		Time:     now,
		Opcode:   res.Opcode,
		Priority: command.PriorityRead,
		Outcome:  outcome,
	}, res.Err)

	if res.Err != nil {
		return
	}
	d.store.Apply(res.Opcode, res.Value, tier, now)
}

// primeIdentity reads the device identity once per connect. Identity never
// changes mid-session, so it is not part of any polling tier.
func (d *Device) primeIdentity() {
	res, err := d.queue.Enqueue(command.Read(protocol.OpDeviceInfo, nil)).
		Await(context.Background())
	if err != nil || res.Err != nil {
		d.log.Debug("identity read failed", "error", res.Err)
		return
	}
	info, ok := res.Value.(protocol.DeviceInfo)
	if !ok {
		return
	}

	d.mu.Lock()
	d.info = info
	d.mu.Unlock()
	d.store.Apply(protocol.OpDeviceInfo, info, poll.TierMedium, time.Now())
	d.log.Info("device identity",
		"type", info.Type, "id", info.ID, "mac", info.MAC, "firmware", info.Firmware)

	// First telemetry without waiting for the first fast tick.
	for _, cmd := range tierReads(poll.TierFast, d.caps) {
		res, err := d.queue.Enqueue(cmd).Await(context.Background())
		if err != nil || res.Err != nil {
			return
		}
		d.store.Apply(res.Opcode, res.Value, poll.TierFast, time.Now())
	}
}

func (d *Device) deviceID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.ID
}

// await enqueues one command and waits for its resolution, recording the
// outcome in the capture log. Commands issued while the session is down fail
// immediately rather than sitting in the queue until the next connect.
func (d *Device) await(ctx context.Context, cmd command.Command) (command.Result, error) {
	if !d.session.IsConnected() {
		return command.Result{Opcode: cmd.Opcode, Err: connection.ErrNotConnected},
			connection.ErrNotConnected
	}

	start := time.Now()
	res, err := d.queue.Enqueue(cmd).Await(ctx)

	outcome := "ok"
	if res.Err != nil {
		outcome = res.Err.Error()
	}
	dur := time.Since(start)
	d.history.record(CommandRecord{
		Time:     start,
		Opcode:   cmd.Opcode,
		Priority: cmd.Priority,
		Outcome:  outcome,
		Duration: dur,
	}, res.Err)
	d.capture.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    d.session.LinkID(),
		Target:    d.session.Target(),
		DeviceID:  d.deviceID(),
		Direction: log.DirectionOut,
		Category:  log.CategoryCommand,
		Command: &log.CommandEvent{
			Opcode:   byte(cmd.Opcode),
			Priority: cmd.Priority.String(),
			Outcome:  outcome,
			Duration: &dur,
		},
	})
	return res, err
}
