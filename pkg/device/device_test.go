package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaapp/marstek-go/pkg/command"
	"github.com/jaapp/marstek-go/pkg/connection"
	"github.com/jaapp/marstek-go/pkg/log"
	"github.com/jaapp/marstek-go/pkg/poll"
	"github.com/jaapp/marstek-go/pkg/protocol"
	"github.com/jaapp/marstek-go/pkg/telemetry"
	"github.com/jaapp/marstek-go/pkg/transport"
)

// captureLogger records protocol events for assertions.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureLogger) count(cat log.Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Category == cat {
			n++
		}
	}
	return n
}

func newTestDevice(t *testing.T, lb *transport.Loopback, capture log.Logger) *Device {
	t.Helper()
	d := New(Config{
		Name:    "garage",
		Target:  "venus-test",
		Dialer:  lb,
		Capture: capture,
	})
	t.Cleanup(func() { d.Close() })
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDeviceStartAndIdentity(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, connection.StateConnected, d.State())

	waitFor(t, "identity prime", func() bool { return d.Info().Type != "" })
	info := d.Info()
	assert.NotEmpty(t, info.MAC)

	// Identity lands in telemetry too.
	v, ok := d.Snapshot().Get(telemetry.FieldDeviceType)
	require.True(t, ok)
	assert.Equal(t, info.Type, v.Value)
}

func TestDeviceOneOffRead(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))

	value, err := d.Read(context.Background(), protocol.OpWiFiSSID, nil)
	require.NoError(t, err)
	_, ok := value.(protocol.WiFiSSID)
	assert.True(t, ok, "got %T", value)
}

func TestDeviceWriteActions(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))
	ctx := context.Background()

	require.NoError(t, d.SetOutput(ctx, true))
	waitFor(t, "output applied", lb.Out1Active)

	require.NoError(t, d.SetChargeMode(ctx, ChargeModeSimultaneous))
	waitFor(t, "charge mode applied", func() bool {
		return lb.ChargeMode() == protocol.ChargeModeSimultaneous
	})

	// Write-only toggle: state is recorded as assumed.
	require.NoError(t, d.SetEPS(ctx, true))
	v, ok := d.Snapshot().Get(telemetry.FieldEPSMode)
	require.True(t, ok)
	assert.Equal(t, telemetry.QualityAssumed, v.Quality)
	assert.Equal(t, true, v.Value)

	require.NoError(t, d.Reboot(ctx))
	waitFor(t, "reboot seen", func() bool { return lb.RebootCount() == 1 })

	assert.Error(t, d.SetPowerMode(ctx, PowerPreset(1234)),
		"unsupported preset must be rejected before hitting the wire")
}

func TestDevicePollingFillsSnapshot(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	lb.SetBattery(64, 52.8, 3.1)

	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))

	// Minimum legal cadence so the test completes quickly.
	applied := d.Reconfigure(poll.Intervals{Fast: time.Second, Medium: 5 * time.Second})
	assert.Equal(t, time.Second, applied.Fast)

	waitFor(t, "first fast poll", func() bool {
		snap := d.Snapshot()
		return snap.Available(telemetry.FieldSOC)
	})

	snap := d.Snapshot()
	soc, _ := snap.Get(telemetry.FieldSOC)
	assert.InDelta(t, 64.0, soc.Value, 0.001)
	state, _ := snap.Get(telemetry.FieldBatteryState)
	assert.Equal(t, telemetry.StateDischarging, state.Value)
}

func TestDeviceCapabilityFilter(t *testing.T) {
	fast := tierReads(poll.TierFast, Capabilities{NoBMS: true})
	for _, cmd := range fast {
		assert.NotEqual(t, protocol.OpBMSData, cmd.Opcode)
	}

	medium := tierReads(poll.TierMedium, Capabilities{NoCTMeter: true, NoLocalAPI: true})
	for _, cmd := range medium {
		assert.NotContains(t, []protocol.Opcode{
			protocol.OpCTPollingRate,
			protocol.OpMeterIP,
			protocol.OpLocalAPIStatus,
		}, cmd.Opcode)
	}

	// Zero capabilities keep the stock lists.
	assert.Len(t, tierReads(poll.TierFast, Capabilities{}), len(poll.TierReads(poll.TierFast)))
}

// TestDeviceReconnectScenario drives the full loss-and-recovery path: queued
// reads fail as superseded, polling stops, and reconnect resumes from tick
// zero with no stuck in-flight command.
func TestDeviceReconnectScenario(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))
	waitFor(t, "scheduler running", d.sched.Running)

	// Two reads stuck behind a muted opcode.
	lb.MuteOpcode(protocol.OpRuntimeInfo, true)
	first := d.queue.Enqueue(command.Read(protocol.OpRuntimeInfo, nil))
	second := d.queue.Enqueue(command.Read(protocol.OpBMSData, nil))

	lb.SetOffline(true)
	lb.DropLinks()

	for _, p := range []*command.Pending{first, second} {
		res, err := p.Await(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, res.Err, command.ErrSuperseded)
	}

	waitFor(t, "scheduler suspended", func() bool { return !d.sched.Running() })
	assert.Equal(t, connection.StateReconnecting, d.State())

	lb.SetOffline(false)
	lb.MuteOpcode(protocol.OpRuntimeInfo, false)

	waitFor(t, "reconnected", func() bool {
		return d.State() == connection.StateConnected && d.sched.Running()
	})
	assert.False(t, d.queue.InFlight(), "no stale in-flight command after reconnect")

	// A fresh write goes straight through.
	require.NoError(t, d.SetBuzzer(context.Background(), false))
}

func TestDeviceCaptureEvents(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	capture := &captureLogger{}
	d := newTestDevice(t, lb, capture)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.SetBuzzer(context.Background(), true))
	waitFor(t, "identity prime", func() bool { return d.Info().Type != "" })

	assert.Greater(t, capture.count(log.CategoryState), 0, "state transitions captured")
	assert.Greater(t, capture.count(log.CategoryFrame), 0, "frames captured")
	assert.Greater(t, capture.count(log.CategoryCommand), 0, "command outcomes captured")
}

func TestDeviceStats(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.SetBuzzer(context.Background(), true))
	waitFor(t, "counters move", func() bool { return d.Stats().Succeeded > 0 })
	stats := d.Stats()
	assert.GreaterOrEqual(t, stats.Enqueued, stats.Succeeded)
}

func TestDeviceIssue(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))
	ctx := context.Background()

	require.NoError(t, d.Issue(ctx, "output", "on"))
	waitFor(t, "output applied", lb.Out1Active)

	require.NoError(t, d.Issue(ctx, "charge_mode", "load_first"))
	waitFor(t, "charge mode applied", func() bool {
		return lb.ChargeMode() == protocol.ChargeModeLoadFirst
	})

	require.NoError(t, d.Issue(ctx, "reboot"))
	waitFor(t, "reboot seen", func() bool { return lb.RebootCount() == 1 })

	assert.ErrorIs(t, d.Issue(ctx, "self_destruct"), ErrUnknownCommand)
	assert.Error(t, d.Issue(ctx, "output", "maybe"))
	assert.Error(t, d.Issue(ctx, "output"))
	assert.Error(t, d.Issue(ctx, "charge_mode", "yolo"))
	assert.Error(t, d.Issue(ctx, "power_mode", "950"))
	assert.Error(t, d.Issue(ctx, "reboot", "now"))
}

func TestDeviceDiagnostics(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)
	require.NoError(t, d.Start(context.Background()))
	ctx := context.Background()

	require.NoError(t, d.SetBuzzer(ctx, true))
	_, err := d.Read(ctx, protocol.OpWiFiSSID, nil)
	require.NoError(t, err)

	diag := d.Diagnostics()
	require.GreaterOrEqual(t, len(diag.History), 2)
	assert.Empty(t, diag.LastError)

	// Newest first: the wifi read resolved after the buzzer write.
	assert.Equal(t, protocol.OpWiFiSSID, diag.History[0].Opcode)

	var sawWrite bool
	for _, rec := range diag.History {
		if rec.Opcode == protocol.OpBuzzer {
			sawWrite = true
			assert.Equal(t, command.PriorityWrite, rec.Priority)
			assert.Equal(t, "ok", rec.Outcome)
		}
	}
	assert.True(t, sawWrite, "buzzer write in history")

	// A muted opcode times out and lands as the last error.
	lb.MuteOpcode(protocol.OpNetworkInfo, true)
	res, err := d.await(ctx, command.Command{
		Opcode:  protocol.OpNetworkInfo,
		Timeout: 50 * time.Millisecond,
		Retries: -1,
	})
	require.NoError(t, err)
	require.Error(t, res.Err)

	diag = d.Diagnostics()
	assert.Contains(t, diag.LastError, "TIMEOUT")
	assert.False(t, diag.LastErrorAt.IsZero())
}

// TestDeviceCommandsFailWhileDisconnected checks a command issued without a
// live session fails right away instead of parking in the queue until the
// next connect.
func TestDeviceCommandsFailWhileDisconnected(t *testing.T) {
	lb := transport.NewLoopback("venus-test")
	d := newTestDevice(t, lb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := d.SetOutput(ctx, true)
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.Less(t, time.Since(start), time.Second, "no queue wait while offline")

	_, err = d.Read(ctx, protocol.OpRuntimeInfo, nil)
	assert.ErrorIs(t, err, connection.ErrNotConnected)
}
