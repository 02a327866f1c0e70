package marstek_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaapp/marstek-go/pkg/config"
	"github.com/jaapp/marstek-go/pkg/connection"
	"github.com/jaapp/marstek-go/pkg/device"
	"github.com/jaapp/marstek-go/pkg/log"
	"github.com/jaapp/marstek-go/pkg/telemetry"
	"github.com/jaapp/marstek-go/pkg/transport"
)

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestE2E_ConfigToTelemetry drives the full stack: YAML config, device
// assembly, polling, and derived telemetry.
func TestE2E_ConfigToTelemetry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg, err := config.Parse([]byte(`
devices:
  - name: garage
    target: venus-garage
    transport: loopback
    fast_interval: 1s
    medium_interval: 5s
`))
	require.NoError(t, err)
	dc := cfg.Devices[0]

	lb := transport.NewLoopback(dc.Target)
	lb.SetBattery(82, 52.4, -1.8)

	d := device.New(device.Config{
		Name:      dc.Name,
		Target:    dc.Target,
		Dialer:    lb,
		Intervals: dc.Intervals(),
	})
	defer d.Close()

	require.NoError(t, d.Start(context.Background()))

	waitFor(t, 5*time.Second, "first fast sweep", func() bool {
		return d.Snapshot().Available(telemetry.FieldSOC)
	})

	snap := d.Snapshot()
	soc, ok := snap.Get(telemetry.FieldSOC)
	require.True(t, ok)
	assert.EqualValues(t, 82, soc.Value)

	// 52.4 V * -1.8 A: charging, all power flowing in.
	power, ok := snap.Get(telemetry.FieldPower)
	require.True(t, ok)
	assert.InDelta(t, -94.32, power.Value.(float64), 0.01)

	state, ok := snap.Get(telemetry.FieldBatteryState)
	require.True(t, ok)
	assert.Equal(t, telemetry.StateCharging, state.Value)

	in, _ := snap.Get(telemetry.FieldPowerIn)
	out, _ := snap.Get(telemetry.FieldPowerOut)
	assert.InDelta(t, 94.32, in.Value.(float64), 0.01)
	assert.EqualValues(t, 0, out.Value.(float64))
}

// TestE2E_ReconnectResumesPolling drops the link mid-run and verifies the
// session reconnects and telemetry keeps flowing on a fresh link.
func TestE2E_ReconnectResumesPolling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	lb := transport.NewLoopback("venus")
	lb.SetBattery(50, 51.2, 0)

	d := device.New(device.Config{Name: "venus", Target: "venus", Dialer: lb})
	defer d.Close()

	require.NoError(t, d.Start(context.Background()))
	waitFor(t, 5*time.Second, "initial telemetry", func() bool {
		return d.Snapshot().Available(telemetry.FieldSOC)
	})

	lb.DropLinks()
	waitFor(t, 10*time.Second, "reconnect", func() bool {
		return d.State() == connection.StateConnected
	})

	// New link, polling resumed: a battery change makes it through.
	lb.SetBattery(51, 51.2, 0)
	waitFor(t, 5*time.Second, "telemetry after reconnect", func() bool {
		v, ok := d.Snapshot().Get(telemetry.FieldSOC)
		return ok && v.Value == float64(51)
	})
}

// TestE2E_CaptureFile verifies that a session writes a capture file that
// the reader side can decode and filter.
func TestE2E_CaptureFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	path := filepath.Join(t.TempDir(), "venus.mlog")
	fl, err := log.NewFileLogger(path)
	require.NoError(t, err)

	lb := transport.NewLoopback("venus")
	d := device.New(device.Config{Name: "venus", Target: "venus", Dialer: lb, Capture: fl})

	require.NoError(t, d.Start(context.Background()))
	waitFor(t, 5*time.Second, "first sweep captured", func() bool {
		return d.Snapshot().Available(telemetry.FieldSOC)
	})
	require.NoError(t, d.Close())
	require.NoError(t, fl.Close())

	outbound := log.DirectionOut
	reader, err := log.NewFilteredReader(path, log.Filter{
		Category:  categoryPtr(log.CategoryFrame),
		Direction: &outbound,
	})
	require.NoError(t, err)
	defer reader.Close()

	frames := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NotNil(t, event.Frame)
		assert.Equal(t, byte(0x73), event.Frame.Data[0])
		frames++
	}
	assert.Greater(t, frames, 0, "expected outbound frames in capture")
}

func categoryPtr(c log.Category) *log.Category { return &c }
