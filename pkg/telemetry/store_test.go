package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaapp/marstek-go/pkg/poll"
	"github.com/jaapp/marstek-go/pkg/protocol"
)

func newTestStore() *Store {
	return NewStore(poll.Intervals{Fast: time.Second, Medium: 5 * time.Second}, nil)
}

func applyBMS(st *Store, voltage, current float64, at time.Time) {
	st.Apply(protocol.OpBMSData, protocol.BMSData{
		SOC:            50,
		SOH:            99,
		DesignCapacity: 5120,
		Voltage:        voltage,
		Current:        current,
	}, poll.TierFast, at)
}

func fieldValue(t *testing.T, st *Store, name string) any {
	t.Helper()
	v, ok := st.Field(name)
	require.True(t, ok, "field %s missing", name)
	return v.Value
}

func TestDerivedPowerFields(t *testing.T) {
	t.Run("discharging", func(t *testing.T) {
		st := newTestStore()
		applyBMS(st, 51.2, 2.5, time.Now())

		assert.InDelta(t, 128.0, fieldValue(t, st, FieldPower), 1e-9)
		assert.InDelta(t, 128.0, fieldValue(t, st, FieldPowerOut), 1e-9)
		assert.InDelta(t, 0.0, fieldValue(t, st, FieldPowerIn), 1e-9)
		assert.Equal(t, StateDischarging, fieldValue(t, st, FieldBatteryState))
	})

	t.Run("charging", func(t *testing.T) {
		st := newTestStore()
		applyBMS(st, 51.2, -2.5, time.Now())

		assert.InDelta(t, -128.0, fieldValue(t, st, FieldPower), 1e-9)
		assert.InDelta(t, 0.0, fieldValue(t, st, FieldPowerOut), 1e-9)
		assert.InDelta(t, 128.0, fieldValue(t, st, FieldPowerIn), 1e-9)
		assert.Equal(t, StateCharging, fieldValue(t, st, FieldBatteryState))
	})

	t.Run("inactive", func(t *testing.T) {
		st := newTestStore()
		applyBMS(st, 51.2, 0, time.Now())
		assert.Equal(t, StateInactive, fieldValue(t, st, FieldBatteryState))
	})

	t.Run("dead band", func(t *testing.T) {
		// 51.2 V * 0.09 A = 4.6 W, inside the 5 W threshold.
		st := newTestStore()
		applyBMS(st, 51.2, 0.09, time.Now())
		assert.Equal(t, StateInactive, fieldValue(t, st, FieldBatteryState))
	})
}

func TestRemainingCapacity(t *testing.T) {
	st := newTestStore()
	applyBMS(st, 51.2, 0, time.Now()) // SOC 50, design 5120 Wh
	assert.InDelta(t, 2560.0, fieldValue(t, st, FieldRemainingWh), 1e-9)
}

func TestMonotonicTimestamps(t *testing.T) {
	st := newTestStore()
	now := time.Now()

	applyBMS(st, 52.0, 1.0, now)
	applyBMS(st, 48.0, 9.0, now.Add(-time.Second)) // late response

	assert.InDelta(t, 52.0, fieldValue(t, st, FieldVoltage), 1e-9)

	// Equal timestamps are accepted; only strictly older ones are dropped.
	applyBMS(st, 50.0, 1.0, now)
	assert.InDelta(t, 50.0, fieldValue(t, st, FieldVoltage), 1e-9)
}

func TestStaleness(t *testing.T) {
	st := newTestStore() // fast tier interval 1s, stale past 3s
	now := time.Now()

	applyBMS(st, 51.2, 1.0, now.Add(-10*time.Second))

	snap := st.Snapshot()
	assert.False(t, snap.Available(FieldVoltage), "old field must be unavailable")

	// The last-known value is retained, not deleted.
	v, ok := snap.Get(FieldVoltage)
	require.True(t, ok)
	assert.InDelta(t, 51.2, v.Value, 1e-9)

	// A fresh update brings the field back.
	applyBMS(st, 51.3, 1.0, now)
	assert.True(t, st.Snapshot().Available(FieldVoltage))
}

func TestStalenessPerTier(t *testing.T) {
	st := newTestStore() // medium interval 5s, stale past 15s
	at := time.Now().Add(-10 * time.Second)

	st.Apply(protocol.OpWiFiSSID, protocol.WiFiSSID{SSID: "hamenet"}, poll.TierMedium, at)
	applyBMS(st, 51.2, 1.0, at)

	snap := st.Snapshot()
	assert.True(t, snap.Available(FieldWiFiSSID), "10s is fresh for the medium tier")
	assert.False(t, snap.Available(FieldVoltage), "10s is stale for the fast tier")
}

func TestAssumedSuperseded(t *testing.T) {
	st := newTestStore()
	now := time.Now()

	st.ApplyAssumed(FieldOut1Active, true, now)
	v, ok := st.Field(FieldOut1Active)
	require.True(t, ok)
	assert.Equal(t, QualityAssumed, v.Quality)
	assert.Equal(t, true, v.Value)

	st.Apply(protocol.OpRuntimeInfo, protocol.RuntimeInfo{Out1Active: false},
		poll.TierFast, now.Add(time.Second))
	v, _ = st.Field(FieldOut1Active)
	assert.Equal(t, QualityConfirmed, v.Quality)
	assert.Equal(t, false, v.Value)
}

func TestRuntimeShortFormatSkipsTemperatures(t *testing.T) {
	st := newTestStore()
	st.Apply(protocol.OpRuntimeInfo, protocol.RuntimeInfo{Out1Power: 300},
		poll.TierFast, time.Now())

	_, ok := st.Field(FieldTempLow)
	assert.False(t, ok, "short format carries no temperatures")
	assert.InDelta(t, 300.0, fieldValue(t, st, FieldOut1Power), 1e-9)
}

func TestSubscribe(t *testing.T) {
	st := newTestStore()

	var mu sync.Mutex
	var seen [][]string
	unsub := st.Subscribe(func(changed []string) {
		mu.Lock()
		seen = append(seen, changed)
		mu.Unlock()
	})

	applyBMS(st, 51.2, 1.0, time.Now())
	mu.Lock()
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], FieldVoltage)
	assert.Contains(t, seen[0], FieldPower)
	mu.Unlock()

	// A fully-dropped update must not notify.
	applyBMS(st, 48.0, 2.0, time.Now().Add(-time.Hour))
	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()

	unsub()
	applyBMS(st, 50.0, 1.0, time.Now().Add(time.Second))
	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()
}

func TestSnapshotIsolation(t *testing.T) {
	st := newTestStore()
	applyBMS(st, 51.2, 1.0, time.Now())

	snap := st.Snapshot()
	applyBMS(st, 48.0, 1.0, time.Now().Add(time.Second))

	v, _ := snap.Get(FieldVoltage)
	assert.InDelta(t, 51.2, v.Value, 1e-9, "snapshot must not see later writes")
}

func TestCellVoltages(t *testing.T) {
	st := newTestStore()
	bms := protocol.BMSData{Voltage: 51.2, CellCount: 3}
	bms.CellVoltages[0] = 3.198
	bms.CellVoltages[1] = 3.201
	bms.CellVoltages[2] = 3.199
	st.Apply(protocol.OpBMSData, bms, poll.TierFast, time.Now())

	cells, ok := fieldValue(t, st, FieldCellVoltages).([]float64)
	require.True(t, ok)
	assert.Equal(t, []float64{3.198, 3.201, 3.199}, cells)
}
