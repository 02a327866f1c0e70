package telemetry

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jaapp/marstek-go/pkg/poll"
	"github.com/jaapp/marstek-go/pkg/protocol"
)

// StaleMultiplier is how many missed tier periods make a field stale.
const StaleMultiplier = 3

// Store accumulates a device's telemetry. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	fields    map[string]Value
	intervals poll.Intervals
	log       *slog.Logger

	subs   map[int]func(changed []string)
	nextID int
}

// NewStore creates an empty store. The intervals are used for staleness
// judgments and should track the scheduler's.
func NewStore(iv poll.Intervals, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		fields:    make(map[string]Value),
		intervals: iv.Clamp(),
		log:       log,
		subs:      make(map[int]func(changed []string)),
	}
}

// SetIntervals updates the staleness reference after a reconfiguration.
func (st *Store) SetIntervals(iv poll.Intervals) {
	st.mu.Lock()
	st.intervals = iv.Clamp()
	st.mu.Unlock()
}

// Subscribe registers a callback invoked after every apply that changed at
// least one field. The returned function unsubscribes.
func (st *Store) Subscribe(fn func(changed []string)) func() {
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.subs[id] = fn
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}
}

// Snapshot returns a consistent copy of all fields.
func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	fields := make(map[string]Value, len(st.fields))
	for k, v := range st.fields {
		fields[k] = v
	}
	return Snapshot{
		Fields:    fields,
		Taken:     time.Now(),
		intervals: st.intervals,
	}
}

// Apply merges one decoded response into the store. The value is one of
// the protocol payload structs; unrecognized types are ignored.
func (st *Store) Apply(op protocol.Opcode, value any, tier poll.Tier, at time.Time) {
	st.mu.Lock()
	var changed []string

	set := func(name string, v any) {
		if st.lockedSet(name, Value{Value: v, Tier: tier, UpdatedAt: at}) {
			changed = append(changed, name)
		}
	}

	switch data := value.(type) {
	case protocol.BMSData:
		set(FieldSOC, data.SOC)
		set(FieldSOH, data.SOH)
		set(FieldDesignCapacity, data.DesignCapacity)
		set(FieldVoltage, data.Voltage)
		set(FieldCurrent, data.Current)
		set(FieldBatteryTemp, data.Temperature)
		cells := make([]float64, data.CellCount)
		copy(cells, data.CellVoltages[:data.CellCount])
		set(FieldCellVoltages, cells)

		power := data.Voltage * data.Current
		set(FieldPower, power)
		set(FieldPowerOut, math.Max(0, power))
		set(FieldPowerIn, math.Max(0, -power))
		set(FieldBatteryState, stateFor(power))
		set(FieldRemainingWh, data.DesignCapacity*data.SOC/100)

	case protocol.RuntimeInfo:
		set(FieldWiFiConnected, data.WiFiConnected)
		set(FieldMQTTConnected, data.MQTTConnected)
		set(FieldOut1Active, data.Out1Active)
		set(FieldOut1Power, data.Out1Power)
		set(FieldExtern1, data.Extern1Connected)
		if data.HasTemperatures {
			set(FieldTempLow, data.TempLow)
			set(FieldTempHigh, data.TempHigh)
		}

	case protocol.SystemData:
		set(FieldSystemStatus, data.Status)

	case protocol.TimerInfo:
		set(FieldAdaptiveMode, data.AdaptiveModeEnabled)
		set(FieldMeterConnect, data.SmartMeterConnected)
		set(FieldAdaptivePower, data.AdaptivePowerOut)

	case protocol.ConfigData:
		set(FieldConfigMode, data.Mode)
		set(FieldConfigStatus, data.Status)
		set(FieldConfigValue, data.Value)

	case protocol.WiFiSSID:
		set(FieldWiFiSSID, data.SSID)

	case protocol.NetworkInfo:
		set(FieldNetworkInfo, data.Info)

	case protocol.CTPollingRate:
		set(FieldCTPollingRate, data.Rate)

	case protocol.LocalAPIStatus:
		set(FieldLocalAPIOn, data.Enabled)
		set(FieldLocalAPIPort, data.Port)

	case protocol.MeterIP:
		set(FieldMeterIP, data.Address)

	case protocol.DeviceInfo:
		set(FieldDeviceType, data.Type)
		set(FieldDeviceID, data.ID)
		set(FieldDeviceMAC, data.MAC)
		set(FieldFirmware, data.Firmware)

	default:
		st.log.Debug("no telemetry mapping", "opcode", op.String())
	}

	subs := st.lockedSubscribers(changed)
	st.mu.Unlock()
	notify(subs, changed)
}

// ApplyAssumed records optimistic state after a write to a feedback-less
// switch. A later confirmed update for the same field supersedes it.
func (st *Store) ApplyAssumed(name string, value any, at time.Time) {
	st.mu.Lock()
	var changed []string
	if st.lockedSet(name, Value{
		Value:     value,
		Tier:      poll.TierFast,
		Quality:   QualityAssumed,
		UpdatedAt: at,
	}) {
		changed = append(changed, name)
	}
	subs := st.lockedSubscribers(changed)
	st.mu.Unlock()
	notify(subs, changed)
}

// Field returns one field's current entry.
func (st *Store) Field(name string) (Value, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.fields[name]
	return v, ok
}

// lockedSet enforces the monotonic-timestamp invariant: an update older
// than the field's current entry is dropped.
func (st *Store) lockedSet(name string, v Value) bool {
	if cur, ok := st.fields[name]; ok && v.UpdatedAt.Before(cur.UpdatedAt) {
		st.log.Debug("dropping out-of-order update",
			"field", name, "have", cur.UpdatedAt, "got", v.UpdatedAt)
		return false
	}
	st.fields[name] = v
	return true
}

func (st *Store) lockedSubscribers(changed []string) []func([]string) {
	if len(changed) == 0 || len(st.subs) == 0 {
		return nil
	}
	subs := make([]func([]string), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func([]string), changed []string) {
	for _, fn := range subs {
		fn(changed)
	}
}

func stateFor(power float64) BatteryState {
	switch {
	case power > StateThreshold:
		return StateDischarging
	case power < -StateThreshold:
		return StateCharging
	default:
		return StateInactive
	}
}
