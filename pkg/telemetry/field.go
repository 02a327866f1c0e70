package telemetry

import (
	"time"

	"github.com/jaapp/marstek-go/pkg/poll"
)

// Field names. Consumers key snapshots by these.
const (
	FieldSOC            = "soc"             // percent
	FieldSOH            = "soh"             // percent
	FieldDesignCapacity = "design_capacity" // watt-hours
	FieldRemainingWh    = "remaining_wh"    // watt-hours, derived
	FieldVoltage        = "voltage"         // volts
	FieldCurrent        = "current"         // amps, signed
	FieldBatteryTemp    = "battery_temp"    // raw units
	FieldCellVoltages   = "cell_voltages"   // []float64, volts

	// Derived electrical fields. Positive power means the battery is
	// discharging into the load.
	FieldPower        = "power"         // watts, signed
	FieldPowerIn      = "power_in"      // watts, >= 0
	FieldPowerOut     = "power_out"     // watts, >= 0
	FieldBatteryState = "battery_state" // BatteryState

	FieldWiFiConnected = "wifi_connected"
	FieldMQTTConnected = "mqtt_connected"
	FieldOut1Active    = "out1_active"
	FieldOut1Power     = "out1_power" // watts
	FieldExtern1       = "extern1_connected"
	FieldTempLow       = "temp_low"  // celsius
	FieldTempHigh      = "temp_high" // celsius

	FieldSystemStatus  = "system_status"
	FieldAdaptiveMode  = "adaptive_mode"
	FieldMeterConnect  = "meter_connected"
	FieldAdaptivePower = "adaptive_power" // watts
	FieldConfigMode    = "config_mode"
	FieldConfigStatus  = "config_status"
	FieldConfigValue   = "config_value"

	FieldWiFiSSID      = "wifi_ssid"
	FieldNetworkInfo   = "network_info"
	FieldCTPollingRate = "ct_polling_rate"
	FieldLocalAPIOn    = "local_api_enabled"
	FieldLocalAPIPort  = "local_api_port"
	FieldMeterIP       = "meter_ip" // "" when unconfigured

	FieldDeviceType = "device_type"
	FieldDeviceID   = "device_id"
	FieldDeviceMAC  = "device_mac"
	FieldFirmware   = "firmware"

	// Write-only switches, recorded as assumed state.
	FieldEPSMode   = "eps_mode"
	FieldACInput   = "ac_input"
	FieldGenerator = "generator"
	FieldBuzzer    = "buzzer"
	FieldChargeMod = "charge_mode"
)

// StateThreshold is the dead band around zero power within which the
// battery is reported inactive.
const StateThreshold = 5.0 // watts

// BatteryState labels the direction of energy flow.
type BatteryState string

const (
	StateCharging    BatteryState = "charging"
	StateDischarging BatteryState = "discharging"
	StateInactive    BatteryState = "inactive"
)

// Quality distinguishes confirmed telemetry from optimistic write echoes.
type Quality uint8

const (
	// QualityConfirmed means the value came from the device.
	QualityConfirmed Quality = iota

	// QualityAssumed means the value was inferred from the last write to a
	// switch the device gives no feedback for.
	QualityAssumed
)

// String returns a human-readable quality name.
func (q Quality) String() string {
	if q == QualityAssumed {
		return "assumed"
	}
	return "confirmed"
}

// Value is one field's entry in a snapshot.
type Value struct {
	Value     any
	Tier      poll.Tier
	Quality   Quality
	UpdatedAt time.Time
}

// Snapshot is a point-in-time copy of a device's telemetry.
type Snapshot struct {
	Fields map[string]Value

	// Taken is when the snapshot was made; staleness is judged against it.
	Taken time.Time

	intervals poll.Intervals
}

// Get returns a field's entry regardless of staleness.
func (s Snapshot) Get(name string) (Value, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Available reports whether a field exists and is fresh. A field older
// than StaleMultiplier times its tier's interval is unavailable, though
// its last-known value remains readable through Get.
func (s Snapshot) Available(name string) bool {
	v, ok := s.Fields[name]
	if !ok {
		return false
	}
	limit := time.Duration(StaleMultiplier) * s.tierInterval(v.Tier)
	return s.Taken.Sub(v.UpdatedAt) <= limit
}

func (s Snapshot) tierInterval(t poll.Tier) time.Duration {
	if t == poll.TierMedium {
		return s.intervals.Medium
	}
	return s.intervals.Fast
}
