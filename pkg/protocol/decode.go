package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// RuntimeInfo is the decoded runtime info payload (0x03).
//
// Two formats exist in the field: a short one (37+ bytes, older firmware)
// without the temperature block, and a long one (60+ bytes).
type RuntimeInfo struct {
	Out1Power        float64
	WiFiConnected    bool
	MQTTConnected    bool
	Out1Active       bool
	Extern1Connected bool

	// Temperatures are only present in the long format.
	HasTemperatures bool
	TempLow         float64
	TempHigh        float64
}

// DeviceInfo is the decoded device identity payload (0x04), sent by the
// device as ASCII key=value pairs.
type DeviceInfo struct {
	Type     string
	ID       string
	MAC      string
	Firmware string
}

// SystemData is the decoded system data payload (0x0D read).
type SystemData struct {
	Status byte
	Values [5]uint16
}

// TimerInfo is the decoded timer info payload (0x13).
type TimerInfo struct {
	AdaptiveModeEnabled bool
	SmartMeterConnected bool
	AdaptivePowerOut    float64
}

// MaxCells is the number of cell voltage slots in the BMS payload.
const MaxCells = 16

// BMSData is the decoded battery management payload (0x14).
type BMSData struct {
	SOC            float64 // percent
	SOH            float64 // percent
	DesignCapacity float64 // watt-hours
	Voltage        float64 // volts, raw/100
	Current        float64 // amps, signed raw/10
	Temperature    float64 // raw value, no scaling observed

	// CellVoltages holds per-cell volts (raw mV / 1000). Only the first
	// CellCount entries are valid; short payloads carry fewer cells.
	CellVoltages [MaxCells]float64
	CellCount    int
}

// ConfigData is the decoded config data payload (0x1A).
type ConfigData struct {
	Mode   byte
	Status int8
	Value  byte
}

// MeterIP is the decoded smart meter address payload (0x21).
type MeterIP struct {
	// Set is false when the device reports all-0xFF, meaning no meter
	// address has been configured.
	Set     bool
	Address string
}

// CTPollingRate is the decoded CT polling rate payload (0x22).
type CTPollingRate struct {
	Rate byte
}

// WiFiSSID is the decoded WiFi SSID payload (0x08).
type WiFiSSID struct {
	SSID string
}

// NetworkInfo is the decoded network info payload (0x24).
type NetworkInfo struct {
	Info string
}

// LocalAPIStatus is the decoded local API status payload (0x28).
type LocalAPIStatus struct {
	Enabled bool
	Port    uint16
}

// LogData is the raw log payload (0x1C). The device-side format is
// undocumented; it is carried opaquely for diagnostics.
type LogData struct {
	Raw []byte
}

func truncatedPayload(op Opcode, got, want int) error {
	return &DecodeError{
		Kind:   KindTruncated,
		Detail: fmt.Sprintf("%s payload %d bytes, need %d", op, got, want),
	}
}

// DecodePayload decodes a notification payload for the given opcode into its
// typed representation. The result is one of the struct types in this file.
// Opcodes without a decoder return a DecodeError of kind UnknownOpcode.
func DecodePayload(op Opcode, payload []byte) (any, error) {
	switch op {
	case OpRuntimeInfo:
		return decodeRuntimeInfo(payload)
	case OpDeviceInfo:
		return decodeDeviceInfo(payload)
	case OpWiFiSSID:
		return WiFiSSID{SSID: asciiString(payload)}, nil
	case OpSystemData:
		return decodeSystemData(payload)
	case OpTimerInfo:
		return decodeTimerInfo(payload)
	case OpBMSData:
		return decodeBMSData(payload)
	case OpConfigData:
		return decodeConfigData(payload)
	case OpMeterIP:
		return decodeMeterIP(payload)
	case OpCTPollingRate:
		if len(payload) < 1 {
			return nil, truncatedPayload(op, len(payload), 1)
		}
		return CTPollingRate{Rate: payload[0]}, nil
	case OpNetworkInfo:
		return NetworkInfo{Info: asciiString(payload)}, nil
	case OpLocalAPIStatus:
		return decodeLocalAPIStatus(payload)
	case OpLogs:
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return LogData{Raw: raw}, nil
	default:
		return nil, &DecodeError{Kind: KindUnknownOpcode, Detail: op.String()}
	}
}

const runtimeInfoLongSize = 60

func decodeRuntimeInfo(p []byte) (RuntimeInfo, error) {
	if len(p) < 37 {
		return RuntimeInfo{}, truncatedPayload(OpRuntimeInfo, len(p), 37)
	}

	info := RuntimeInfo{
		WiFiConnected:    p[15]&0x01 != 0,
		MQTTConnected:    p[15]&0x02 != 0,
		Out1Active:       p[16] != 0,
		Out1Power:        float64(binary.LittleEndian.Uint16(p[20:22])),
		Extern1Connected: p[28] != 0,
	}
	if len(p) >= runtimeInfoLongSize {
		info.HasTemperatures = true
		info.TempLow = float64(int16(binary.LittleEndian.Uint16(p[33:35]))) / 10.0
		info.TempHigh = float64(int16(binary.LittleEndian.Uint16(p[35:37]))) / 10.0
	}
	return info, nil
}

func decodeDeviceInfo(p []byte) (DeviceInfo, error) {
	var info DeviceInfo
	for _, pair := range strings.Split(asciiString(p), ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "type":
			info.Type = value
		case "id":
			info.ID = value
		case "mac":
			info.MAC = value
		case "dev_ver", "fc_ver":
			info.Firmware = value
		}
	}
	return info, nil
}

func decodeSystemData(p []byte) (SystemData, error) {
	if len(p) < 11 {
		return SystemData{}, truncatedPayload(OpSystemData, len(p), 11)
	}
	data := SystemData{Status: p[0]}
	for i := range data.Values {
		off := 1 + i*2
		data.Values[i] = binary.LittleEndian.Uint16(p[off : off+2])
	}
	return data, nil
}

func decodeTimerInfo(p []byte) (TimerInfo, error) {
	if len(p) < 45 {
		return TimerInfo{}, truncatedPayload(OpTimerInfo, len(p), 45)
	}
	return TimerInfo{
		AdaptiveModeEnabled: p[0] != 0,
		SmartMeterConnected: p[37] != 0,
		AdaptivePowerOut:    float64(binary.LittleEndian.Uint16(p[38:40])),
	}, nil
}

func decodeBMSData(p []byte) (BMSData, error) {
	if len(p) < 80 {
		return BMSData{}, truncatedPayload(OpBMSData, len(p), 80)
	}
	data := BMSData{
		SOC:            float64(binary.LittleEndian.Uint16(p[8:10])),
		SOH:            float64(binary.LittleEndian.Uint16(p[10:12])),
		DesignCapacity: float64(binary.LittleEndian.Uint16(p[12:14])),
		Voltage:        float64(binary.LittleEndian.Uint16(p[14:16])) / 100.0,
		Current:        float64(int16(binary.LittleEndian.Uint16(p[16:18]))) / 10.0,
		Temperature:    float64(binary.LittleEndian.Uint16(p[40:42])),
	}
	for i := 0; i < MaxCells; i++ {
		off := 48 + i*2
		if off+1 >= len(p) {
			break
		}
		data.CellVoltages[i] = float64(binary.LittleEndian.Uint16(p[off:off+2])) / 1000.0
		data.CellCount = i + 1
	}
	return data, nil
}

func decodeConfigData(p []byte) (ConfigData, error) {
	if len(p) < 17 {
		return ConfigData{}, truncatedPayload(OpConfigData, len(p), 17)
	}
	return ConfigData{
		Mode:   p[0],
		Status: int8(p[4]),
		Value:  p[16],
	}, nil
}

func decodeMeterIP(p []byte) (MeterIP, error) {
	unset := len(p) > 0
	for _, b := range p {
		if b != 0xFF {
			unset = false
			break
		}
	}
	if unset || len(p) == 0 {
		return MeterIP{}, nil
	}
	return MeterIP{
		Set:     true,
		Address: strings.Trim(asciiString(p), "\x00"),
	}, nil
}

func decodeLocalAPIStatus(p []byte) (LocalAPIStatus, error) {
	if len(p) < 3 {
		return LocalAPIStatus{}, truncatedPayload(OpLocalAPIStatus, len(p), 3)
	}
	return LocalAPIStatus{
		Enabled: p[0] == 1,
		Port:    binary.LittleEndian.Uint16(p[1:3]),
	}, nil
}

// asciiString converts a payload to a trimmed string, dropping any
// non-printable bytes the device occasionally pads with.
func asciiString(p []byte) string {
	var sb strings.Builder
	sb.Grow(len(p))
	for _, b := range p {
		if b >= 0x20 && b < 0x7F {
			sb.WriteByte(b)
		}
	}
	return strings.TrimSpace(sb.String())
}
