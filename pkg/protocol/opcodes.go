package protocol

// Opcode selects a command or notification type. One byte on the wire.
type Opcode byte

// Read opcodes. Each is answered by a notification carrying the same opcode.
const (
	OpRuntimeInfo    Opcode = 0x03
	OpDeviceInfo     Opcode = 0x04
	OpWiFiSSID       Opcode = 0x08
	OpSystemData     Opcode = 0x0D
	OpTimerInfo      Opcode = 0x13
	OpBMSData        Opcode = 0x14
	OpConfigData     Opcode = 0x1A
	OpLogs           Opcode = 0x1C
	OpMeterIP        Opcode = 0x21
	OpCTPollingRate  Opcode = 0x22
	OpNetworkInfo    Opcode = 0x24
	OpLocalAPIStatus Opcode = 0x28
)

// Write opcodes. Fire-and-forget: the device sends no response frame.
const (
	OpEPSMode            Opcode = 0x05
	OpACInput            Opcode = 0x06
	OpGenerator          Opcode = 0x07
	OpBuzzer             Opcode = 0x09
	OpChargeMode         Opcode = 0x0D // dual-purpose: read side is OpSystemData
	OpOutputControl      Opcode = 0x0E
	OpAdaptiveMode       Opcode = 0x11
	OpPowerMode          Opcode = 0x15
	OpACPower            Opcode = 0x16
	OpTotalPower         Opcode = 0x17
	OpCTPollingRateWrite Opcode = 0x20
	OpReboot             Opcode = 0x25
)

// MeterIPSelector is the fixed payload the meter IP read (0x21) requires.
var MeterIPSelector = []byte{0x0B}

// Power preset payloads for OpPowerMode, OpACPower and OpTotalPower:
// little-endian watts.
var (
	Preset800W  = []byte{0x20, 0x03}
	Preset2500W = []byte{0xC4, 0x09}
)

// Charge mode payload values for OpChargeMode.
const (
	ChargeModePV2Passthrough byte = 0x00
	ChargeModeLoadFirst      byte = 0x01
	ChargeModeSimultaneous   byte = 0x02
)

// CT polling rate payload values for OpCTPollingRateWrite.
const (
	CTRateFastest byte = 0x00
	CTRateMedium  byte = 0x01
	CTRateSlowest byte = 0x02
)

var opcodeNames = map[Opcode]string{
	OpRuntimeInfo:        "runtime_info",
	OpDeviceInfo:         "device_info",
	OpEPSMode:            "eps_mode",
	OpACInput:            "ac_input",
	OpGenerator:          "generator",
	OpWiFiSSID:           "wifi_ssid",
	OpBuzzer:             "buzzer",
	OpSystemData:         "system_data", // 0x0D write side is charge_mode
	OpOutputControl:      "output_control",
	OpAdaptiveMode:       "adaptive_mode",
	OpTimerInfo:          "timer_info",
	OpBMSData:            "bms_data",
	OpPowerMode:          "power_mode",
	OpACPower:            "ac_power",
	OpTotalPower:         "total_power",
	OpConfigData:         "config_data",
	OpLogs:               "logs",
	OpCTPollingRateWrite: "ct_polling_rate_write",
	OpCTPollingRate:      "ct_polling_rate",
	OpMeterIP:            "meter_ip",
	OpNetworkInfo:        "network_info",
	OpReboot:             "reboot",
	OpLocalAPIStatus:     "local_api_status",
}

// String returns the opcode's protocol name, or its hex value if unknown.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "0x" + hexByte(byte(o))
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

var readOpcodes = map[Opcode]struct{}{
	OpRuntimeInfo:    {},
	OpDeviceInfo:     {},
	OpWiFiSSID:       {},
	OpSystemData:     {},
	OpTimerInfo:      {},
	OpBMSData:        {},
	OpConfigData:     {},
	OpLogs:           {},
	OpMeterIP:        {},
	OpCTPollingRate:  {},
	OpNetworkInfo:    {},
	OpLocalAPIStatus: {},
}

// IsRead reports whether the opcode is a read command that expects a
// response notification.
func (o Opcode) IsRead() bool {
	_, ok := readOpcodes[o]
	return ok
}

// ResponseFor returns the notification opcode expected for a read command.
// Write commands have no response; ok is false for them.
func ResponseFor(o Opcode) (Opcode, bool) {
	if o.IsRead() {
		return o, true
	}
	return 0, false
}
