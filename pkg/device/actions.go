package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaapp/marstek-go/pkg/command"
	"github.com/jaapp/marstek-go/pkg/protocol"
	"github.com/jaapp/marstek-go/pkg/telemetry"
)

// ChargeMode selects how the battery balances PV input against load.
type ChargeMode byte

const (
	ChargeModePV2Passthrough = ChargeMode(protocol.ChargeModePV2Passthrough)
	ChargeModeLoadFirst      = ChargeMode(protocol.ChargeModeLoadFirst)
	ChargeModeSimultaneous   = ChargeMode(protocol.ChargeModeSimultaneous)
)

// String returns the mode's marketing name.
func (m ChargeMode) String() string {
	switch m {
	case ChargeModePV2Passthrough:
		return "PV2 Passthrough"
	case ChargeModeLoadFirst:
		return "Load First"
	case ChargeModeSimultaneous:
		return "Simultaneous Charge Discharge"
	default:
		return fmt.Sprintf("ChargeMode(0x%02X)", byte(m))
	}
}

// CTRate selects how often the device polls its CT meter.
type CTRate byte

const (
	CTRateFastest = CTRate(protocol.CTRateFastest)
	CTRateMedium  = CTRate(protocol.CTRateMedium)
	CTRateSlowest = CTRate(protocol.CTRateSlowest)
)

// PowerPreset is a supported capacity preset in watts.
type PowerPreset int

const (
	Preset800W  PowerPreset = 800
	Preset2500W PowerPreset = 2500
)

func (p PowerPreset) payload() ([]byte, error) {
	switch p {
	case Preset800W:
		return protocol.Preset800W, nil
	case Preset2500W:
		return protocol.Preset2500W, nil
	default:
		return nil, fmt.Errorf("unsupported power preset %dW", int(p))
	}
}

func boolByte(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// issueWrite sends one fire-and-forget write and waits for the queue to
// confirm transmission. Failures propagate to the caller.
func (d *Device) issueWrite(ctx context.Context, op protocol.Opcode, payload []byte) error {
	res, err := d.await(ctx, command.Write(op, payload))
	if err != nil {
		return err
	}
	return res.Err
}

// assume records optimistic state for a switch the device never reports.
func (d *Device) assume(field string, value any) {
	d.store.ApplyAssumed(field, value, time.Now())
}

// SetOutput toggles the main output relay. The next runtime poll confirms
// the real state.
func (d *Device) SetOutput(ctx context.Context, on bool) error {
	return d.issueWrite(ctx, protocol.OpOutputControl, boolByte(on))
}

// SetEPS toggles emergency power supply mode. Write-only: the device gives
// no telemetry feedback, so the state is recorded as assumed.
func (d *Device) SetEPS(ctx context.Context, on bool) error {
	if err := d.issueWrite(ctx, protocol.OpEPSMode, boolByte(on)); err != nil {
		return err
	}
	d.assume(telemetry.FieldEPSMode, on)
	return nil
}

// SetACInput toggles charging from the grid. Write-only.
func (d *Device) SetACInput(ctx context.Context, on bool) error {
	if err := d.issueWrite(ctx, protocol.OpACInput, boolByte(on)); err != nil {
		return err
	}
	d.assume(telemetry.FieldACInput, on)
	return nil
}

// SetGenerator toggles the generator input. Write-only.
func (d *Device) SetGenerator(ctx context.Context, on bool) error {
	if err := d.issueWrite(ctx, protocol.OpGenerator, boolByte(on)); err != nil {
		return err
	}
	d.assume(telemetry.FieldGenerator, on)
	return nil
}

// SetBuzzer toggles the buzzer. Write-only.
func (d *Device) SetBuzzer(ctx context.Context, on bool) error {
	if err := d.issueWrite(ctx, protocol.OpBuzzer, boolByte(on)); err != nil {
		return err
	}
	d.assume(telemetry.FieldBuzzer, on)
	return nil
}

// SetAdaptiveMode toggles adaptive (smart meter following) mode. The next
// timer info poll confirms it.
func (d *Device) SetAdaptiveMode(ctx context.Context, on bool) error {
	return d.issueWrite(ctx, protocol.OpAdaptiveMode, boolByte(on))
}

// SetChargeMode selects the charge mode. Write-only.
func (d *Device) SetChargeMode(ctx context.Context, mode ChargeMode) error {
	if err := d.issueWrite(ctx, protocol.OpChargeMode, []byte{byte(mode)}); err != nil {
		return err
	}
	d.assume(telemetry.FieldChargeMod, mode)
	return nil
}

// SetCTRate selects the CT meter polling rate. The next medium poll
// confirms it through the CT rate read.
func (d *Device) SetCTRate(ctx context.Context, rate CTRate) error {
	return d.issueWrite(ctx, protocol.OpCTPollingRateWrite, []byte{byte(rate)})
}

// SetPowerMode applies a capacity preset to the inverter's power mode.
func (d *Device) SetPowerMode(ctx context.Context, preset PowerPreset) error {
	payload, err := preset.payload()
	if err != nil {
		return err
	}
	return d.issueWrite(ctx, protocol.OpPowerMode, payload)
}

// SetACPower applies a capacity preset to the AC charge limit.
func (d *Device) SetACPower(ctx context.Context, preset PowerPreset) error {
	payload, err := preset.payload()
	if err != nil {
		return err
	}
	return d.issueWrite(ctx, protocol.OpACPower, payload)
}

// SetTotalPower applies a capacity preset to the total output limit.
func (d *Device) SetTotalPower(ctx context.Context, preset PowerPreset) error {
	payload, err := preset.payload()
	if err != nil {
		return err
	}
	return d.issueWrite(ctx, protocol.OpTotalPower, payload)
}

// Reboot restarts the device. The link drops shortly after; the session
// reconnects on its own.
func (d *Device) Reboot(ctx context.Context) error {
	return d.issueWrite(ctx, protocol.OpReboot, nil)
}

// ErrUnknownCommand reports a logical command name Issue does not know.
var ErrUnknownCommand = errors.New("device: unknown command")

// Issue dispatches a logical command by name. Toggles take "on" or "off",
// selects take their option name, presets take "800" or "2500", reboot
// takes nothing. It exists for callers that route commands as text, like
// shells and API bridges; typed callers use the Set methods directly.
func (d *Device) Issue(ctx context.Context, name string, args ...string) error {
	switch name {
	case "output":
		on, err := parseToggle(name, args)
		if err != nil {
			return err
		}
		return d.SetOutput(ctx, on)
	case "eps":
		on, err := parseToggle(name, args)
		if err != nil {
			return err
		}
		return d.SetEPS(ctx, on)
	case "ac_input":
		on, err := parseToggle(name, args)
		if err != nil {
			return err
		}
		return d.SetACInput(ctx, on)
	case "generator":
		on, err := parseToggle(name, args)
		if err != nil {
			return err
		}
		return d.SetGenerator(ctx, on)
	case "buzzer":
		on, err := parseToggle(name, args)
		if err != nil {
			return err
		}
		return d.SetBuzzer(ctx, on)
	case "adaptive_mode":
		on, err := parseToggle(name, args)
		if err != nil {
			return err
		}
		return d.SetAdaptiveMode(ctx, on)
	case "charge_mode":
		mode, err := parseChargeMode(args)
		if err != nil {
			return err
		}
		return d.SetChargeMode(ctx, mode)
	case "ct_rate":
		rate, err := parseCTRate(args)
		if err != nil {
			return err
		}
		return d.SetCTRate(ctx, rate)
	case "power_mode", "ac_power", "total_power":
		preset, err := parsePreset(name, args)
		if err != nil {
			return err
		}
		switch name {
		case "power_mode":
			return d.SetPowerMode(ctx, preset)
		case "ac_power":
			return d.SetACPower(ctx, preset)
		default:
			return d.SetTotalPower(ctx, preset)
		}
	case "reboot":
		if len(args) != 0 {
			return fmt.Errorf("device: reboot takes no arguments")
		}
		return d.Reboot(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func parseToggle(name string, args []string) (bool, error) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return false, fmt.Errorf("device: %s takes one argument: on or off", name)
	}
	return args[0] == "on", nil
}

func parseChargeMode(args []string) (ChargeMode, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("device: charge_mode takes one argument")
	}
	switch args[0] {
	case "pv2_passthrough":
		return ChargeModePV2Passthrough, nil
	case "load_first":
		return ChargeModeLoadFirst, nil
	case "simultaneous":
		return ChargeModeSimultaneous, nil
	default:
		return 0, fmt.Errorf("device: unknown charge mode %q", args[0])
	}
}

func parseCTRate(args []string) (CTRate, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("device: ct_rate takes one argument")
	}
	switch args[0] {
	case "fastest":
		return CTRateFastest, nil
	case "medium":
		return CTRateMedium, nil
	case "slowest":
		return CTRateSlowest, nil
	default:
		return 0, fmt.Errorf("device: unknown CT rate %q", args[0])
	}
}

func parsePreset(name string, args []string) (PowerPreset, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("device: %s takes one argument: 800 or 2500", name)
	}
	switch args[0] {
	case "800":
		return Preset800W, nil
	case "2500":
		return Preset2500W, nil
	default:
		return 0, fmt.Errorf("device: unknown preset %q", args[0])
	}
}
