// Package interactive provides the readline shell for marstek-cli.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/jaapp/marstek-go/pkg/device"
	"github.com/jaapp/marstek-go/pkg/poll"
	"github.com/jaapp/marstek-go/pkg/protocol"
	"github.com/jaapp/marstek-go/pkg/telemetry"
	"github.com/jaapp/marstek-go/pkg/transport"
)

// Shell is an interactive console bound to a single device.
type Shell struct {
	dev *device.Device
	sim *transport.Loopback // nil when talking to real hardware
	rl  *readline.Instance
}

// New creates a shell around dev. sim may be nil; when set, the "sim"
// command group manipulates the simulated battery.
func New(dev *device.Device, sim *transport.Loopback) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "marstek> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("creating readline: %w", err)
	}
	return &Shell{dev: dev, sim: sim, rl: rl}, nil
}

// Stdout returns a writer that plays nicely with the readline prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads and dispatches commands until EOF or "quit". It cancels the
// surrounding context on exit so the main goroutine can shut down.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer cancel()

	fmt.Fprintf(s.rl.Stdout(), "Connected to %s. Type 'help' for commands.\n", s.dev.Name())

	for {
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil { // io.EOF
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !s.dispatch(ctx, strings.Fields(line)) {
			return
		}
	}
}

// dispatch runs one command. It returns false when the shell should exit.
func (s *Shell) dispatch(ctx context.Context, args []string) bool {
	out := s.rl.Stdout()
	cmdCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch args[0] {
	case "help", "h", "?":
		s.printHelp()
	case "quit", "exit", "q":
		return false
	case "status", "st":
		s.printStatus()
	case "snapshot", "snap", "s":
		s.printSnapshot()
	case "info", "i":
		if info := s.dev.Info(); info.ID != "" {
			fmt.Fprintf(out, "type=%s id=%s mac=%s firmware=%s\n",
				info.Type, info.ID, info.MAC, info.Firmware)
		} else {
			fmt.Fprintln(out, "device identity not read yet")
		}
	case "read", "r":
		s.cmdRead(cmdCtx, args[1:])
	case "out", "output":
		s.cmdToggle(cmdCtx, args, "out", s.dev.SetOutput)
	case "eps":
		s.cmdToggle(cmdCtx, args, "eps", s.dev.SetEPS)
	case "ac":
		s.cmdToggle(cmdCtx, args, "ac", s.dev.SetACInput)
	case "gen", "generator":
		s.cmdToggle(cmdCtx, args, "gen", s.dev.SetGenerator)
	case "buzzer":
		s.cmdToggle(cmdCtx, args, "buzzer", s.dev.SetBuzzer)
	case "adaptive":
		s.cmdToggle(cmdCtx, args, "adaptive", s.dev.SetAdaptiveMode)
	case "mode":
		s.cmdMode(cmdCtx, args[1:])
	case "ctrate":
		s.cmdCTRate(cmdCtx, args[1:])
	case "preset":
		s.cmdPreset(cmdCtx, args[1:])
	case "intervals", "iv":
		s.cmdIntervals(args[1:])
	case "watch", "w":
		s.cmdWatch(ctx, args[1:])
	case "stats":
		st := s.dev.Stats()
		fmt.Fprintf(out, "enqueued=%d sent=%d succeeded=%d failed=%d retried=%d evicted=%d\n",
			st.Enqueued, st.Sent, st.Succeeded, st.Failed, st.Retried, st.Evicted)
	case "reboot":
		if err := s.dev.Reboot(cmdCtx); err != nil {
			fmt.Fprintln(out, "Error:", err)
		} else {
			fmt.Fprintln(out, "Reboot requested, expect a reconnect.")
		}
	case "sim":
		s.cmdSim(args[1:])
	default:
		fmt.Fprintf(out, "Unknown command: %s (try 'help')\n", args[0])
	}
	return true
}

func (s *Shell) printStatus() {
	out := s.rl.Stdout()
	iv := s.dev.Intervals()
	fmt.Fprintf(out, "Device:    %s\n", s.dev.Name())
	fmt.Fprintf(out, "State:     %s\n", s.dev.State())
	fmt.Fprintf(out, "Polling:   fast=%s medium=%s\n", iv.Fast, iv.Medium)
}

func (s *Shell) printSnapshot() {
	out := s.rl.Stdout()
	snap := s.dev.Snapshot()
	if len(snap.Fields) == 0 {
		fmt.Fprintln(out, "no telemetry yet")
		return
	}
	names := make([]string, 0, len(snap.Fields))
	for name := range snap.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, _ := snap.Get(name)
		marks := ""
		if !snap.Available(name) {
			marks = " (stale)"
		}
		if v.Quality == telemetry.QualityAssumed {
			marks += " (assumed)"
		}
		fmt.Fprintf(out, "  %-22s %v%s\n", name, v.Value, marks)
	}
}

func (s *Shell) cmdRead(ctx context.Context, args []string) {
	out := s.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: read <opcode-hex>  e.g. read 0x03")
		return
	}
	op, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 8)
	if err != nil {
		fmt.Fprintln(out, "Error: bad opcode:", err)
		return
	}
	var payload []byte
	if protocol.Opcode(op) == protocol.OpMeterIP {
		payload = protocol.MeterIPSelector
	}
	value, err := s.dev.Read(ctx, protocol.Opcode(op), payload)
	if err != nil {
		fmt.Fprintln(out, "Error:", err)
		return
	}
	fmt.Fprintf(out, "%+v\n", value)
}

func (s *Shell) cmdToggle(ctx context.Context, args []string, name string, set func(context.Context, bool) error) {
	out := s.rl.Stdout()
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		fmt.Fprintf(out, "Usage: %s on|off\n", name)
		return
	}
	if err := set(ctx, args[1] == "on"); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

func (s *Shell) cmdMode(ctx context.Context, args []string) {
	out := s.rl.Stdout()
	var mode device.ChargeMode
	switch strings.Join(args, " ") {
	case "pv2":
		mode = device.ChargeModePV2Passthrough
	case "load":
		mode = device.ChargeModeLoadFirst
	case "sim", "simultaneous":
		mode = device.ChargeModeSimultaneous
	default:
		fmt.Fprintln(out, "Usage: mode pv2|load|sim")
		return
	}
	if err := s.dev.SetChargeMode(ctx, mode); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

func (s *Shell) cmdCTRate(ctx context.Context, args []string) {
	out := s.rl.Stdout()
	var rate device.CTRate
	switch strings.Join(args, "") {
	case "fastest", "0":
		rate = device.CTRateFastest
	case "medium", "1":
		rate = device.CTRateMedium
	case "slowest", "2":
		rate = device.CTRateSlowest
	default:
		fmt.Fprintln(out, "Usage: ctrate fastest|medium|slowest")
		return
	}
	if err := s.dev.SetCTRate(ctx, rate); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

func (s *Shell) cmdPreset(ctx context.Context, args []string) {
	out := s.rl.Stdout()
	if len(args) != 2 {
		fmt.Fprintln(out, "Usage: preset power|ac|total 800|2500")
		return
	}
	var preset device.PowerPreset
	switch args[1] {
	case "800":
		preset = device.Preset800W
	case "2500":
		preset = device.Preset2500W
	default:
		fmt.Fprintln(out, "Error: preset must be 800 or 2500")
		return
	}
	var err error
	switch args[0] {
	case "power":
		err = s.dev.SetPowerMode(ctx, preset)
	case "ac":
		err = s.dev.SetACPower(ctx, preset)
	case "total":
		err = s.dev.SetTotalPower(ctx, preset)
	default:
		fmt.Fprintln(out, "Usage: preset power|ac|total 800|2500")
		return
	}
	if err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

func (s *Shell) cmdIntervals(args []string) {
	out := s.rl.Stdout()
	if len(args) != 2 {
		fmt.Fprintln(out, "Usage: intervals <fast> <medium>  e.g. intervals 5s 30s")
		return
	}
	fast, err := time.ParseDuration(args[0])
	if err != nil {
		fmt.Fprintln(out, "Error:", err)
		return
	}
	medium, err := time.ParseDuration(args[1])
	if err != nil {
		fmt.Fprintln(out, "Error:", err)
		return
	}
	applied := s.dev.Reconfigure(poll.Intervals{Fast: fast, Medium: medium})
	fmt.Fprintf(out, "applied fast=%s medium=%s\n", applied.Fast, applied.Medium)
}

func (s *Shell) cmdWatch(ctx context.Context, args []string) {
	out := s.rl.Stdout()
	dur := 10 * time.Second
	if len(args) == 1 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintln(out, "Error:", err)
			return
		}
		dur = d
	}
	fmt.Fprintf(out, "watching for %s...\n", dur)
	unsubscribe := s.dev.Subscribe(func(changed []string) {
		snap := s.dev.Snapshot()
		for _, name := range changed {
			if v, ok := snap.Get(name); ok {
				fmt.Fprintf(out, "  %s = %v (%s)\n", name, v.Value, v.Tier)
			}
		}
	})
	defer unsubscribe()
	select {
	case <-time.After(dur):
	case <-ctx.Done():
	}
}

func (s *Shell) cmdSim(args []string) {
	out := s.rl.Stdout()
	if s.sim == nil {
		fmt.Fprintln(out, "not connected to the simulator")
		return
	}
	if len(args) == 0 {
		fmt.Fprintln(out, "Usage: sim battery <soc> <voltage> <current> | sim drop | sim offline on|off")
		return
	}
	switch args[0] {
	case "battery":
		if len(args) != 4 {
			fmt.Fprintln(out, "Usage: sim battery <soc> <voltage> <current>")
			return
		}
		soc, err1 := strconv.ParseFloat(args[1], 64)
		voltage, err2 := strconv.ParseFloat(args[2], 64)
		current, err3 := strconv.ParseFloat(args[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			fmt.Fprintln(out, "Error: numeric arguments expected")
			return
		}
		s.sim.SetBattery(soc, voltage, current)
	case "drop":
		s.sim.DropLinks()
		fmt.Fprintln(out, "link dropped, reconnect in progress")
	case "offline":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			fmt.Fprintln(out, "Usage: sim offline on|off")
			return
		}
		s.sim.SetOffline(args[1] == "on")
	default:
		fmt.Fprintf(out, "Unknown sim command: %s\n", args[0])
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `Commands:
  status (st)                Session state and polling intervals
  snapshot (s)               Current telemetry with staleness marks
  info (i)                   Device identity
  read <opcode-hex> (r)      One-off read, e.g. read 0x0d
  out|eps|ac|gen|buzzer on|off
  adaptive on|off            Toggle adaptive power mode
  mode pv2|load|sim          Set the charge mode
  ctrate fastest|medium|slowest
  preset power|ac|total 800|2500
  intervals <fast> <medium>  Adjust polling, e.g. intervals 5s 30s
  watch [duration] (w)       Stream telemetry updates
  stats                      Command queue counters
  reboot                     Reboot the device
  sim ...                    Simulator controls (simulator only)
  quit (q)                   Exit
`)
}
