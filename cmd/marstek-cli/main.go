// Command marstek-cli is an interactive console for Marstek Venus batteries.
//
// It connects to one device, polls its telemetry and exposes the write
// commands (output toggle, charge mode, power presets, reboot) behind a
// readline shell.
//
// Usage:
//
//	marstek-cli [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-device string     Device name from the config file (default: first)
//	-target string     Dial target when no config file is used
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-capture string    Write a protocol capture trace (.mlog) to this path
//	-sim               Connect to a built-in simulated device
//
// Examples:
//
//	# Explore the command surface against the simulator
//	marstek-cli -sim
//
//	# Connect to the first configured device with protocol capture
//	marstek-cli -config venus.yaml -capture /tmp/venus.mlog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaapp/marstek-go/cmd/marstek-cli/interactive"
	"github.com/jaapp/marstek-go/pkg/config"
	"github.com/jaapp/marstek-go/pkg/device"
	"github.com/jaapp/marstek-go/pkg/log"
	"github.com/jaapp/marstek-go/pkg/poll"
	"github.com/jaapp/marstek-go/pkg/transport"
)

type options struct {
	configFile string
	deviceName string
	target     string
	logLevel   string
	capture    string
	simulate   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&opts.deviceName, "device", "", "Device name from the config file")
	flag.StringVar(&opts.target, "target", "venus", "Dial target when no config file is used")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.capture, "capture", "", "Write a protocol capture trace to this path")
	flag.BoolVar(&opts.simulate, "sim", false, "Connect to a built-in simulated device")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "marstek-cli:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	name := "venus"
	target := opts.target
	intervals := poll.DefaultIntervals()

	if opts.configFile != "" {
		cfg, err := config.Load(opts.configFile)
		if err != nil {
			return err
		}
		dc := cfg.Devices[0]
		if opts.deviceName != "" {
			var ok bool
			dc, ok = cfg.Device(opts.deviceName)
			if !ok {
				return fmt.Errorf("device %q not in config", opts.deviceName)
			}
		}
		name = dc.Name
		target = dc.Target
		intervals = dc.Intervals()
		if opts.logLevel == "info" && cfg.Log.Level != "" {
			opts.logLevel = cfg.Log.Level
		}
		if opts.capture == "" {
			opts.capture = cfg.Log.CapturePath
		}
		if dc.Transport == "loopback" {
			opts.simulate = true
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(opts.logLevel),
	}))

	var capture log.Logger = log.NoopLogger{}
	if opts.capture != "" {
		fl, err := log.NewFileLogger(opts.capture)
		if err != nil {
			return fmt.Errorf("opening capture file: %w", err)
		}
		defer fl.Close()
		capture = fl
	}

	// Link realizations for real hardware (BLE, gateway tunnel) live in
	// their own modules and plug in through transport.Dialer. This binary
	// ships the simulator.
	if !opts.simulate {
		return fmt.Errorf("no transport for target %q in this build, use -sim", target)
	}
	lb := transport.NewLoopback(target)
	lb.SetBattery(82, 52.4, -1.8)

	dev := device.New(device.Config{
		Name:      name,
		Target:    target,
		Dialer:    lb,
		Intervals: intervals,
		Logger:    logger,
		Capture:   capture,
	})
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Start(ctx); err != nil {
		// Reconnection continues in the background; the shell still works.
		logger.Warn("initial connect failed", "error", err)
	}

	shell, err := interactive.New(dev, lb)
	if err != nil {
		return err
	}
	go shell.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	return nil
}

func slogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
