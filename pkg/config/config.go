// Package config loads the YAML device registry consumed by the CLI and
// by embedding applications.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jaapp/marstek-go/pkg/poll"
)

// Config is the root of the YAML file.
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
	Log     LogConfig      `yaml:"log"`
}

// DeviceConfig describes one battery.
type DeviceConfig struct {
	// Name is the human label, unique within the file.
	Name string `yaml:"name"`

	// Target is what the transport dials: a BLE MAC for direct links, an
	// endpoint for gateway tunnels.
	Target string `yaml:"target"`

	// Transport selects the link realization. Empty means "ble".
	Transport string `yaml:"transport"`

	// Polling cadence. Zero values take the defaults; out-of-bounds
	// values are clamped at use.
	FastInterval   Duration `yaml:"fast_interval"`
	MediumInterval Duration `yaml:"medium_interval"`
}

// Duration decodes either a Go duration string ("2s", "1m30s") or a bare
// number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// LogConfig controls operational logging and protocol capture.
type LogConfig struct {
	// Level is an slog level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// CapturePath enables protocol capture to the given .mlog file.
	CapturePath string `yaml:"capture_path"`
}

// Intervals returns the device's polling cadence with defaults filled in.
// The result is clamped into the scheduler's bounds.
func (d DeviceConfig) Intervals() poll.Intervals {
	iv := poll.DefaultIntervals()
	if d.FastInterval > 0 {
		iv.Fast = time.Duration(d.FastInterval)
	}
	if d.MediumInterval > 0 {
		iv.Medium = time.Duration(d.MediumInterval)
	}
	return iv.Clamp()
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-field constraints YAML cannot express.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.New("config: no devices defined")
	}

	names := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("config: device %d has no name", i)
		}
		if names[d.Name] {
			return fmt.Errorf("config: duplicate device name %q", d.Name)
		}
		names[d.Name] = true
		if d.Target == "" {
			return fmt.Errorf("config: device %q has no target", d.Name)
		}
		switch d.Transport {
		case "", "ble", "tunnel", "loopback":
		default:
			return fmt.Errorf("config: device %q: unknown transport %q", d.Name, d.Transport)
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// Device returns the named device's config.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
