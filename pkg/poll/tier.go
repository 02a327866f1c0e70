package poll

import (
	"time"

	"github.com/jaapp/marstek-go/pkg/command"
	"github.com/jaapp/marstek-go/pkg/protocol"
)

// Interval bounds. Values outside these ranges are clamped, not rejected:
// a misconfigured device should poll at a sane rate rather than not at all.
const (
	MinFastInterval   = 1 * time.Second
	MaxFastInterval   = 60 * time.Second
	MinMediumInterval = 5 * time.Second
	MaxMediumInterval = 300 * time.Second

	DefaultFastInterval   = 5 * time.Second
	DefaultMediumInterval = 30 * time.Second
)

// Tier names a polling cadence.
type Tier uint8

const (
	// TierFast carries the telemetry that changes second to second.
	TierFast Tier = iota

	// TierMedium carries configuration and network state.
	TierMedium
)

// String returns a human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierMedium:
		return "medium"
	default:
		return "unknown"
	}
}

// Intervals holds the two tier periods.
type Intervals struct {
	Fast   time.Duration
	Medium time.Duration
}

// DefaultIntervals returns the stock cadence.
func DefaultIntervals() Intervals {
	return Intervals{Fast: DefaultFastInterval, Medium: DefaultMediumInterval}
}

// Clamp forces both intervals into their bounds and keeps medium no faster
// than fast.
func (iv Intervals) Clamp() Intervals {
	if iv.Fast < MinFastInterval {
		iv.Fast = MinFastInterval
	}
	if iv.Fast > MaxFastInterval {
		iv.Fast = MaxFastInterval
	}
	if iv.Medium < MinMediumInterval {
		iv.Medium = MinMediumInterval
	}
	if iv.Medium > MaxMediumInterval {
		iv.Medium = MaxMediumInterval
	}
	if iv.Medium < iv.Fast {
		iv.Medium = iv.Fast
	}
	return iv
}

// Ratio returns how many fast ticks make one medium tick, rounded to
// nearest and never below one.
func (iv Intervals) Ratio() uint64 {
	if iv.Fast <= 0 {
		return 1
	}
	r := uint64((iv.Medium + iv.Fast/2) / iv.Fast)
	if r < 1 {
		r = 1
	}
	return r
}

// TierReads returns fresh read commands for one tier. The fast tier carries
// the live electrical telemetry; the medium tier sweeps configuration and
// network state that rarely changes.
func TierReads(t Tier) []command.Command {
	switch t {
	case TierFast:
		return []command.Command{
			command.Read(protocol.OpRuntimeInfo, nil),
			command.Read(protocol.OpBMSData, nil),
		}
	case TierMedium:
		return []command.Command{
			command.Read(protocol.OpSystemData, nil),
			command.Read(protocol.OpTimerInfo, nil),
			command.Read(protocol.OpConfigData, nil),
			command.Read(protocol.OpWiFiSSID, nil),
			command.Read(protocol.OpNetworkInfo, nil),
			command.Read(protocol.OpCTPollingRate, nil),
			command.Read(protocol.OpLocalAPIStatus, nil),
			command.Read(protocol.OpMeterIP, protocol.MeterIPSelector),
		}
	default:
		return nil
	}
}
