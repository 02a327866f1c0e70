package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaapp/marstek-go/pkg/log"
)

func TestRunStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.mlog")

	dur := 80 * time.Millisecond
	writeCapture(t, path,
		frameEvent("link1", log.DirectionOut, 0x03),
		frameEvent("link1", log.DirectionIn, 0x03),
		log.Event{
			Timestamp: time.Now(),
			LinkID:    "link1",
			Target:    "venus",
			DeviceID:  "VenusE-1234",
			Category:  log.CategoryCommand,
			Command:   &log.CommandEvent{Opcode: 0x03, Priority: "READ", Outcome: "ok", Duration: &dur},
		},
		log.Event{
			Timestamp: time.Now(),
			LinkID:    "link1",
			Category:  log.CategoryCommand,
			Command:   &log.CommandEvent{Opcode: 0x14, Priority: "READ", Outcome: "TIMEOUT"},
		},
		log.Event{
			Timestamp:   time.Now(),
			LinkID:      "link2",
			Category:    log.CategoryState,
			StateChange: &log.StateChangeEvent{NewState: "CONNECTED"},
		},
		log.Event{
			Timestamp: time.Now(),
			LinkID:    "link2",
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Message: "checksum mismatch"},
		},
	)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	output := buf.String()

	checks := []string{
		"Total Events: 6",
		"FRAME:",
		"COMMAND:",
		"STATE:",
		"ERROR:",
		"runtime_info:",
		"bms_data:",
		"ok:",
		"TIMEOUT:",
		"Links: 2",
		"Device: VenusE-1234",
		"Errors: 1",
	}
	for _, want := range checks {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in stats output, got:\n%s", want, output)
		}
	}
}

func TestRunStatsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mlog")
	writeCapture(t, path)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero events, got:\n%s", buf.String())
	}
}
