package commands

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaapp/marstek-go/pkg/log"
)

func TestRunFilterByLink(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.mlog")
	output := filepath.Join(dir, "output.mlog")

	writeCapture(t, input,
		frameEvent("link1", log.DirectionOut, 0x03),
		frameEvent("link2", log.DirectionOut, 0x03),
		frameEvent("link1", log.DirectionIn, 0x03),
	)

	var buf bytes.Buffer
	err := RunFilter(input, FilterOptions{Output: output, LinkID: "link1"}, &buf)
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if !strings.Contains(buf.String(), "Filtered 2 events") {
		t.Errorf("expected 2 filtered events, got: %s", buf.String())
	}

	// The output file must itself be a readable capture.
	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatalf("opening filtered file: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading filtered file: %v", err)
		}
		if event.LinkID != "link1" {
			t.Errorf("unexpected link ID %q in filtered file", event.LinkID)
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 events in filtered file, got %d", count)
	}
}

func TestRunFilterByTimeWindow(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.mlog")
	output := filepath.Join(dir, "output.mlog")

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	events := make([]log.Event, 3)
	for i := range events {
		events[i] = frameEvent("link1", log.DirectionIn, 0x03)
		events[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
	}
	writeCapture(t, input, events...)

	var buf bytes.Buffer
	err := RunFilter(input, FilterOptions{
		Output:    output,
		TimeStart: base.Add(30 * time.Second).Format(time.RFC3339),
		TimeEnd:   base.Add(90 * time.Second).Format(time.RFC3339),
	}, &buf)
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if !strings.Contains(buf.String(), "Filtered 1 events") {
		t.Errorf("expected 1 filtered event, got: %s", buf.String())
	}
}

func TestRunFilterBadTime(t *testing.T) {
	var buf bytes.Buffer
	err := RunFilter("nonexistent.mlog", FilterOptions{
		Output:    filepath.Join(t.TempDir(), "out.mlog"),
		TimeStart: "yesterday",
	}, &buf)
	if err == nil || !strings.Contains(err.Error(), "time-start") {
		t.Errorf("expected time-start parse error, got: %v", err)
	}
}
