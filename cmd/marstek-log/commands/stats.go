package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jaapp/marstek-go/pkg/log"
	"github.com/jaapp/marstek-go/pkg/protocol"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	CommandsByOpcode  map[byte]int
	CommandOutcomes   map[string]int
	Links             map[string]*LinkStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// LinkStats holds statistics for a single link.
type LinkStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Target    string
	DeviceID  string
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		CommandsByOpcode:  make(map[byte]int),
		CommandOutcomes:   make(map[string]int),
		Links:             make(map[string]*LinkStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		link, ok := stats.Links[event.LinkID]
		if !ok {
			link = &LinkStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Links[event.LinkID] = link
		}
		link.Events++
		if event.Timestamp.After(link.LastSeen) {
			link.LastSeen = event.Timestamp
		}
		if event.Target != "" && link.Target == "" {
			link.Target = event.Target
		}
		if event.DeviceID != "" && link.DeviceID == "" {
			link.DeviceID = event.DeviceID
		}

		if event.Command != nil {
			stats.CommandsByOpcode[event.Command.Opcode]++
			stats.CommandOutcomes[event.Command.Outcome]++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Venus Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryFrame, log.CategoryCommand, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.CommandsByOpcode) > 0 {
		fmt.Fprintln(w, "Commands by Opcode:")
		opcodes := make([]int, 0, len(stats.CommandsByOpcode))
		for op := range stats.CommandsByOpcode {
			opcodes = append(opcodes, int(op))
		}
		sort.Ints(opcodes)
		for _, op := range opcodes {
			fmt.Fprintf(w, "  %-24s %d\n",
				protocol.Opcode(op).String()+":", stats.CommandsByOpcode[byte(op)])
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "Command Outcomes:")
		outcomes := make([]string, 0, len(stats.CommandOutcomes))
		for o := range stats.CommandOutcomes {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			fmt.Fprintf(w, "  %-12s %d\n", o+":", stats.CommandOutcomes[o])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Links: %d\n", len(stats.Links))
	if len(stats.Links) > 0 {
		type linkInfo struct {
			id    string
			stats *LinkStats
		}
		links := make([]linkInfo, 0, len(stats.Links))
		for id, ls := range stats.Links {
			links = append(links, linkInfo{id, ls})
		}
		sort.Slice(links, func(i, j int) bool {
			return links[i].stats.FirstSeen.Before(links[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, l := range links {
			duration := l.stats.LastSeen.Sub(l.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n",
				shortenLinkID(l.id), l.stats.Events, duration)
			if l.stats.Target != "" {
				fmt.Fprintf(w, "           Target: %s\n", l.stats.Target)
			}
			if l.stats.DeviceID != "" {
				fmt.Fprintf(w, "           Device: %s\n", l.stats.DeviceID)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
