// Command marstek-log is a tool for viewing and analyzing Venus protocol
// capture files.
//
// Capture files are created with the -capture flag of marstek-cli, or by
// wiring a FileLogger into an embedding application.
//
// Usage:
//
//	marstek-log <command> [flags] <file.mlog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSON or CSV format
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	marstek-log view venus.mlog
//
//	# View only incoming runtime frames
//	marstek-log view -direction in -opcode 0x03 venus.mlog
//
//	# Export to JSONL
//	marstek-log export -format jsonl venus.mlog
//
//	# Filter by link and save to new file
//	marstek-log filter -link abc12345 -o filtered.mlog venus.mlog
//
//	# Show statistics
//	marstek-log stats venus.mlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jaapp/marstek-go/cmd/marstek-log/commands"
)

const usage = `marstek-log - Venus Protocol Capture Analyzer

Usage:
  marstek-log <command> [flags] <file.mlog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSON or CSV format
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "marstek-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `marstek-log view - View capture file in human-readable format

Usage:
  marstek-log view [flags] <file.mlog>

Flags:
`)
		fs.PrintDefaults()
	}

	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (frame, command, state, error)")
	opcode := fs.String("opcode", "", "Filter by opcode (hex, e.g. 0x03)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	var vf commands.ViewFilter
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		fatalIf(err)
		vf.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		fatalIf(err)
		vf.Category = &c
	}
	if *opcode != "" {
		op, err := commands.ParseOpcodeFlag(*opcode)
		fatalIf(err)
		vf.Opcode = &op
	}

	fatalIf(commands.RunView(path, vf, os.Stdout))
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	fatalIf(commands.RunExport(path, *format, *output))
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "filtered.mlog", "Output file")
	fs.StringVar(&opts.LinkID, "link", "", "Filter by link ID")
	fs.StringVar(&opts.Target, "target", "", "Filter by dial target")
	fs.StringVar(&opts.DeviceID, "device", "", "Filter by device ID")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (frame, command, state, error)")
	fs.StringVar(&opts.Opcode, "opcode", "", "Filter by opcode (hex, e.g. 0x03)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Events at or after this RFC3339 time")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Events before this RFC3339 time")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	fatalIf(commands.RunFilter(path, opts, os.Stdout))
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	fatalIf(commands.RunStats(path, os.Stdout))
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fatalIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
