package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	appLog "icscal/internal/log"
)

var version = "dev"

// SourceFlags select the calendar for the one-shot commands.
type SourceFlags struct {
	File     string `help:"Local ICS file" type:"existingfile" xor:"source"`
	URL      string `help:"ICS URL ({year} and {month} are filled in)" xor:"source"`
	Parser   string `help:"Parser engine (golang-ical, go-ical, gocal)" default:"golang-ical"`
	Timezone string `help:"Display timezone" default:"Local"`
	AllDay   bool   `help:"Include all-day events" name:"all-day"`
	Offset   int    `help:"Shift timed events by this many hours"`
	Exclude  string `help:"Exclude list, e.g. \"['holiday', '/^ooo/i']\""`
	Include  string `help:"Include list, overrides exclude"`
	Username string `help:"HTTP basic auth user"`
	Password string `help:"HTTP basic auth password" env:"ICSCAL_PASSWORD"`
}

type CLI struct {
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"warn" name:"log-level"`
	JSON     bool   `help:"JSON output format"`
	NoColor  bool   `help:"Disable colored output" name:"no-color"`

	List struct {
		Source SourceFlags `embed:""`
		Start  string      `help:"Window start, RFC3339 or YYYY-MM-DD (default now)"`
		End    string      `help:"Window end, RFC3339 or YYYY-MM-DD (default start + days)"`
		Days   int         `help:"Window length when --end is omitted" default:"7"`
	} `cmd:"" help:"List events in a window"`

	Current struct {
		Source SourceFlags `embed:""`
		Now    string      `help:"Reference time, RFC3339 or YYYY-MM-DD (default now)"`
		Days   int         `help:"Look-ahead for the next event" default:"1"`
	} `cmd:"" help:"Show the current or next event"`

	Fetch struct {
		Config string `help:"Config file path" default:"/etc/icscal/config.yaml" type:"path"`
	} `cmd:"" help:"Download every configured calendar once"`

	Serve struct {
		Config string `help:"Config file path" default:"/etc/icscal/config.yaml" type:"path"`
		Listen string `help:"HTTP listen address (overrides config if set)"`
	} `cmd:"" help:"Serve the HTTP API and refresh calendars on schedule"`

	Version struct{} `cmd:"" help:"Show version"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("icscal"),
		kong.Description("iCalendar event lists and current-event lookup"),
		kong.UsageOnError(),
	)

	appLog.SetLevel(appLog.ParseLevel(cli.LogLevel))

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := newOutput(os.Stdout, cli.JSON, cli.NoColor)

	var err error
	switch kctx.Command() {
	case "list":
		err = runList(ctx, cli.List.Source, cli.List.Start, cli.List.End, cli.List.Days, out)
	case "current":
		err = runCurrent(ctx, cli.Current.Source, cli.Current.Now, cli.Current.Days, out)
	case "fetch":
		err = runFetch(ctx, cli.Fetch.Config, out)
	case "serve":
		err = runServe(ctx, cli.Serve.Config, cli.Serve.Listen)
	case "version":
		fmt.Printf("icscal %s\n", version)
	default:
		err = fmt.Errorf("unknown command %q", kctx.Command())
	}

	if err != nil {
		appLog.Error("command failed", err, "command", kctx.Command())
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
