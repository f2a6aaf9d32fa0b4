package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeMonitor = "monitor"
	ModeDriver  = "driver"
	ModeKey     = "key"
)

var ErrNoMode = errors.New("no mode specified: use --mode=<monitor|driver|key>")

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeMonitor, "kitchen", "m":
		return ModeMonitor, true
	case ModeDriver, "driver-agent", "d":
		return ModeDriver, true
	case ModeKey, "token", "k":
		return ModeKey, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `driver --lat=50.4 --lng=30.5`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for _, arg := range args {
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, ErrNoMode
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./canteen-sync --mode=<mode> [flags]

Modes:
  monitor     Kitchen/admin view: logs every order event, relays to RabbitMQ, snapshots to PostgreSQL
  driver      Driver companion: reports location, refreshes ready orders, verifies pickups
  key         Mint a development access token

Examples:
  ./canteen-sync --mode=monitor --config=config.yaml
  ./canteen-sync --mode=driver --positions=route.csv --step=5s
  ./canteen-sync --mode=driver --lat=50.4501 --lng=30.5234 --verify-order=77 --code=482913
  ./canteen-sync --mode=key --user-id=D1 --role=driver --secret='<secret>'`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./canteen-sync --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
