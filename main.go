package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	driveragent "canteen-sync/cmd/driver_agent"
	"canteen-sync/cmd/key"
	"canteen-sync/cmd/monitor"
	"canteen-sync/internal/cli"
)

// floatFlag is a float flag that remembers whether it was set.
type floatFlag struct{ v *float64 }

func (f *floatFlag) String() string {
	if f.v == nil {
		return ""
	}
	return fmt.Sprint(*f.v)
}

func (f *floatFlag) Set(s string) error {
	var v float64
	if _, err := fmt.Sscan(s, &v); err != nil {
		return err
	}
	f.v = &v
	return nil
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse mode and collect the remaining args for that mode
	mode, args, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {

	case cli.ModeMonitor:
		fs := flag.NewFlagSet(cli.ModeMonitor, flag.ContinueOnError)
		var opts monitor.Options
		fs.StringVar(&opts.ConfigPath, "config", "", "YAML config file (environment only when empty)")
		fs.StringVar(&opts.Token, "token", "", "Access token (defaults to AUTH_TOKEN)")
		fs.StringVar(&opts.UserID, "user-id", "", "Mint a dev token for this user when no token is given")
		fs.StringVar(&opts.Role, "role", "staff", "Role of the minted dev token: staff | admin")
		fs.BoolVar(&opts.TailQueue, "tail", false, "Also consume the kitchen display queue")
		fs.IntVar(&opts.Prefetch, "prefetch", 8, "RabbitMQ prefetch count for --tail")
		cli.AttachUsage(fs, cli.ModeMonitor)
		parseOrExit(fs, args)

		if opts.Prefetch <= 0 {
			fmt.Fprintln(os.Stderr, "Error: --prefetch must be > 0")
			fs.Usage()
			os.Exit(2)
		}
		if err := monitor.Run(ctx, opts); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeDriver:
		fs := flag.NewFlagSet(cli.ModeDriver, flag.ContinueOnError)
		var opts driveragent.Options
		var lat, lng floatFlag
		fs.StringVar(&opts.ConfigPath, "config", "", "YAML config file (environment only when empty)")
		fs.StringVar(&opts.Token, "token", "", "Driver access token (defaults to AUTH_TOKEN)")
		fs.StringVar(&opts.UserID, "user-id", "", "Mint a dev driver token for this user when no token is given")
		fs.StringVar(&opts.Positions, "positions", "", "CSV track (lat,lng[,accuracy]) to replay")
		fs.DurationVar(&opts.Step, "step", 5*time.Second, "Time between replayed positions")
		fs.BoolVar(&opts.Loop, "loop", false, "Restart the track when it ends")
		fs.Var(&lat, "lat", "Fixed latitude")
		fs.Var(&lng, "lng", "Fixed longitude")
		fs.StringVar(&opts.VerifyOrder, "verify-order", "", "Order id to verify a pickup code for")
		fs.StringVar(&opts.Code, "code", "", "6-digit pickup code for --verify-order")
		fs.DurationVar(&opts.Refresh, "refresh", 30*time.Second, "Ready orders refresh interval (0 loads once)")
		cli.AttachUsage(fs, cli.ModeDriver)
		parseOrExit(fs, args)

		opts.Lat, opts.Lng = lat.v, lng.v
		if opts.VerifyOrder != "" && opts.Code == "" {
			fmt.Fprintln(os.Stderr, "Error: --verify-order needs --code")
			fs.Usage()
			os.Exit(2)
		}
		if err := driveragent.Run(ctx, opts); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeKey:
		fs := flag.NewFlagSet(cli.ModeKey, flag.ContinueOnError)
		userID := fs.String("user-id", "", "User id (subject)")
		role := fs.String("role", "customer", "User role: customer | staff | admin | driver")
		secret := fs.String("secret", os.Getenv("JWT_SECRET"), "JWT HMAC secret (HS256)")
		ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
		cli.AttachUsage(fs, cli.ModeKey)
		parseOrExit(fs, args)

		if *userID == "" || *secret == "" {
			fmt.Fprintln(os.Stderr, "Error: --user-id and --secret are required")
			fs.Usage()
			os.Exit(2)
		}
		if err := key.Run(os.Stdout, *secret, *userID, *role, *ttl); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	default:
		// should not happen because ParseMode validates known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}
}
