// Command cmctl runs merge, publish and autopilot operations against the data root.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"channel_manager/internal/adapters/observability"
	"channel_manager/internal/app"
	"channel_manager/internal/domain"
	"channel_manager/internal/shared"
	"channel_manager/internal/wiring"
)

const usage = `usage: cmctl <command> [flags] [args]

commands:
  merge   [--all] UNIT...     regenerate merged and published timelines
  publish UNIT...             re-publish from the existing merged timeline
  precheck [--trigger T] ID   evaluate a pending inquiry without committing
  run      [--trigger T] ID   evaluate and commit a pending inquiry
  sweep                       drop expired soft holds and re-merge
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, "cmctl").Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx := context.Background()
	st := wiring.Build(ctx, cfg, wiring.Options{})
	defer st.Close()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "merge":
		err = merge(ctx, st, args)
	case "publish":
		err = publish(ctx, st, args)
	case "precheck", "run":
		err = decide(ctx, st, cmd, args)
	case "sweep":
		var rep app.SweepReport
		rep, err = st.Sweeper.Sweep(ctx, time.Now())
		if err == nil {
			printJSON(rep)
		}
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		st.Close()
		log.Fatal().Err(err).Str("command", cmd).Msg("failed")
	}
}

func merge(ctx context.Context, st *wiring.Stack, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	all := fs.Bool("all", false, "merge every unit")
	_ = fs.Parse(args)

	units := fs.Args()
	if *all {
		var err error
		if units, err = st.Store.ListUnits(ctx); err != nil {
			return err
		}
	}
	if len(units) == 0 {
		return fmt.Errorf("no units given")
	}
	var failed int
	for _, u := range units {
		rep, err := st.Merger.Regenerate(ctx, u)
		if err != nil {
			failed++
			continue
		}
		printJSON(rep)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d merges failed", failed, len(units))
	}
	return nil
}

func publish(ctx context.Context, st *wiring.Stack, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no units given")
	}
	pub := app.NewPublisher(st.Store)
	for _, u := range args {
		n, err := pub.Publish(ctx, u)
		if err != nil {
			return fmt.Errorf("publish %s: %w", u, err)
		}
		st.Queries.InvalidateUnit(ctx, u)
		printJSON(map[string]any{"unit": u, "published": n})
	}
	return nil
}

func decide(ctx context.Context, st *wiring.Stack, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	trig := fs.StringP("trigger", "t", string(domain.TriggerOnAccept), "on_accept or on_guest_confirm")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("%s needs exactly one inquiry id", cmd)
	}
	t := domain.Trigger(*trig)
	if t != domain.TriggerOnAccept && t != domain.TriggerOnGuestConfirm {
		return fmt.Errorf("bad trigger %q", *trig)
	}

	var (
		d   domain.Decision
		err error
	)
	if cmd == "run" {
		d, err = st.Autopilot.RunByID(ctx, fs.Arg(0), t)
	} else {
		d, err = st.Autopilot.PrecheckByID(ctx, fs.Arg(0), t)
	}
	if err != nil {
		return err
	}
	printJSON(d)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
