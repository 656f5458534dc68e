package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"channel_manager/internal/adapters/observability"
	"channel_manager/internal/shared"
	"channel_manager/internal/wiring"
)

func main() {
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "syncd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	log.Info().
		Str("data_root", cfg.DataRoot).
		Int("workers", cfg.SyncWorkers).
		Int("interval_min", cfg.SyncIntervalMin).
		Msg("syncd starting")

	st := wiring.Build(ctx, cfg, wiring.Options{})
	defer st.Close()

	run := func() {
		syncAll(ctx, st, cfg.SyncWorkers)
		if cfg.SoftHoldSweep {
			sweep(ctx, st)
		}
	}

	run()
	if cfg.SyncIntervalMin <= 0 {
		return
	}

	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %dm", cfg.SyncIntervalMin), run); err != nil {
		log.Fatal().Err(err).Msg("schedule sync failed")
	}
	c.Start()
	log.Info().Msg("scheduled periodic sync")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("syncd stopped")
}

// syncAll refreshes and merges every unit with at most workers in flight.
func syncAll(ctx context.Context, st *wiring.Stack, workers int) {
	if workers <= 0 {
		workers = 1
	}
	start := time.Now()
	units, err := st.Store.ListUnits(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list units failed")
		return
	}

	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		failed, skip int
	)
	for _, unit := range units {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("sync interrupted")
			break
		}

		wg.Add(1)
		go func(unit string) {
			defer wg.Done()
			defer sem.Release(1)

			rep := st.FeedSvc.SyncUnit(ctx, unit)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case rep.Error != "":
				failed++
				log.Warn().Str("unit", unit).Str("error", rep.Error).Msg("sync failed")
			case !rep.Refresh.Attempted:
				skip++
				log.Debug().Str("unit", unit).Msg("no feeds to refresh; merged local sources")
			default:
				log.Info().
					Str("unit", unit).
					Str("refresh", string(rep.Refresh.Outcome)).
					Int("segments", rep.Merge.Out).
					Msg("sync ok")
			}
		}(unit)
	}

	wg.Wait()
	log.Info().
		Int("units", len(units)).
		Int("failed", failed).
		Int("no_feeds", skip).
		Dur("duration", time.Since(start)).
		Msg("sync completed")
}

func sweep(ctx context.Context, st *wiring.Stack) {
	rep, err := st.Sweeper.Sweep(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("soft-hold sweep failed")
		return
	}
	log.Info().
		Int("units_changed", rep.UnitsChanged).
		Int("expired", rep.Expired).
		Int("errors", len(rep.Errors)).
		Msg("soft-hold sweep completed")
}
