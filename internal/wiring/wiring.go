// Package wiring assembles the services shared by the api, syncd and cmctl binaries.
package wiring

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"channel_manager/internal/adapters/ics"
	redisad "channel_manager/internal/adapters/redis"
	"channel_manager/internal/adapters/refresher"
	"channel_manager/internal/adapters/unitlock"
	"channel_manager/internal/app"
	"channel_manager/internal/domain"
	"channel_manager/internal/shared"
	"channel_manager/internal/storage/jsonfs"
	mysqlrepo "channel_manager/internal/storage/mysql"
)

type Stack struct {
	Store     *jsonfs.Store
	Audit     *mysqlrepo.Repo // nil without MYSQL_DSN
	Feeds     *refresher.HTTP
	Refresher domain.FeedRefresher
	Merger    *app.MergeEngine
	Queries   *app.QueryService
	Exporter  *app.FeedExporter
	FeedSvc   *app.FeedService
	Bookings  *app.BookingService
	Autopilot *app.Orchestrator
	Sweeper   *app.SoftHoldSweeper

	closers []func() error
}

// Options override pieces of the stack; used by tests.
type Options struct {
	Fetcher refresher.Fetcher
	Now     func() time.Time
}

// Build connects optional backends (MySQL, Redis) and wires every service.
// Backends that fail to connect are logged and left out.
func Build(ctx context.Context, cfg shared.Config, opt Options) *Stack {
	s := &Stack{Store: jsonfs.New(cfg.DataRoot)}

	var audit domain.AuditLog
	if cfg.MySQLDSN != "" {
		if db, err := openMySQL(ctx, cfg.MySQLDSN); err != nil {
			log.Error().Err(err).Msg("mysql unavailable, audit trail disabled")
		} else {
			s.Audit = mysqlrepo.New(db)
			audit = s.Audit
			s.closers = append(s.closers, db.Close)
			log.Info().Msg("database connection ok")
		}
	}

	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, "cm:")
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, serving uncached")
			_ = rc.Close()
		} else {
			cache = rc
			s.closers = append(s.closers, rc.Close)
		}
	}

	fetch := opt.Fetcher
	if fetch == nil {
		fetch = ics.NewClient(cfg.FeedTimeout(), cfg.FeedRPS)
	}
	httpOpts := []refresher.HTTPOption{refresher.WithPublicHost(cfg.PublicHost), refresher.WithAudit(audit)}
	if opt.Now != nil {
		httpOpts = append(httpOpts, refresher.WithClock(opt.Now))
	}
	s.Feeds = refresher.NewHTTP(s.Store, fetch, cfg.FeedTimeout(), httpOpts...)
	s.Refresher = refresher.Chain{s.Feeds, refresher.NewCommand(s.Store.UnitsRoot(), cfg.FeedTimeout())}

	s.Queries = app.NewQueryService(s.Store, cache, cfg.CacheTTL())
	s.Merger = app.NewMergeEngine(s.Store, s.Store, s.Queries)
	s.Exporter = app.NewFeedExporter(s.Store)
	s.FeedSvc = app.NewFeedService(s.Feeds, s.Refresher, s.Merger)
	s.Bookings = app.NewBookingService(s.Store, s.Merger, s.Store)
	s.Sweeper = app.NewSoftHoldSweeper(s.Store, s.Bookings, cfg.Location())
	s.Autopilot = app.NewOrchestrator(app.OrchestratorDeps{
		Settings:  s.Store,
		DefaultTZ: cfg.DefaultTimezone,
		Refresher: s.Refresher,
		Merger:    s.Merger,
		Timeline:  s.Store,
		Pending:   s.Store,
		Locker:    unitlock.New(s.Store.UnitsRoot()),
		Committer: s.Bookings,
		Audit:     audit,
		Now:       opt.Now,
	})
	return s
}

func (s *Stack) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
