package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	server "channel_manager/internal/adapters/http_server"
	"channel_manager/internal/adapters/observability"
	"channel_manager/internal/shared"
	"channel_manager/internal/wiring"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	st := wiring.Build(ctx, cfg, wiring.Options{})
	defer st.Close()

	// http
	srv := server.New(cfg.CORSOrigins)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	h := &server.Handlers{
		Q:         st.Queries,
		Exporter:  st.Exporter,
		Merger:    st.Merger,
		Feeds:     st.FeedSvc,
		Bookings:  st.Bookings,
		Autopilot: st.Autopilot,
		AdminKey:  cfg.AdminKey,
	}
	if st.Audit != nil {
		h.History = st.Audit
	}
	srv.MountHandlers(h)

	log.Info().Str("addr", cfg.HTTPAddr).Str("data_root", cfg.DataRoot).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
