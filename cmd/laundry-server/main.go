package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/config"
	"github.com/vasiliy-maslov/laundry-tracking/internal/db"
	"github.com/vasiliy-maslov/laundry-tracking/internal/metrics"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
	"github.com/vasiliy-maslov/laundry-tracking/internal/transport"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)

	log.Info().Str("storage", cfg.App.StorageDriver).Msg("Laundry server starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		orders   order.Repository
		timeline order.TimelineRepository
	)
	switch cfg.App.StorageDriver {
	case config.StorageDriverMemory:
		store := order.NewMemoryStore()
		orders, timeline = store, store
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
	default:
		pg, err := db.New(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		orders, timeline = order.NewRepository(pg.Pool), order.NewTimelineRepository(pg.Pool)
	}

	notifier := order.NewAsyncNotifier(cfg.App.NotifyWorkers, order.LogNotifier{}, 10*time.Second, m)
	defer notifier.Stop()

	svc := order.NewService(orders, timeline, notifier, m)

	go runReconciler(ctx, svc, cfg.App.ReconcileInterval)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      transport.NewRouter(svc, reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "laundry-server").Logger()
}

// runReconciler heals order records that drifted from their timeline.
func runReconciler(ctx context.Context, svc order.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Reconcile pass failed")
			}
		}
	}
}
