package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bookwell/reservation-engine/internal/api/router"
	"github.com/bookwell/reservation-engine/internal/calendarsync"
	appconfig "github.com/bookwell/reservation-engine/internal/config"
	"github.com/bookwell/reservation-engine/internal/observability/metrics"
	"github.com/bookwell/reservation-engine/internal/reservation"
	"github.com/bookwell/reservation-engine/internal/slotcache"
	"github.com/bookwell/reservation-engine/internal/store"
	"github.com/bookwell/reservation-engine/internal/tenancy"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting reservation engine",
		"env", cfg.Env,
		"port", cfg.Port,
		"sweep_interval", cfg.SweepInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var resStore reservation.Store
	var directory *tenancy.Directory
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create pgx pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		resStore = store.NewPostgres(pool)
		directory = tenancy.NewDirectory(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		resStore = store.NewMemory()
	}

	reg := prometheus.NewRegistry()
	engineMetrics := metrics.NewReservationMetrics(reg)

	opts := []reservation.Option{
		reservation.WithDefaultHold(cfg.DefaultHoldDuration),
		reservation.WithMetrics(engineMetrics),
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		opts = append(opts, reservation.WithAvailabilityCache(
			slotcache.New(redisClient, cfg.SlotCacheTTL, logger.Component("slotcache")),
		))
	}

	engine := reservation.NewEngine(resStore, logger, opts...)

	var dispatcher *calendarsync.Dispatcher
	if cfg.GoogleSyncEnabled && directory != nil {
		syncer := calendarsync.NewGoogleSyncer(directory, logger.Component("calendarsync"))
		dispatcher = calendarsync.NewDispatcher(syncer, engine, cfg.SyncQueueSize, logger.Component("calendarsync"))
		engine.SetSyncNotifier(dispatcher)
		go dispatcher.Run(ctx)
	}

	sweeper := reservation.NewSweeper(engine, logger.Component("sweeper")).
		WithInterval(cfg.SweepInterval).
		WithSweepMetrics(engineMetrics)

	// The sweeper only starts once the calendars are seeded; sweeping a
	// half-rebuilt calendar could resurrect entries from the stale listing.
	var ready atomic.Bool
	go func() {
		if err := engine.Rebuild(ctx); err != nil {
			logger.Error("calendar rebuild failed", "error", err)
			os.Exit(1)
		}
		ready.Store(true)
		sweeper.Start(ctx)
	}()

	r := router.New(&router.Config{
		Logger:         logger,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:          ready.Load,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if dispatcher != nil {
		// Flush queued sync jobs so committed transitions are not lost.
		dispatcher.Drain()
	}
	logger.Info("shutdown complete")
}
