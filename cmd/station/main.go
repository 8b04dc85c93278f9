package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/backend"
	"github.com/educaition/station/internal/completion"
	"github.com/educaition/station/internal/config"
	"github.com/educaition/station/internal/database"
	"github.com/educaition/station/internal/handler"
	"github.com/educaition/station/internal/identity"
	"github.com/educaition/station/internal/logger"
	"github.com/educaition/station/internal/monitor"
	"github.com/educaition/station/internal/progress"
	"github.com/educaition/station/internal/router"
	"github.com/educaition/station/internal/session"
	"github.com/educaition/station/internal/settings"
	"github.com/educaition/station/internal/validator"
	"github.com/educaition/station/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.StationName)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("backend", cfg.BackendURL).
		Msg("Starting station agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Local Database ──────────────────────────────────────────
	db, err := database.Open(ctx, cfg.DatabasePath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local database")
	}
	defer db.Close()

	// ─── Connect Lab Cache (optional) ─────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to lab cache")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Device Identity ──────────────────────────────────────────────
	deviceID := identity.NewStore(db, log).GetOrCreate(ctx)
	log.Info().Str("device_id", deviceID).Msg("Device identity ready")

	// ─── Wire Core Components ─────────────────────────────────────────
	be := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, log)
	outbox := worker.NewOutbox(db)

	caches := []completion.Cache{completion.NewSQLiteCache(db)}
	if rdb != nil {
		caches = append(caches, completion.NewRedisCache(rdb, deviceID))
	}
	registry := completion.NewRegistry(deviceID, caches, be, outbox, log)

	progressStore := progress.NewStore(db, log)
	settingsStore := settings.NewStore(db, cfg.BcryptCost, log)
	hub := monitor.NewHub(log)
	mgr := session.NewManager(deviceID, be, registry, progressStore, hub, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	syncWorker := worker.NewSyncWorker(outbox, be, log)
	go syncWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(mgr, settingsStore, log),
		Monitor: handler.NewMonitorHandler(hub, cfg.AllowedOrigins, log),
		System:  handler.NewSystemHandler(db, outbox, hub, deviceID, log),
	}
	r := router.SetupRouter(handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Station listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop the sync worker; it drains due outbox items before returning.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
