package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/auth"
	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/i18n"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// tokenTTL applies to tokens issued with the agent's verifier. Verification
// honors each token's own expiry.
const tokenTTL = 12 * time.Hour

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, nil)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("backend", cfg.BackendURL).
		Msg("Starting ExStem Proctor Agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	// ─── Load Translations ─────────────────────────────────────────────
	locales, err := i18n.Load(cfg.Lang, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load translations")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	submitter := worker.BackendSubmitter(cfg.BackendURL, cfg.BackendTimeout, log)
	sessions := service.NewSessionService()

	deps := handler.SessionDeps{
		Backend: func(cookie string) proctor.Backend {
			return backend.New(cfg.BackendURL, cfg.BackendTimeout, log, backend.WithCookie(cookie))
		},
		Locales:  locales,
		Sessions: sessions,
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	var (
		monitorRepo *repository.MonitorRepository
		beaconRepo  *repository.BeaconRepository
		waitBeacons func()
	)
	if rdb != nil {
		defer rdb.Close()

		monitorRepo = repository.NewMonitorRepository(rdb)
		beaconRepo = repository.NewBeaconRepository(rdb)
		queueBeacon := worker.NewQueueBeacon(beaconRepo, log)

		deps.Tabs = repository.NewTabRepository(rdb)
		deps.Beacon = queueBeacon
		deps.Publisher = monitorRepo
		waitBeacons = queueBeacon.Wait

		beaconWorker := worker.NewBeaconWorker(beaconRepo, submitter, log)
		go func() {
			beaconWorker.Start(workerCtx)
			close(workerDone)
		}()
	} else {
		directBeacon := worker.NewDirectBeacon(submitter, log)
		deps.Tabs = proctor.NewMemoryTabStore()
		deps.Beacon = directBeacon
		waitBeacons = directBeacon.Wait
		close(workerDone)
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(deps, cfg, log),
		Monitor: handler.NewMonitorHandler(monitorRepo, sessions, log),
		System:  handler.NewSystemHandler(rdb, beaconRepo, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	verifier := auth.NewVerifier(cfg.JWTSecret, tokenTTL)
	r := router.SetupRouter(ctx, verifier, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close live sessions; hijacked WebSockets outlive srv.Shutdown.
	// Running attempts are handed to the beacon.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	closed := sessions.CloseAll(closeCtx)
	log.Info().Int("sessions", closed).Msg("Live sessions closed")

	// 3. Let in-flight beacons land, then stop the worker after it drains.
	waitBeacons()
	workerCancel()
	<-workerDone

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
