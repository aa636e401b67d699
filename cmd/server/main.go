package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/messaging"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/storage"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Tracing ───────────────────────────────────────────────────────
	shutdownTracing, err := observability.Init(ctx, observability.Config{
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Evidence Storage ──────────────────────────────────────────────
	evidence, err := storage.NewEvidenceStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create evidence store")
	}
	if err := evidence.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare evidence bucket")
	}

	// ─── Domain Events (optional) ──────────────────────────────────────
	var events service.EventPublisher
	if cfg.AMQPURL != "" {
		publisher, err := messaging.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable, domain events disabled")
		} else {
			defer publisher.Close()
			events = publisher
		}
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	hub := ws.NewHub()
	authService := service.NewAuthService(cfg, rdb, userRepo)
	testService := service.NewTestService(testRepo, questionRepo, rdb, log)
	monitorService := service.NewMonitorService(rdb, log)
	sessionService := service.NewSessionService(cfg, testService, attemptRepo, rdb, evidence, events, monitorService, hub, log)
	reviewService := service.NewReviewService(testService, attemptRepo, sessionService, events, log)
	dashboardService := service.NewDashboardService(testRepo, attemptRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:          handler.NewAuthHandler(authService, log),
		StudentPortal: handler.NewStudentPortalHandler(sessionService, reviewService, cfg.MaxUploadBytes, log),
		Dashboard:     handler.NewDashboardHandler(dashboardService, log),
		Teacher:       handler.NewTeacherHandler(testService, reviewService, sessionService, evidence, log),
		Monitor:       handler.NewMonitorHandler(testService, reviewService, sessionService, monitorService, log),
		WS:            handler.NewWSHandler(sessionService, hub, cfg.SubmitTimeout, log, cfg.AllowedOrigins),
		System:        handler.NewSystemHandler(pool, rdb, sessionService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	starts := []func(context.Context){
		worker.NewAutosaveWorker(pool, rdb, log).Start,
		worker.NewFlagWorker(pool, rdb, log).Start,
		worker.NewQuestionOrderWorker(pool, rdb, log).Start,
		worker.NewScoringWorker(pool, rdb, log).Start,
	}
	for _, start := range starts {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	authLimiter := middleware.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst)
	stopCleanup := make(chan struct{})
	go authLimiter.RunCleanup(stopCleanup)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load every test payload before accepting traffic so the first wave of
	// students does not stampede PostgreSQL.
	if cfg.PrewarmPayload {
		if err := testService.PrewarmAll(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache prewarm failed")
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, authLimiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

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

	// 1. Stop accepting new HTTP requests. Hijacked websocket connections
	// are not tracked by Shutdown and are closed explicitly below.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(stopCleanup)

	// 2. Stop timers and drop live sessions, then disconnect their clients.
	sessionService.Shutdown()
	hub.CloseAll()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	if err := shutdownTracing(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Tracer shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
