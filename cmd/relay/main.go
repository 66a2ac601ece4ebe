package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/gateway"
	"chat-relay/infrastructure/rest"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/ratelimit"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
)

// Exit codes to provide meaningful status to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and owns the shutdown order, so deferred cleanups
// (database close above all) run before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithSyncWrites(config.BadgerSyncWrites).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Stores
	directory := services.NewDirectoryService(log, repositories.NewChatRepository(db, log))
	store := services.NewMessageService(log, repositories.NewMessageRepository(db, log),
		directory, directory, config.MaxContentLength,
		services.HistoryLimits{Default: config.HistoryDefaultLimit, Max: config.HistoryMaxLimit})

	// 4. Supervision & Orchestration
	board := domain.NewHealthBoard()
	registry := runtime.NewRegistry()
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, supervisor, registry, directory, store, config.SinkTimeout)
	orchestrator.Add(observability.NewHealthMonitoringWorker(log, board, orchestrator, config.MetricInterval))

	limiter, closeLimiter, err := buildLimiter(config, log, orchestrator)
	if err != nil {
		return exitRuntime, err
	}
	defer closeLimiter()

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		orchestrator.Start(ctx)
	}()

	// 6. Transport
	verifier := auth.NewJWTVerifier(config.JWTSecret, config.JWTIssuer)
	gw := gateway.New(log, orchestrator, verifier, limiter,
		gateway.Config{
			AuthTimeout:          config.AuthTimeout,
			ConnectionBufferSize: config.ConnectionBufferSize,
			SinkTimeout:          config.SinkTimeout,
			PingInterval:         config.PingInterval,
		})
	wsHandler := ws.NewHandler(log, gw, ws.Config{
		WriteTimeout:   config.WriteTimeout,
		PongWait:       config.PongWait,
		MaxFrameSize:   config.MaxFrameSize,
		AllowedOrigins: config.Origins(),
	})
	router := rest.NewRouter(log, rest.Deps{
		Directory: directory,
		Store:     store,
		Verifier:  verifier,
		Board:     board,
		Stats:     orchestrator,
		WebSocket: wsHandler,
	})
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting relay server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err = <-errChan:
		log.Error("Server failed", "error", err)
		code = exitRuntime
	}

	// 8. Final Cleanup: connections first, then workers, the database last (deferred).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("Connections still open at shutdown", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	orchestrator.Stop()
	<-workersDone
	log.Info("Program stopped cleanly")
	return code, err
}

// buildLimiter picks redis when REDIS_ADDR is set, the in-process limiter otherwise.
// A zero PUBLISH_RATE_LIMIT disables throttling.
func buildLimiter(config internal.Config, log *slog.Logger, orchestrator *runtime.Orchestrator) (contract.RateLimiter, func(), error) {
	if config.PublishRateLimit <= 0 {
		log.Info("Publish rate limiting disabled")
		return nil, func() {}, nil
	}
	if config.RedisAddr == "" {
		limiter := ratelimit.NewMemoryLimiter(config.PublishRateLimit, config.PublishRateWindow)
		orchestrator.Add(limiter)
		log.Info("Publish rate limiting in memory", "limit", config.PublishRateLimit, "window", config.PublishRateWindow)
		return limiter, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}
	log.Info("Redis connection established", "address", config.RedisAddr)
	limiter := ratelimit.NewRedisLimiter(client, log, "", config.PublishRateLimit, config.PublishRateWindow)
	return limiter, func() { _ = client.Close() }, nil
}
