package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/visionpad/internal/api"
	"github.com/RichardoC/visionpad/internal/config"
	"github.com/RichardoC/visionpad/internal/db"
	"github.com/RichardoC/visionpad/internal/llm"
	"github.com/RichardoC/visionpad/internal/logging"
	"github.com/RichardoC/visionpad/internal/session"
	"github.com/RichardoC/visionpad/internal/storage"
	"github.com/RichardoC/visionpad/internal/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.UsesDevSecret() {
		logger.Warn("SECRET_KEY is not set; session cookies are signed with the development key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (session.Store, func() error, error) {
	if cfg.SessionStore == config.StoreMemory {
		logger.Info("Using in-memory session store")
		return session.NewMemoryStore(), func() error { return nil }, nil
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database at %s: %w", cfg.DBPath, err)
	}
	logger.Info("Using SQLite session store", zap.String("dbPath", cfg.DBPath))
	return database, database.Close, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryDir, version)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	images, err := storage.NewImages(cfg.UploadDir)
	if err != nil {
		return err
	}

	llmService, err := llm.New(
		cfg.OpenAIBaseURL,
		cfg.OpenAIAPIKey,
		cfg.OpenAIModel,
		llm.WithTimeout(cfg.ModelTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	handler, err := api.NewHandler(store, images, llmService, logger, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxTokens:      cfg.MaxTokens,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(cfg.SecretKey, cfg.SessionTTL, logger)
	sessions.SetSecure(cfg.SecureCookie)

	sweeps := cron.New()
	if _, err := session.NewSweeper(store, cfg.SessionTTL, logger).Schedule(ctx, sweeps, session.DefaultSweepSchedule); err != nil {
		return fmt.Errorf("failed to schedule session expiry: %w", err)
	}
	sweeps.Start()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(sessions),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.ModelTimeout > 0 {
		server.WriteTimeout = cfg.ModelTimeout + 30*time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", cfg.ListenAddr),
			zap.String("model", llmService.Model()),
			zap.String("uploadDir", images.Dir()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server")
	case err = <-errCh:
		logger.Error("failed to start server", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-sweeps.Stop().Done()
	return multierr.Combine(
		err,
		server.Shutdown(shutdownCtx),
		closeStore(),
		shutdownTelemetry(shutdownCtx),
	)
}
