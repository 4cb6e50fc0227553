package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/api"
	"github.com/bobarin/storyreel/internal/app"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storyreel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting storyreel api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()
	logger.Info("connected to database")

	q, err := queue.New(cfg.RedisURL, logger.Named("queue"))
	if err != nil {
		return err
	}
	defer q.Close()
	logger.Info("connected to redis queue")

	handler := api.NewHandler(a.DB, q, a.Recorder, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		Logger:             logger.Named("http"),
	})

	if cfg.BackendAPIKey != "" {
		logger.Info("api key authentication enabled")
	} else {
		logger.Warn("no BACKEND_API_KEY set, api is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background work stops with ctx; the WaitGroup lets in-flight renders
	// record their interruption before the process exits.
	var wg sync.WaitGroup

	var w *worker.Worker
	if cfg.WorkerEnabled {
		w = worker.New(q, q, a.Renders, cfg.MaxConcurrentJobs, logger.Named("worker"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger.Error("worker exited", zap.Error(err))
				stop()
			}
		}()
	}

	var busy func(uuid.UUID) bool
	if w != nil {
		busy = w.Active
	}
	j, err := a.NewJanitor(busy)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		j.Run(ctx, cfg.JanitorInterval)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("api server listening", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	logger.Info("server exited")
	return nil
}
