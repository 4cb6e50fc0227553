// Package app wires configuration into the render stack shared by the API
// server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/janitor"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/retry"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/storage"
)

// App holds the long-lived render components.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *db.DB
	Recorder     *render.FailureRecorder
	Orchestrator *render.Orchestrator
	Renders      *render.Service
	Owner        string
}

// New connects to the database, ensures the schema and builds the render
// pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.New(ctx, cfg.DatabaseURL, logger.Named("db"))
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}

	uploader, err := NewUploader(ctx, cfg, logger.Named("storage"))
	if err != nil {
		database.Close()
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     database,
		Owner:  leaseOwner(),
	}
	a.build(database, uploader)
	return a, nil
}

func (a *App) build(store render.JobStore, uploader storage.Uploader) {
	cfg := a.Config
	rc := cfg.Render

	fetcher := storage.NewFetcher(storage.FetcherOptions{
		Policy: retry.Policy{
			MaxRetries: cfg.Fetch.MaxRetries,
			BaseDelay:  cfg.Fetch.BaseDelay,
			MaxJitter:  cfg.Fetch.MaxJitter,
		},
		RatePerSec: cfg.Fetch.RatePerSec,
		Burst:      cfg.Fetch.Concurrency,
		Timeout:    cfg.Fetch.Timeout,
	}, a.Logger.Named("fetch"))

	ffmpeg := services.NewFFmpegService(rc.FFmpegPath, rc.FFprobePath, services.ExecRunner{}, a.Logger.Named("ffmpeg"))

	a.Recorder = render.NewFailureRecorder(rc.LogDir(), a.Logger.Named("diagnostics"))
	a.Orchestrator = render.NewOrchestrator(
		store,
		store,
		ffmpeg,
		render.NewMaterializer(fetcher, cfg.Fetch.Concurrency, a.Logger.Named("materializer")),
		a.Recorder,
		render.Options{
			ScratchRoot:        rc.ScratchRoot,
			Width:              rc.Width,
			Height:             rc.Height,
			FPS:                rc.FPS,
			MinSecondsPerImage: rc.MinSecondsPerImage,
			MotionEnabled:      rc.MotionEnabled,
			MotionMaxZoom:      rc.MotionMaxZoom,
		},
		a.Logger.Named("render"),
	)
	a.Renders = render.NewService(store, a.Orchestrator, uploader, a.Recorder, render.ServiceOptions{
		Owner:      a.Owner,
		LeaseTTL:   cfg.RenderLeaseTTL,
		MessageCap: rc.ErrorMessageCap,
	}, a.Logger.Named("lifecycle"))
}

// NewJanitor builds the scratch janitor. busy reports job directories the
// caller is still rendering into.
func (a *App) NewJanitor(busy func(jobID uuid.UUID) bool) (*janitor.Janitor, error) {
	opts := janitor.Options{
		Root: a.Config.Render.ScratchRoot,
		TTL:  a.Config.ScratchTTL,
	}
	if busy != nil {
		opts.Busy = func(name string) bool {
			id, err := uuid.Parse(name)
			return err == nil && busy(id)
		}
	}
	return janitor.New(opts, a.Logger.Named("janitor"))
}

func (a *App) Close() error {
	return a.DB.Close()
}

// NewUploader selects the final-artifact storage backend.
func NewUploader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Uploader, error) {
	switch cfg.StorageBackend {
	case "supabase":
		logger.Info("using supabase storage", zap.String("bucket", cfg.SupabaseStorageBucket))
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger), nil
	case "s3":
		logger.Info("using s3 storage", zap.String("bucket", cfg.S3Bucket), zap.String("endpoint", cfg.S3Endpoint))
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// leaseOwner identifies this process in render leases.
func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "render"
	}
	return host + "-" + uuid.NewString()[:8]
}
