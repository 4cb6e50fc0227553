// Package render turns a job's generated assets into the final narrated,
// subtitled portrait video.
//
// One render is a fixed sequence of stages, each consuming the previous
// stage's output: materialize assets, allocate timing into a concat
// manifest, normalize captions, build a silent slideshow (motion, or static
// as a total fallback) and composite audio plus burned-in subtitles.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/services"
)

// JobReader loads a job by id.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Options is the render profile.
type Options struct {
	ScratchRoot        string
	Width              int
	Height             int
	FPS                int
	MinSecondsPerImage float64
	MotionEnabled      bool
	MotionMaxZoom      float64
}

// Result is what a successful render hands back for publishing.
type Result struct {
	DurationSeconds float64
	FinalFilePath   string
	Slideshow       SlideshowOutcome
	Manifest        *Manifest
}

type Orchestrator struct {
	jobs         JobReader
	progress     ProgressStore
	enc          Encoder
	materializer *Materializer
	motion       *MotionSynthesizer
	recorder     *FailureRecorder
	opts         Options
	logger       *zap.Logger
}

func NewOrchestrator(
	jobs JobReader,
	progress ProgressStore,
	enc Encoder,
	materializer *Materializer,
	recorder *FailureRecorder,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	logger = logging.OrNop(logger)
	if opts.MinSecondsPerImage <= 0 {
		opts.MinSecondsPerImage = DefaultMinSecondsPerImage
	}
	spec := services.MotionSpec{Width: opts.Width, Height: opts.Height, FPS: opts.FPS, MaxZoom: opts.MotionMaxZoom}
	return &Orchestrator{
		jobs:         jobs,
		progress:     progress,
		enc:          enc,
		materializer: materializer,
		motion:       NewMotionSynthesizer(enc, spec, opts.MinSecondsPerImage, logger),
		recorder:     recorder,
		opts:         opts,
		logger:       logger,
	}
}

// WorkspaceDir is the scratch directory of a job.
func (o *Orchestrator) WorkspaceDir(jobID uuid.UUID) string {
	return filepath.Join(o.opts.ScratchRoot, jobID.String())
}

// Render runs the whole pipeline for jobID and returns the local final file.
// Fatal errors are *StageError values whose diagnostics have been recorded.
func (o *Orchestrator) Render(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	logger := o.logger.With(zap.String("job_id", jobID.String()))

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// The stored status alone is not trusted
	if !models.AssetsReady(job) {
		return nil, o.fail(jobID, StageGate, fmt.Errorf("%w: %s", models.ErrNotEligible, strings.Join(models.AssetBlockers(job), "; ")))
	}

	dir := o.WorkspaceDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &WorkspaceError{Dir: dir, Err: err}
	}

	progress := newProgress(o.progress, jobID, job.ProgressPercent, logger)
	logger.Info("render started", zap.Int("images", len(job.ImageURLs)), zap.String("workspace", dir))

	// Materialize
	assets := &Assets{}
	if assets.Images, err = o.materializer.Images(ctx, dir, job.ImageURLs); err != nil {
		return nil, o.fail(jobID, StageMaterialize, err)
	}
	progress.Report(ctx, ProgressImages)

	if assets.Audio, err = o.materializer.Audio(ctx, dir, *job.AudioURL); err != nil {
		return nil, o.fail(jobID, StageMaterialize, err)
	}
	progress.Report(ctx, ProgressAudio)

	if assets.Captions, assets.CaptionFormat, err = o.materializer.Captions(ctx, dir, *job.CaptionsURL); err != nil {
		return nil, o.fail(jobID, StageMaterialize, err)
	}
	if err := assets.Verify(); err != nil {
		return nil, o.fail(jobID, StageMaterialize, err)
	}

	srtPath, err := NormalizeCaptions(ctx, o.enc, assets.Captions, assets.CaptionFormat, dir)
	if err != nil {
		return nil, o.fail(jobID, StageCaptions, err)
	}
	progress.Report(ctx, ProgressCaptions)

	// Timing
	audioSeconds, err := o.enc.ProbeDuration(ctx, assets.Audio)
	if err != nil {
		return nil, o.fail(jobID, StageProbe, err)
	}

	manifest, err := BuildManifest(assets.Images, audioSeconds, o.opts.MinSecondsPerImage)
	if err != nil {
		return nil, o.fail(jobID, StageManifest, err)
	}
	manifestPath := filepath.Join(dir, manifestFileName)
	if err := manifest.Write(manifestPath); err != nil {
		return nil, o.fail(jobID, StageManifest, err)
	}
	progress.Report(ctx, ProgressManifest)

	// Slideshow
	slideshow, err := o.buildSlideshow(ctx, logger, assets.Images, audioSeconds, manifestPath, dir)
	if err != nil {
		return nil, o.fail(jobID, StageSlideshow, err)
	}
	progress.Report(ctx, ProgressSlideshow)

	// Composite
	progress.Report(ctx, ProgressEncodeStart)
	finalPath := filepath.Join(dir, finalFileName)
	err = o.enc.Composite(ctx, services.CompositeInput{
		VideoPath:      slideshow.Path,
		AudioPath:      assets.Audio,
		SubtitleFilter: services.SubtitleFilter(srtPath),
		OutputPath:     finalPath,
	})
	if err != nil {
		return nil, o.fail(jobID, StageComposite, err)
	}

	if err := checkReadable(finalPath); err != nil {
		return nil, o.fail(jobID, StageVerify, fmt.Errorf("composite output: %w", err))
	}
	duration, err := o.enc.ProbeDuration(ctx, finalPath)
	if err != nil {
		return nil, o.fail(jobID, StageVerify, err)
	}
	progress.Report(ctx, ProgressEncodeDone)

	logger.Info("render finished",
		zap.Float64("duration_seconds", duration),
		zap.String("slideshow_mode", string(slideshow.Mode)),
		zap.String("slideshow_status", string(slideshow.Status)))

	return &Result{
		DurationSeconds: duration,
		FinalFilePath:   finalPath,
		Slideshow:       slideshow,
		Manifest:        manifest,
	}, nil
}

// buildSlideshow prefers motion and falls back to the static manifest encode.
// The fallback is total: no motion clip survives a motion failure.
func (o *Orchestrator) buildSlideshow(ctx context.Context, logger *zap.Logger, images []string, audioSeconds float64, manifestPath, dir string) (SlideshowOutcome, error) {
	outcome := SlideshowOutcome{Mode: SlideshowStatic, Status: SlideshowSucceeded}

	if o.opts.MotionEnabled {
		path, err := o.motion.Synthesize(ctx, images, audioSeconds, dir)
		if err == nil {
			return SlideshowOutcome{Path: path, Mode: SlideshowMotion, Status: SlideshowSucceeded}, nil
		}
		if ctx.Err() != nil {
			return SlideshowOutcome{Status: SlideshowFailed, Reason: err.Error()}, err
		}
		logger.Warn("motion synthesis failed, using static slideshow", zap.Error(err))
		outcome.Status = SlideshowDegraded
		outcome.Reason = err.Error()
	}

	out := filepath.Join(dir, slideshowFileName)
	if err := o.enc.EncodeSlideshow(ctx, manifestPath, o.opts.Width, o.opts.Height, o.opts.FPS, out); err != nil {
		return SlideshowOutcome{Mode: SlideshowStatic, Status: SlideshowFailed, Reason: err.Error()}, err
	}
	outcome.Path = out
	return outcome, nil
}

// fail records diagnostics for a fatal error and wraps it as a StageError.
func (o *Orchestrator) fail(jobID uuid.UUID, stage Stage, err error) error {
	se := &StageError{Stage: stage, Err: err}
	if errors.Is(err, context.Canceled) {
		return se
	}
	if o.recorder != nil {
		path, recErr := o.recorder.Record(jobID, stage, err)
		if recErr != nil {
			o.logger.Error("failed to record render diagnostics",
				zap.String("job_id", jobID.String()),
				zap.Error(recErr))
		}
		se.LogPath = path
	}
	return se
}
