package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/storage"
)

// ErrCancelRequested is the cancel cause for a user-requested cancellation.
// Any other cancellation is treated as an interruption.
var ErrCancelRequested = errors.New("render cancel requested")

// JobStore is the narrow set of job mutations a render performs.
type JobStore interface {
	JobReader
	ProgressStore
	CorrectJobStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) error
	StartRender(ctx context.Context, job *models.Job) error
	RenewRenderLease(ctx context.Context, id uuid.UUID, owner string, expiresAt time.Time) error
	SaveRenderOutcome(ctx context.Context, job *models.Job, leaseOwner string) error
}

// Renderer produces the local final video of a job.
type Renderer interface {
	Render(ctx context.Context, jobID uuid.UUID) (*Result, error)
}

// ServiceOptions tunes the render lifecycle.
type ServiceOptions struct {
	// Owner identifies this process in the render lease.
	Owner    string
	LeaseTTL time.Duration

	// RenewInterval is how often a running render extends its lease.
	// Defaults to a third of LeaseTTL.
	RenewInterval time.Duration

	MessageCap int
}

// Service drives one render attempt through the job state machine: gate,
// start, render, publish and record the outcome.
type Service struct {
	store    JobStore
	renderer Renderer
	uploader storage.Uploader
	recorder *FailureRecorder
	opts     ServiceOptions
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(store JobStore, renderer Renderer, uploader storage.Uploader, recorder *FailureRecorder, opts ServiceOptions, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.LeaseTTL {
		opts.RenewInterval = opts.LeaseTTL / 3
	}
	if opts.MessageCap <= 0 {
		opts.MessageCap = models.DefaultErrorMessageCap
	}
	if opts.Owner == "" {
		opts.Owner = "render-" + uuid.NewString()
	}
	return &Service{
		store:    store,
		renderer: renderer,
		uploader: uploader,
		recorder: recorder,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// Execute renders jobID once. It returns the job as last persisted and the
// render error, if any. ErrNotEligible and ErrRenderConflict mean nothing was
// started.
func (s *Service) Execute(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	logger := s.logger.With(zap.String("job_id", jobID.String()))

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.releaseExpiredLease(ctx, logger, job); err != nil {
		return job, err
	}

	if job.Status == models.JobStatusRendering {
		return job, fmt.Errorf("%w: render already in progress", models.ErrRenderConflict)
	}

	if to, drifted := models.ReconcileAssetStatus(job); drifted {
		from := job.Status
		if err := s.store.CorrectJobStatus(ctx, jobID, from, to); err != nil {
			return job, err
		}
		job.Status = to
		logger.Warn("corrected drifted job status",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}

	if blockers := models.RenderBlockers(job); len(blockers) > 0 {
		return job, fmt.Errorf("%w: %s", models.ErrNotEligible, strings.Join(blockers, "; "))
	}

	now := s.now()
	if err := models.ApplyRenderStart(job, now); err != nil {
		return job, err
	}
	expires := now.Add(s.opts.LeaseTTL)
	owner := s.opts.Owner
	job.RenderLeaseOwner = &owner
	job.RenderLeaseExpiresAt = &expires

	if err := s.store.StartRender(ctx, job); err != nil {
		return job, err
	}
	logger.Info("render lease taken", zap.String("owner", s.opts.Owner), zap.Time("expires_at", expires))

	runCtx, cancelRun := context.WithCancelCause(ctx)
	stopHeartbeat := s.startLeaseHeartbeat(runCtx, cancelRun, logger, jobID)
	outcome, renderErr := s.run(runCtx, jobID)
	stopHeartbeat()
	cancelRun(nil)

	if err := models.ApplyRenderOutcome(job, outcome, s.now(), s.opts.MessageCap); err != nil {
		return job, err
	}

	// The outcome must land even when the render was cancelled
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if err := s.store.SaveRenderOutcome(saveCtx, job, s.opts.Owner); err != nil {
		logger.Error("failed to save render outcome", zap.String("outcome", string(outcome.Kind)), zap.Error(err))
		return job, errors.Join(renderErr, err)
	}
	if fresh, err := s.store.GetJob(saveCtx, jobID); err == nil {
		job = fresh
	}

	fields := []zap.Field{zap.String("outcome", string(outcome.Kind)), zap.String("status", string(job.Status))}
	if renderErr != nil {
		logger.Error("render attempt failed", append(fields, zap.Error(renderErr))...)
	} else {
		logger.Info("render attempt completed", append(fields, zap.String("final_video_url", outcome.FinalVideoURL))...)
	}
	return job, renderErr
}

// run renders and publishes, classifying the result for the state machine.
// A panic becomes a failed outcome so the lease is never left behind.
func (s *Service) run(ctx context.Context, jobID uuid.UUID) (outcome models.RenderOutcome, runErr error) {
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("render panicked: %v", r)
			outcome = models.RenderOutcome{Kind: models.OutcomeFailed, Message: runErr.Error()}
		}
	}()

	result, err := s.renderer.Render(ctx, jobID)
	if err == nil {
		var url string
		url, err = s.uploader.UploadFile(ctx, storage.ObjectKey(jobID, finalFileName), result.FinalFilePath, "video/mp4")
		if err == nil {
			return models.RenderOutcome{
				Kind:            models.OutcomeSucceeded,
				FinalVideoURL:   url,
				DurationSeconds: result.DurationSeconds,
			}, nil
		}
		err = s.uploadFailed(ctx, jobID, err)
	}

	var wsErr *WorkspaceError
	switch {
	case ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrCancelRequested):
		return models.RenderOutcome{Kind: models.OutcomeCancelled, Message: "render cancelled"}, err
	case ctx.Err() != nil:
		// Interrupted by shutdown; nothing was published, so allow a re-render
		return models.RenderOutcome{Kind: models.OutcomeNotStarted, Message: "render interrupted: " + context.Cause(ctx).Error()}, err
	case errors.As(err, &wsErr):
		return models.RenderOutcome{Kind: models.OutcomeNotStarted, Message: "render not started: " + wsErr.Error()}, err
	default:
		return models.RenderOutcome{Kind: models.OutcomeFailed, Message: UserMessage(err)}, err
	}
}

func (s *Service) uploadFailed(ctx context.Context, jobID uuid.UUID, err error) error {
	se := &StageError{Stage: StageUpload, Err: err}
	if s.recorder != nil && ctx.Err() == nil {
		path, recErr := s.recorder.Record(jobID, StageUpload, err)
		if recErr != nil {
			s.logger.Error("failed to record upload diagnostics", zap.String("job_id", jobID.String()), zap.Error(recErr))
		}
		se.LogPath = path
	}
	return se
}

// releaseExpiredLease returns a job whose previous render died without an
// outcome to assets_generated so it can be rendered again.
func (s *Service) releaseExpiredLease(ctx context.Context, logger *zap.Logger, job *models.Job) error {
	if !models.LeaseExpired(job, s.now()) {
		return nil
	}

	var owner string
	if job.RenderLeaseOwner != nil {
		owner = *job.RenderLeaseOwner
	}

	outcome := models.RenderOutcome{Kind: models.OutcomeNotStarted, Message: "previous render lease expired"}
	if err := models.ApplyRenderOutcome(job, outcome, s.now(), s.opts.MessageCap); err != nil {
		return err
	}
	if err := s.store.SaveRenderOutcome(ctx, job, owner); err != nil {
		return err
	}
	logger.Warn("released expired render lease", zap.String("previous_owner", owner))
	return nil
}
