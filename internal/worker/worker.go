package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/render"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	defaultErrorBackoff   = 2 * time.Second
)

// TaskQueue is the source of render tasks.
type TaskQueue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Task, error)
}

// CancelFeed delivers job ids whose render should stop.
type CancelFeed interface {
	SubscribeCancel(ctx context.Context) (<-chan uuid.UUID, error)
}

// Executor runs one render attempt.
type Executor interface {
	Execute(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

type Worker struct {
	queue   TaskQueue
	cancels CancelFeed
	renders Executor
	logger  *zap.Logger

	concurrency    int
	dequeueTimeout time.Duration
	errorBackoff   time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelCauseFunc
}

func New(q TaskQueue, cancels CancelFeed, renders Executor, concurrency int, logger *zap.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	logger = logging.OrNop(logger)
	return &Worker{
		queue:          q,
		cancels:        cancels,
		renders:        renders,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: defaultDequeueTimeout,
		errorBackoff:   defaultErrorBackoff,
		inflight:       make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// Run consumes render tasks until ctx is done. Renders still running at
// shutdown are interrupted and their jobs returned to assets_generated.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Int("concurrency", w.concurrency))

	g, gctx := errgroup.WithContext(ctx)

	if w.cancels != nil {
		feed, err := w.cancels.SubscribeCancel(gctx)
		if err != nil {
			return fmt.Errorf("subscribe to cancel requests: %w", err)
		}
		g.Go(func() error {
			for jobID := range feed {
				if !w.Cancel(jobID) {
					w.logger.Debug("cancel request for job not running here", zap.String("job_id", jobID.String()))
				}
			}
			return nil
		})
	}

	for i := 0; i < w.concurrency; i++ {
		consumer := i + 1
		g.Go(func() error {
			w.consume(gctx, consumer)
			return nil
		})
	}

	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context, consumer int) {
	logger := w.logger.With(zap.Int("consumer", consumer))
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Dequeue(ctx, queue.QueueRender, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to dequeue render task", zap.Error(err))
			if !sleep(ctx, w.errorBackoff) {
				return
			}
			continue
		}
		if task == nil {
			continue
		}

		w.handle(ctx, logger, task)
	}
}

// handle runs one task. A panic is contained to the task.
func (w *Worker) handle(ctx context.Context, logger *zap.Logger, task *queue.Task) {
	logger = logger.With(zap.String("task_id", task.ID.String()), zap.String("job_id", task.JobID.String()))

	taskCtx, cancel := context.WithCancelCause(ctx)
	if !w.track(task.JobID, cancel) {
		cancel(nil)
		logger.Info("render already running in this process, dropping task")
		return
	}
	defer func() {
		w.untrack(task.JobID)
		cancel(nil)
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("render task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	logger.Info("processing render task")
	start := time.Now()

	job, err := w.renders.Execute(taskCtx, task.JobID)
	switch {
	case errors.Is(err, models.ErrNotEligible), errors.Is(err, models.ErrRenderConflict):
		logger.Info("render task dropped", zap.Error(err))
	case err != nil:
		fields := []zap.Field{zap.Duration("elapsed", time.Since(start)), zap.Error(err)}
		if job != nil {
			fields = append(fields, zap.String("status", string(job.Status)))
		}
		logger.Error("render task failed", fields...)
	default:
		logger.Info("render task completed", zap.Duration("elapsed", time.Since(start)))
	}
}

// Cancel stops the render of jobID if this process is running it.
func (w *Worker) Cancel(jobID uuid.UUID) bool {
	w.mu.Lock()
	cancel, ok := w.inflight[jobID]
	w.mu.Unlock()
	if ok {
		w.logger.Info("cancelling render", zap.String("job_id", jobID.String()))
		cancel(render.ErrCancelRequested)
	}
	return ok
}

// Active reports whether jobID is rendering in this process.
func (w *Worker) Active(jobID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inflight[jobID]
	return ok
}

func (w *Worker) track(jobID uuid.UUID, cancel context.CancelCauseFunc) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inflight[jobID]; ok {
		return false
	}
	w.inflight[jobID] = cancel
	return true
}

func (w *Worker) untrack(jobID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, jobID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
