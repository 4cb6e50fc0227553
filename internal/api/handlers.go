package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/render"
)

// JobReader loads jobs for status polling and gating.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// RenderQueue hands renders to the worker pool.
type RenderQueue interface {
	EnqueueRender(ctx context.Context, jobID uuid.UUID) (*queue.Task, error)
	PublishCancel(ctx context.Context, jobID uuid.UUID) error
	GetQueueLength(ctx context.Context, queueName string) (int64, error)
}

// LogStore serves recorded render diagnostics.
type LogStore interface {
	List(jobID uuid.UUID) ([]string, error)
	Read(jobID uuid.UUID, name string) ([]byte, error)
}

type Handler struct {
	jobs   JobReader
	queue  RenderQueue
	logs   LogStore
	now    func() time.Time
	logger *zap.Logger
}

func NewHandler(jobs JobReader, q RenderQueue, logs LogStore, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	return &Handler{
		jobs:   jobs,
		queue:  q,
		logs:   logs,
		now:    time.Now,
		logger: logger,
	}
}

// FinalizeJob handles POST /v1/jobs/{id}/finalize
//
// The job is gated here so callers get the blockers back immediately; the
// worker gates again before taking the render lease.
func (h *Handler) FinalizeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if job.Status == models.JobStatusRendering && !models.LeaseExpired(job, h.now()) {
		respondError(w, http.StatusConflict, "Render already in progress")
		return
	}

	// Judge readiness the way the worker will after correcting drift
	gated := *job
	if to, drifted := models.ReconcileAssetStatus(&gated); drifted {
		gated.Status = to
	}
	if models.LeaseExpired(&gated, h.now()) {
		gated.Status = models.JobStatusAssetsGenerated
	}
	if blockers := models.RenderBlockers(&gated); len(blockers) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    "Job is not eligible to render",
			"blockers": blockers,
		})
		return
	}

	task, err := h.queue.EnqueueRender(r.Context(), job.ID)
	if err != nil {
		h.logger.Error("failed to enqueue render", zap.String("job_id", job.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusAccepted, models.FinalizeResponse{
		JobID:  job.ID,
		Status: job.Status,
		TaskID: task.ID,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, models.NewJobResponse(job))
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if job.Status != models.JobStatusRendering {
		respondError(w, http.StatusConflict, "Job is not rendering")
		return
	}

	if err := h.queue.PublishCancel(r.Context(), job.ID); err != nil {
		h.logger.Error("failed to publish cancel", zap.String("job_id", job.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to request cancellation")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

// ListJobLogs handles GET /v1/jobs/{id}/logs
func (h *Handler) ListJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	names, err := h.logs.List(jobID)
	if err != nil {
		h.logger.Error("failed to list render logs", zap.String("job_id", jobID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}

	respondJSON(w, http.StatusOK, models.LogListResponse{JobID: jobID, Logs: names})
}

// GetJobLog handles GET /v1/jobs/{id}/logs/{name}
func (h *Handler) GetJobLog(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	data, err := h.logs.Read(jobID, chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, render.ErrInvalidLogName):
		respondError(w, http.StatusBadRequest, "Invalid log name")
		return
	case errors.Is(err, render.ErrLogNotFound):
		respondError(w, http.StatusNotFound, "Log not found")
		return
	case err != nil:
		h.logger.Error("failed to read render log", zap.String("job_id", jobID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to read log")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Helper methods
func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return nil, false
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get job", zap.String("job_id", jobID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return nil, false
	}
	return job, true
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return jobID, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health handles GET /health. It reports the render backlog and degrades
// when the queue cannot be reached.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.GetQueueLength(r.Context(), queue.QueueRender)
	if err != nil {
		h.logger.Warn("render queue unavailable", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "render queue unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "render_queue_length": depth})
}
