package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a video job. Values are persisted.
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusScriptGenerated     JobStatus = "script_generated"
	JobStatusScriptApproved      JobStatus = "script_approved"
	JobStatusStoryboardGenerated JobStatus = "storyboard_generated"
	JobStatusAssetsGenerating    JobStatus = "assets_generating"
	JobStatusAssetsGenerated     JobStatus = "assets_generated"
	JobStatusRendering           JobStatus = "rendering"
	JobStatusCompleted           JobStatus = "completed"

	JobStatusScriptFailed     JobStatus = "script_failed"
	JobStatusStoryboardFailed JobStatus = "storyboard_failed"
	JobStatusAssetsFailed     JobStatus = "assets_failed"
	JobStatusRenderFailed     JobStatus = "render_failed"
	JobStatusCancelled        JobStatus = "cancelled"
)

// Progress checkpoints owned by the state machine. Intermediate checkpoints
// belong to the render pipeline.
const (
	ProgressRenderStart = 10
	ProgressComplete    = 100
)

// DefaultErrorMessageCap bounds the persisted, user-facing error string.
const DefaultErrorMessageCap = 900

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRenderConflict    = errors.New("job is not available for rendering")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrNotEligible       = errors.New("job is not eligible to render")
)

// Job is one video-generation request and its accumulated state. Within this
// service it is mutated only through the named operations in status.go and the
// matching store methods.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Status      JobStatus `json:"status"`
	ImageURLs   []string  `json:"image_urls"` // scene order
	AudioURL    *string   `json:"audio_url,omitempty"`
	CaptionsURL *string   `json:"captions_url,omitempty"` // WebVTT or SubRip

	FinalVideoURL        *string `json:"final_video_url,omitempty"`
	TotalDurationSeconds *int    `json:"total_duration_seconds,omitempty"`
	ProgressPercent      int     `json:"progress_percent"`
	ErrorMessage         *string `json:"error_message,omitempty"`

	RenderStartedAt *time.Time `json:"render_started_at,omitempty"`
	RenderDoneAt    *time.Time `json:"render_done_at,omitempty"`

	// Render lease: set together with the transition into rendering, cleared on
	// any outcome. An expired lease may be taken over.
	RenderLeaseOwner     *string    `json:"render_lease_owner,omitempty"`
	RenderLeaseExpiresAt *time.Time `json:"render_lease_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DTOs for API responses

type JobResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Status               JobStatus  `json:"status"`
	ProgressPercent      int        `json:"progress_percent"`
	FinalVideoURL        *string    `json:"final_video_url,omitempty"`
	TotalDurationSeconds *int       `json:"total_duration_seconds,omitempty"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	RenderStartedAt      *time.Time `json:"render_started_at,omitempty"`
	RenderDoneAt         *time.Time `json:"render_done_at,omitempty"`
	RenderEligible       bool       `json:"render_eligible"`
	RenderBlockers       []string   `json:"render_blockers,omitempty"`
	ImageCount           int        `json:"image_count"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NewJobResponse builds the polling view of a job.
func NewJobResponse(job *Job) JobResponse {
	blockers := RenderBlockers(job)
	return JobResponse{
		ID:                   job.ID,
		Status:               job.Status,
		ProgressPercent:      job.ProgressPercent,
		FinalVideoURL:        job.FinalVideoURL,
		TotalDurationSeconds: job.TotalDurationSeconds,
		ErrorMessage:         job.ErrorMessage,
		RenderStartedAt:      job.RenderStartedAt,
		RenderDoneAt:         job.RenderDoneAt,
		RenderEligible:       len(blockers) == 0,
		RenderBlockers:       blockers,
		ImageCount:           len(job.ImageURLs),
		UpdatedAt:            job.UpdatedAt,
	}
}

type FinalizeResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
	TaskID uuid.UUID `json:"task_id"`
}

type LogListResponse struct {
	JobID uuid.UUID `json:"job_id"`
	Logs  []string  `json:"logs"`
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
