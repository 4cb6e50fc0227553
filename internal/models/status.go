package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusScriptGenerated: true,
		JobStatusScriptFailed:    true,
		JobStatusAssetsFailed:    true,
	},
	JobStatusScriptGenerated: {
		JobStatusScriptApproved: true,
		JobStatusScriptFailed:   true,
		JobStatusAssetsFailed:   true,
	},
	JobStatusScriptApproved: {
		JobStatusStoryboardGenerated: true,
		JobStatusScriptFailed:        true,
		JobStatusStoryboardFailed:    true,
		JobStatusAssetsFailed:        true,
	},
	JobStatusStoryboardGenerated: {
		JobStatusAssetsGenerating: true,
		JobStatusAssetsGenerated:  true, // status correction when assets are already present
		JobStatusStoryboardFailed: true,
		JobStatusAssetsFailed:     true,
	},
	JobStatusAssetsGenerating: {
		JobStatusAssetsGenerated: true,
		JobStatusAssetsFailed:    true,
	},
	JobStatusAssetsGenerated: {
		JobStatusRendering:        true,
		JobStatusAssetsGenerating: true, // status correction when assets went missing
		JobStatusAssetsFailed:     true,
	},
	JobStatusRendering: {
		JobStatusCompleted:       true,
		JobStatusRenderFailed:    true,
		JobStatusCancelled:       true,
		JobStatusAssetsGenerated: true, // render could not be started
	},
	JobStatusCompleted:        {},
	JobStatusScriptFailed:     {},
	JobStatusStoryboardFailed: {},
	JobStatusAssetsFailed:     {},
	JobStatusRenderFailed:     {},
	JobStatusCancelled:        {},
}

func IsKnownStatus(status JobStatus) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status JobStatus) bool {
	next, ok := allowedTransitions[status]
	return ok && len(next) == 0
}

// Transition moves job to status or returns ErrInvalidTransition.
func Transition(job *Job, to JobStatus) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrInvalidTransition, job.Status, to, job.ID)
	}
	job.Status = to
	return nil
}

// AssetsReady derives readiness from the asset fields alone, ignoring status.
func AssetsReady(job *Job) bool {
	return len(AssetBlockers(job)) == 0
}

// AssetBlockers lists missing assets, ignoring status.
func AssetBlockers(job *Job) []string {
	var blockers []string
	if len(job.ImageURLs) == 0 {
		blockers = append(blockers, "no image urls")
	}
	if isBlank(job.AudioURL) {
		blockers = append(blockers, "audio_url not set")
	}
	if isBlank(job.CaptionsURL) {
		blockers = append(blockers, "captions_url not set")
	}
	return blockers
}

// RenderBlockers lists every reason job may not render. Empty means eligible.
func RenderBlockers(job *Job) []string {
	var blockers []string
	if job.Status != JobStatusAssetsGenerated {
		blockers = append(blockers, fmt.Sprintf("status is %s, want %s", job.Status, JobStatusAssetsGenerated))
	}
	return append(blockers, AssetBlockers(job)...)
}

// IsRenderEligible is the render gate: status == assets_generated and images,
// audio and captions all present.
func IsRenderEligible(job *Job) bool {
	return len(RenderBlockers(job)) == 0
}

// ReconcileAssetStatus returns the status the job should have given its asset
// fields, and whether that differs from the stored one. Only the pre-render
// asset states are corrected; every other status is returned unchanged.
func ReconcileAssetStatus(job *Job) (JobStatus, bool) {
	ready := AssetsReady(job)
	switch job.Status {
	case JobStatusAssetsGenerated:
		if !ready {
			return JobStatusAssetsGenerating, true
		}
	case JobStatusStoryboardGenerated, JobStatusAssetsGenerating:
		if ready {
			return JobStatusAssetsGenerated, true
		}
	}
	return job.Status, false
}

// ApplyRenderStart moves an eligible job into rendering.
func ApplyRenderStart(job *Job, now time.Time) error {
	if !IsRenderEligible(job) {
		return fmt.Errorf("%w: %s", ErrNotEligible, strings.Join(RenderBlockers(job), "; "))
	}
	if err := Transition(job, JobStatusRendering); err != nil {
		return err
	}
	job.RenderStartedAt = timePtr(now)
	job.RenderDoneAt = nil
	job.ErrorMessage = nil
	job.FinalVideoURL = nil
	job.TotalDurationSeconds = nil
	job.ProgressPercent = ProgressRenderStart
	return nil
}

// LeaseExpired reports whether a rendering job's lease has lapsed at now. A
// rendering job without a lease counts as expired.
func LeaseExpired(job *Job, now time.Time) bool {
	return job.Status == JobStatusRendering &&
		(job.RenderLeaseExpiresAt == nil || now.After(*job.RenderLeaseExpiresAt))
}

type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeNotStarted reverts to assets_generated: nothing was rendered.
	OutcomeNotStarted OutcomeKind = "not_started"
)

// RenderOutcome is the result of one render attempt as seen by the state machine.
type RenderOutcome struct {
	Kind            OutcomeKind
	FinalVideoURL   string
	DurationSeconds float64
	Message         string
}

// ApplyRenderOutcome records the terminal result of a render attempt. The
// job must currently be rendering. Failure outcomes keep ProgressPercent at the
// last checkpoint.
func ApplyRenderOutcome(job *Job, outcome RenderOutcome, now time.Time, messageCap int) error {
	if job.Status != JobStatusRendering {
		return fmt.Errorf("%w: outcome %s for job %s in status %q", ErrInvalidTransition, outcome.Kind, job.ID, job.Status)
	}

	switch outcome.Kind {
	case OutcomeSucceeded:
		if strings.TrimSpace(outcome.FinalVideoURL) == "" {
			return fmt.Errorf("successful render of job %s has no final video url", job.ID)
		}
		if err := Transition(job, JobStatusCompleted); err != nil {
			return err
		}
		seconds := RoundDurationSeconds(outcome.DurationSeconds)
		job.FinalVideoURL = strPtr(outcome.FinalVideoURL)
		job.TotalDurationSeconds = &seconds
		job.ProgressPercent = ProgressComplete
		job.ErrorMessage = nil

	case OutcomeFailed, OutcomeCancelled, OutcomeNotStarted:
		to := JobStatusRenderFailed
		switch outcome.Kind {
		case OutcomeCancelled:
			to = JobStatusCancelled
		case OutcomeNotStarted:
			to = JobStatusAssetsGenerated
		}
		if err := Transition(job, to); err != nil {
			return err
		}
		msg := strings.TrimSpace(outcome.Message)
		if msg == "" {
			msg = string(outcome.Kind)
		}
		job.ErrorMessage = strPtr(TruncateMessage(msg, messageCap))
		job.FinalVideoURL = nil
		job.TotalDurationSeconds = nil

	default:
		return fmt.Errorf("unknown render outcome %q", outcome.Kind)
	}

	job.RenderDoneAt = timePtr(now)
	job.RenderLeaseOwner = nil
	job.RenderLeaseExpiresAt = nil
	return nil
}

// RoundDurationSeconds rounds to the nearest whole second, minimum 1.
func RoundDurationSeconds(d float64) int {
	s := int(math.Round(d))
	if s < 1 {
		return 1
	}
	return s
}

// TruncateMessage caps msg at max runes, marking the cut with "...".
func TruncateMessage(msg string, max int) string {
	if max <= 0 {
		max = DefaultErrorMessageCap
	}
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
