package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusScriptGenerated, true},
		{JobStatusScriptGenerated, JobStatusScriptApproved, true},
		{JobStatusScriptApproved, JobStatusStoryboardGenerated, true},
		{JobStatusStoryboardGenerated, JobStatusAssetsGenerating, true},
		{JobStatusAssetsGenerating, JobStatusAssetsGenerated, true},
		{JobStatusAssetsGenerated, JobStatusRendering, true},
		{JobStatusRendering, JobStatusCompleted, true},
		{JobStatusRendering, JobStatusRenderFailed, true},
		{JobStatusRendering, JobStatusCancelled, true},
		{JobStatusRendering, JobStatusAssetsGenerated, true},

		{JobStatusPending, JobStatusAssetsFailed, true},
		{JobStatusScriptApproved, JobStatusAssetsFailed, true},
		{JobStatusAssetsGenerating, JobStatusAssetsFailed, true},
		{JobStatusScriptApproved, JobStatusStoryboardFailed, true},

		{JobStatusPending, JobStatusRendering, false},
		{JobStatusAssetsGenerating, JobStatusRendering, false},
		{JobStatusRendering, JobStatusRendering, false},
		{JobStatusCompleted, JobStatusRendering, false},
		{JobStatusRenderFailed, JobStatusRendering, false},
		{JobStatusRenderFailed, JobStatusAssetsGenerated, false},
		{JobStatusRendering, JobStatusAssetsFailed, false},
		{"bogus", JobStatusRendering, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []JobStatus{
		JobStatusCompleted, JobStatusRenderFailed, JobStatusScriptFailed,
		JobStatusStoryboardFailed, JobStatusAssetsFailed, JobStatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s), s)
	}

	transient := []JobStatus{
		JobStatusPending, JobStatusScriptGenerated, JobStatusScriptApproved,
		JobStatusStoryboardGenerated, JobStatusAssetsGenerating, JobStatusAssetsGenerated,
		JobStatusRendering,
	}
	for _, s := range transient {
		assert.False(t, IsTerminal(s), s)
	}
	assert.False(t, IsTerminal("bogus"))
}

func TestIsRenderEligible(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
		want   bool
	}{
		{"all present", func(*Job) {}, true},
		{"no images", func(j *Job) { j.ImageURLs = nil }, false},
		{"empty image slice", func(j *Job) { j.ImageURLs = []string{} }, false},
		{"audio unset", func(j *Job) { j.AudioURL = nil }, false},
		{"audio blank", func(j *Job) { j.AudioURL = strPtr("  ") }, false},
		{"captions unset", func(j *Job) { j.CaptionsURL = nil }, false},
		{"status rendering", func(j *Job) { j.Status = JobStatusRendering }, false},
		{"status assets_generating", func(j *Job) { j.Status = JobStatusAssetsGenerating }, false},
		{"status completed", func(j *Job) { j.Status = JobStatusCompleted }, false},
		{"everything wrong", func(j *Job) {
			j.Status = JobStatusPending
			j.ImageURLs = nil
			j.AudioURL = nil
			j.CaptionsURL = nil
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := readyJob()
			tt.mutate(job)
			assert.Equal(t, tt.want, IsRenderEligible(job))
		})
	}
}

func TestFiveImagesWithoutCaptionsIsNotEligible(t *testing.T) {
	job := readyJob()
	job.ImageURLs = []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"}
	job.CaptionsURL = nil

	assert.False(t, IsRenderEligible(job))
	assert.Equal(t, []string{"captions_url not set"}, RenderBlockers(job))
}

func TestRenderBlockersListsEveryReason(t *testing.T) {
	job := &Job{Status: JobStatusAssetsGenerating}
	blockers := RenderBlockers(job)

	require.Len(t, blockers, 4)
	assert.Contains(t, blockers[0], "status is assets_generating")
	assert.Equal(t, "no image urls", blockers[1])
	assert.Equal(t, "audio_url not set", blockers[2])
	assert.Equal(t, "captions_url not set", blockers[3])
}

func TestReconcileAssetStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    JobStatus
		ready     bool
		want      JobStatus
		corrected bool
	}{
		{"generated and ready", JobStatusAssetsGenerated, true, JobStatusAssetsGenerated, false},
		{"generated but missing", JobStatusAssetsGenerated, false, JobStatusAssetsGenerating, true},
		{"generating but ready", JobStatusAssetsGenerating, true, JobStatusAssetsGenerated, true},
		{"storyboard but ready", JobStatusStoryboardGenerated, true, JobStatusAssetsGenerated, true},
		{"generating and missing", JobStatusAssetsGenerating, false, JobStatusAssetsGenerating, false},
		{"rendering untouched", JobStatusRendering, false, JobStatusRendering, false},
		{"completed untouched", JobStatusCompleted, true, JobStatusCompleted, false},
		{"pending untouched", JobStatusPending, true, JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := readyJob()
			job.Status = tt.status
			if !tt.ready {
				job.AudioURL = nil
			}
			got, corrected := ReconcileAssetStatus(job)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.corrected, corrected)
			if corrected {
				assert.True(t, CanTransition(tt.status, got), "correction must be a legal transition")
			}
		})
	}
}

func TestApplyRenderStart(t *testing.T) {
	job := readyJob()
	job.ErrorMessage = strPtr("old failure")
	job.ProgressPercent = 70
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ApplyRenderStart(job, now))

	assert.Equal(t, JobStatusRendering, job.Status)
	assert.Equal(t, ProgressRenderStart, job.ProgressPercent)
	assert.Nil(t, job.ErrorMessage)
	assert.Nil(t, job.FinalVideoURL)
	require.NotNil(t, job.RenderStartedAt)
	assert.Equal(t, now, *job.RenderStartedAt)
}

func TestApplyRenderStartRejectsIneligible(t *testing.T) {
	job := readyJob()
	job.CaptionsURL = nil

	err := ApplyRenderStart(job, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotEligible))
	assert.Contains(t, err.Error(), "captions_url not set")
	assert.Equal(t, JobStatusAssetsGenerated, job.Status)
}

func TestApplyRenderOutcomeSuccess(t *testing.T) {
	job := startedJob(t)
	job.ProgressPercent = 95
	done := time.Date(2026, 10, 17, 12, 5, 0, 0, time.UTC)

	err := ApplyRenderOutcome(job, RenderOutcome{
		Kind:            OutcomeSucceeded,
		FinalVideoURL:   "https://cdn.example.com/final.mp4",
		DurationSeconds: 9.04,
	}, done, 900)
	require.NoError(t, err)

	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.FinalVideoURL)
	assert.Equal(t, "https://cdn.example.com/final.mp4", *job.FinalVideoURL)
	require.NotNil(t, job.TotalDurationSeconds)
	assert.Equal(t, 9, *job.TotalDurationSeconds)
	assert.Equal(t, ProgressComplete, job.ProgressPercent)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, done, *job.RenderDoneAt)
	assert.Nil(t, job.RenderLeaseOwner)
}

func TestApplyRenderOutcomeSuccessRequiresURL(t *testing.T) {
	job := startedJob(t)
	err := ApplyRenderOutcome(job, RenderOutcome{Kind: OutcomeSucceeded, DurationSeconds: 3}, time.Now(), 900)
	require.Error(t, err)
	assert.Equal(t, JobStatusRendering, job.Status)
}

func TestApplyRenderOutcomeFailureKeepsProgress(t *testing.T) {
	job := startedJob(t)
	job.ProgressPercent = 35

	long := strings.Repeat("x", 2000)
	err := ApplyRenderOutcome(job, RenderOutcome{Kind: OutcomeFailed, Message: long}, time.Now(), 900)
	require.NoError(t, err)

	assert.Equal(t, JobStatusRenderFailed, job.Status)
	assert.Equal(t, 35, job.ProgressPercent)
	require.NotNil(t, job.ErrorMessage)
	assert.Len(t, []rune(*job.ErrorMessage), 900)
	assert.True(t, strings.HasSuffix(*job.ErrorMessage, "..."))
	assert.Nil(t, job.FinalVideoURL)
	assert.NotNil(t, job.RenderDoneAt)
}

func TestApplyRenderOutcomeCancelledAndNotStarted(t *testing.T) {
	job := startedJob(t)
	require.NoError(t, ApplyRenderOutcome(job, RenderOutcome{Kind: OutcomeCancelled}, time.Now(), 900))
	assert.Equal(t, JobStatusCancelled, job.Status)
	assert.Equal(t, "cancelled", *job.ErrorMessage)

	job = startedJob(t)
	require.NoError(t, ApplyRenderOutcome(job, RenderOutcome{Kind: OutcomeNotStarted, Message: "scratch dir: permission denied"}, time.Now(), 900))
	assert.Equal(t, JobStatusAssetsGenerated, job.Status)
	assert.True(t, IsRenderEligible(job))
}

func TestApplyRenderOutcomeRequiresRendering(t *testing.T) {
	job := readyJob()
	err := ApplyRenderOutcome(job, RenderOutcome{Kind: OutcomeFailed, Message: "boom"}, time.Now(), 900)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobStatusAssetsGenerated, job.Status)
}

func TestFinalVideoURLOnlyWhenCompleted(t *testing.T) {
	outcomes := []RenderOutcome{
		{Kind: OutcomeSucceeded, FinalVideoURL: "https://x/final.mp4", DurationSeconds: 4},
		{Kind: OutcomeFailed, Message: "boom"},
		{Kind: OutcomeCancelled},
		{Kind: OutcomeNotStarted, Message: "no scratch"},
	}
	for _, o := range outcomes {
		job := startedJob(t)
		require.NoError(t, ApplyRenderOutcome(job, o, time.Now(), 900))
		assert.Equal(t, job.Status == JobStatusCompleted, job.FinalVideoURL != nil, o.Kind)
	}
}

func TestRoundDurationSeconds(t *testing.T) {
	assert.Equal(t, 9, RoundDurationSeconds(9.0))
	assert.Equal(t, 9, RoundDurationSeconds(8.6))
	assert.Equal(t, 10, RoundDurationSeconds(9.5))
	assert.Equal(t, 1, RoundDurationSeconds(0.2))
	assert.Equal(t, 1, RoundDurationSeconds(0))
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", TruncateMessage("short", 900))
	assert.Equal(t, "abcdefg...", TruncateMessage("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateMessage("abcdef", 2))
	assert.Equal(t, "héllo", TruncateMessage("héllo", 5))
	assert.Len(t, []rune(TruncateMessage(strings.Repeat("é", 1000), 0)), DefaultErrorMessageCap)
}

func startedJob(t *testing.T) *Job {
	t.Helper()
	job := readyJob()
	require.NoError(t, ApplyRenderStart(job, time.Now()))
	return job
}
