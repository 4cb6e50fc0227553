package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValues(t *testing.T) {
	statuses := []JobStatus{
		JobStatusPending,
		JobStatusScriptGenerated,
		JobStatusScriptApproved,
		JobStatusStoryboardGenerated,
		JobStatusAssetsGenerating,
		JobStatusAssetsGenerated,
		JobStatusRendering,
		JobStatusCompleted,
		JobStatusScriptFailed,
		JobStatusStoryboardFailed,
		JobStatusAssetsFailed,
		JobStatusRenderFailed,
		JobStatusCancelled,
	}

	seen := map[JobStatus]bool{}
	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
		if seen[status] {
			t.Errorf("duplicate status %q", status)
		}
		seen[status] = true
		assert.True(t, IsKnownStatus(status), "status %q missing from transition table", status)
	}
	assert.False(t, IsKnownStatus("archived"))
}

func TestJobResponseJSON(t *testing.T) {
	job := readyJob()
	job.ProgressPercent = 55

	data, err := json.Marshal(NewJobResponse(job))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "assets_generated", decoded["status"])
	assert.Equal(t, float64(55), decoded["progress_percent"])
	assert.Equal(t, true, decoded["render_eligible"])
	assert.Equal(t, float64(3), decoded["image_count"])
	_, hasBlockers := decoded["render_blockers"]
	assert.False(t, hasBlockers)
	_, hasFinal := decoded["final_video_url"]
	assert.False(t, hasFinal)
}

func TestJobResponseListsBlockers(t *testing.T) {
	job := readyJob()
	job.CaptionsURL = nil

	resp := NewJobResponse(job)
	assert.False(t, resp.RenderEligible)
	assert.Equal(t, []string{"captions_url not set"}, resp.RenderBlockers)
}

func readyJob() *Job {
	return &Job{
		ID:          uuid.New(),
		Status:      JobStatusAssetsGenerated,
		ImageURLs:   []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg", "https://cdn.example.com/c.jpg"},
		AudioURL:    strPtr("https://cdn.example.com/voice.mp3"),
		CaptionsURL: strPtr("https://cdn.example.com/captions.vtt"),
	}
}
