package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/render"
)

func setTestEnv(t *testing.T, scratch string) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/storyreel?sslmode=disable")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "renders")
	t.Setenv("RENDER_PROFILE_PATH", "")
	t.Setenv("SCRATCH_ROOT", scratch)
	t.Setenv("LOG_ROOT", "")
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLogsCommand(t *testing.T) {
	scratch := t.TempDir()
	setTestEnv(t, scratch)
	jobID := uuid.New()

	out, err := execute(t, "logs", jobID.String())
	require.NoError(t, err)
	assert.Equal(t, "no render logs\n", out)

	rec := render.NewFailureRecorder(scratch, nil)
	path, err := rec.Record(jobID, render.StageComposite, errors.New("exit status 1"))
	require.NoError(t, err)

	out, err = execute(t, "logs", jobID.String())
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(path)+"\n", out)

	out, err = execute(t, "logs", jobID.String(), filepath.Base(path))
	require.NoError(t, err)
	assert.Contains(t, out, "stage: composite")

	_, err = execute(t, "logs", jobID.String(), "../x.log")
	assert.ErrorIs(t, err, render.ErrInvalidLogName)
}

func TestSweepCommand(t *testing.T) {
	scratch := t.TempDir()
	setTestEnv(t, scratch)

	p := filepath.Join(scratch, uuid.NewString(), "final.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("video"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))

	out, err := execute(t, "sweep", "--ttl", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "workspaces: 1, files removed: 1")
	assert.NoFileExists(t, p)
}

func TestInvalidJobID(t *testing.T) {
	_, err := execute(t, "check", "nope")
	assert.ErrorContains(t, err, "invalid job id")
}

func TestListRejectsUnknownStatus(t *testing.T) {
	_, err := execute(t, "list", "--status", "finished")
	assert.ErrorContains(t, err, `unknown status "finished"`)

	_, err = execute(t, "list", "--limit", "0")
	assert.ErrorContains(t, err, "--limit must be positive")
}

func TestPrintJobTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	owner := "host-a-1234abcd"
	live := now.Add(time.Minute)
	stale := now.Add(-time.Minute)

	jobs := []models.Job{
		{ID: uuid.New(), Status: models.JobStatusRendering, ProgressPercent: 55, RenderLeaseOwner: &owner, RenderLeaseExpiresAt: &live, UpdatedAt: now},
		{ID: uuid.New(), Status: models.JobStatusRendering, ProgressPercent: 25, RenderLeaseOwner: &owner, RenderLeaseExpiresAt: &stale, UpdatedAt: now},
	}

	var out bytes.Buffer
	require.NoError(t, printJobTable(&out, jobs, now))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "JOB"))
	assert.Contains(t, lines[1], jobs[0].ID.String())
	assert.Contains(t, lines[1], "55%")
	assert.NotContains(t, lines[1], "expired")
	assert.Contains(t, lines[2], owner+" (expired)")
	assert.Contains(t, lines[2], "2026-03-01T12:00:00Z")

	out.Reset()
	require.NoError(t, printJobTable(&out, nil, now))
	assert.Equal(t, "no jobs\n", out.String())
}
