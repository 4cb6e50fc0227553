package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/models"
)

const jobColumns = `
	id, status, image_urls, audio_url, captions_url,
	final_video_url, total_duration_seconds, progress_percent, error_message,
	render_started_at, render_done_at, render_lease_owner, render_lease_expires_at,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var (
		status        string
		totalDuration sql.NullInt64
	)
	err := row.Scan(
		&job.ID, &status, pq.Array(&job.ImageURLs), &job.AudioURL, &job.CaptionsURL,
		&job.FinalVideoURL, &totalDuration, &job.ProgressPercent, &job.ErrorMessage,
		&job.RenderStartedAt, &job.RenderDoneAt, &job.RenderLeaseOwner, &job.RenderLeaseExpiresAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if totalDuration.Valid {
		d := int(totalDuration.Int64)
		job.TotalDurationSeconds = &d
	}
	return job, nil
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobsByStatus returns the most recently updated jobs in status.
func (db *DB) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`

	rows, err := db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CorrectJobStatus rewrites a drifted status. It only applies while the row
// still holds from.
func (db *DB) CorrectJobStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) error {
	query := `UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`

	res, err := db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to correct job status: %w", err)
	}
	return expectOneRow(res, id, from)
}

// StartRender persists the rendering transition and takes the render lease.
// It fails with ErrRenderConflict when another attempt got there first.
func (db *DB) StartRender(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET status = $1, render_started_at = $2, render_done_at = NULL,
			error_message = NULL, final_video_url = NULL, total_duration_seconds = NULL,
			progress_percent = $3, render_lease_owner = $4, render_lease_expires_at = $5,
			updated_at = now()
		WHERE id = $6 AND status = $7
	`

	res, err := db.ExecContext(ctx, query,
		string(models.JobStatusRendering), job.RenderStartedAt, job.ProgressPercent,
		job.RenderLeaseOwner, job.RenderLeaseExpiresAt,
		job.ID, string(models.JobStatusAssetsGenerated),
	)
	if err != nil {
		return fmt.Errorf("failed to start render: %w", err)
	}
	return expectOneRow(res, job.ID, models.JobStatusAssetsGenerated)
}

// UpdateRenderProgress records a checkpoint. Progress never moves backwards.
// A missing column is logged and ignored so schema drift cannot block a render.
func (db *DB) UpdateRenderProgress(ctx context.Context, id uuid.UUID, percent int) error {
	query := `
		UPDATE jobs
		SET progress_percent = GREATEST(progress_percent, $1), updated_at = now()
		WHERE id = $2 AND status = $3
	`

	_, err := db.ExecContext(ctx, query, percent, id, string(models.JobStatusRendering))
	if isUndefinedColumn(err) {
		db.logger.Warn("progress column missing, skipping update",
			zap.String("job_id", id.String()),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update render progress: %w", err)
	}
	return nil
}

// RenewRenderLease extends the lease owner holds. It fails with
// ErrRenderConflict once the lease has been released or taken over.
func (db *DB) RenewRenderLease(ctx context.Context, id uuid.UUID, owner string, expiresAt time.Time) error {
	query := `
		UPDATE jobs
		SET render_lease_expires_at = $1, updated_at = now()
		WHERE id = $2 AND status = $3 AND render_lease_owner = $4
	`

	res, err := db.ExecContext(ctx, query, expiresAt, id, string(models.JobStatusRendering), owner)
	if err != nil {
		return fmt.Errorf("failed to renew render lease: %w", err)
	}
	return expectOneRow(res, id, models.JobStatusRendering)
}

// SaveRenderOutcome persists the fields ApplyRenderOutcome set. It applies
// only while the job is still rendering under leaseOwner.
func (db *DB) SaveRenderOutcome(ctx context.Context, job *models.Job, leaseOwner string) error {
	query := `
		UPDATE jobs
		SET status = $1, final_video_url = $2, total_duration_seconds = $3,
			progress_percent = GREATEST(progress_percent, $4), error_message = $5, render_done_at = $6,
			render_lease_owner = NULL, render_lease_expires_at = NULL,
			updated_at = now()
		WHERE id = $7 AND status = $8 AND render_lease_owner IS NOT DISTINCT FROM $9
	`

	var owner interface{}
	if leaseOwner != "" {
		owner = leaseOwner
	}

	res, err := db.ExecContext(ctx, query,
		string(job.Status), job.FinalVideoURL, job.TotalDurationSeconds,
		job.ProgressPercent, job.ErrorMessage, job.RenderDoneAt,
		job.ID, string(models.JobStatusRendering), owner,
	)
	if err != nil {
		return fmt.Errorf("failed to save render outcome: %w", err)
	}
	return expectOneRow(res, job.ID, models.JobStatusRendering)
}

func expectOneRow(res sql.Result, id uuid.UUID, status models.JobStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", models.ErrRenderConflict, id, status)
	}
	return nil
}
