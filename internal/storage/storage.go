package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/retry"
)

const (
	// Upload timeout per attempt; final videos run to tens of MB
	uploadTimeout = 180 * time.Second

	// Upload retry budget, independent of the asset fetch budget
	uploadMaxRetries = 4
	uploadBaseDelay  = 1 * time.Second
)

// Uploader publishes a finished artifact and returns its public URL.
type Uploader interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) (string, error)
}

// ObjectKey is the storage key for a job artifact.
func ObjectKey(jobID uuid.UUID, filename string) string {
	return path.Join("renders", jobID.String(), filename)
}

// Supabase uploads to a Supabase Storage bucket.
type Supabase struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

var _ Uploader = (*Supabase)(nil)

func NewSupabase(url, serviceKey, bucket string, logger *zap.Logger) *Supabase {
	logger = logging.OrNop(logger)
	return &Supabase{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: retry.Policy{
			MaxRetries: uploadMaxRetries,
			BaseDelay:  uploadBaseDelay,
			MaxJitter:  retry.DefaultMaxJitter,
			Logger:     logger,
		},
		logger: logger,
	}
}

// Upload PUTs data with x-upsert so a re-render overwrites the previous artifact.
func (s *Supabase) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)

	return s.policy.Do(ctx, "upload "+key, func(ctx context.Context) error {
		// Each attempt gets its own timeout, bounded by the caller's ctx
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	})
}

// UploadFile uploads a local file and returns its public URL.
func (s *Supabase) UploadFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	if err := s.Upload(ctx, key, data, contentType); err != nil {
		return "", err
	}

	s.logger.Info("uploaded artifact",
		zap.String("backend", "supabase"),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return s.GetPublicURL(key), nil
}

// GetPublicURL returns the public URL for a file
func (s *Supabase) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, key)
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
