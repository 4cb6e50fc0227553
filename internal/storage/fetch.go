package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/retry"
)

// Default per-attempt download timeout
const downloadTimeout = 120 * time.Second

// Fetcher downloads remote assets to local files. Every download goes through
// the retry policy and a shared rate limiter.
type Fetcher struct {
	client  *http.Client
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// FetcherOptions tunes a Fetcher. Zero values fall back to defaults.
type FetcherOptions struct {
	Policy     retry.Policy
	RatePerSec float64 // <= 0 disables pacing
	Burst      int
	Timeout    time.Duration
	Client     *http.Client
}

func NewFetcher(opts FetcherOptions, logger *zap.Logger) *Fetcher {
	logger = logging.OrNop(logger)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = downloadTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	policy := opts.Policy
	if policy.Logger == nil {
		policy.Logger = logger
	}

	return &Fetcher{
		client:  client,
		policy:  policy,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Download fetches rawURL into dest. dest is only created once the whole body
// has been received.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string) error {
	label := "download " + filepath.Base(dest)

	return f.policy.Do(ctx, label, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		return f.fetchOnce(ctx, rawURL, dest)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", redactURL(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: unexpected status %s", redactURL(rawURL), resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", redactURL(rawURL), err)
	}
	if n == 0 {
		return fmt.Errorf("GET %s: empty body", redactURL(rawURL))
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	f.logger.Debug("downloaded asset", zap.String("file", filepath.Base(dest)), zap.Int64("bytes", n))
	return nil
}

// redactURL drops the query string, which often carries signed tokens.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
