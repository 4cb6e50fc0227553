// Package retry wraps transient external calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxJitter  = 200 * time.Millisecond

	// Cap for a single backoff step regardless of attempt number
	maxDelay = 30 * time.Second
)

// transientMarkers are matched against the error text. Network-level errors from
// net/http do not carry a stable type across platforms, so substring matching is
// the contract here.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"deadline exceeded",
	"unexpected eof",
	"server closed idle connection",
	"tls handshake",
	"no such host",
}

var serverErrorPattern = regexp.MustCompile(`\bstatus (5\d\d|429|408)\b`)

// IsTransient reports whether err looks like a network reset, a timeout, or a
// 5xx-class server response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return serverErrorPattern.MatchString(msg)
}

// Policy describes how an operation is retried. The zero value is usable and
// falls back to the package defaults.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxJitter  time.Duration

	// Retryable classifies errors. Nil means IsTransient.
	Retryable func(error) bool

	Logger *zap.Logger

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned when every attempt failed with a retriable error.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails with a non-retriable error, or the retry
// budget is spent. label identifies the call in logs and errors.
func (p Policy) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	logger := logging.OrNop(p.Logger)
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(p.baseDelay(), attempt, p.MaxJitter)
			logger.Warn("retrying transient failure",
				zap.String("op", label),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s cancelled during backoff: %w", label, err)
			}
		}

		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%s: %w", label, errors.Join(err, lastErr))
			}
			return fmt.Errorf("%s: %w", label, err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// An attempt cut short by cancellation reports both causes
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", label, errors.Join(ctxErr, err))
		}
		if !retryable(err) {
			return err
		}
	}

	return &ExhaustedError{Label: label, Attempts: maxRetries + 1, Err: lastErr}
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

// Backoff returns base * 2^(attempt-1) plus a random jitter in [0, maxJitter).
func Backoff(base time.Duration, attempt int, maxJitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	d := time.Duration(delay)
	if maxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(maxJitter)))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
