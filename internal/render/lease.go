package render

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/models"
)

// ErrLeaseLost is the cancel cause of a render whose lease was taken over.
var ErrLeaseLost = errors.New("render lease lost")

// startLeaseHeartbeat extends the render lease every RenewInterval until the
// returned stop func is called. Losing the lease cancels the render with
// ErrLeaseLost so two attempts never write into the same workspace.
func (s *Service) startLeaseHeartbeat(ctx context.Context, cancel context.CancelCauseFunc, logger *zap.Logger, jobID uuid.UUID) func() {
	t := time.NewTicker(s.opts.RenewInterval)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				expires := s.now().Add(s.opts.LeaseTTL)
				err := s.store.RenewRenderLease(ctx, jobID, s.opts.Owner, expires)
				switch {
				case errors.Is(err, models.ErrRenderConflict):
					logger.Error("render lease lost, stopping render", zap.Error(err))
					cancel(ErrLeaseLost)
					return
				case err != nil:
					logger.Warn("failed to renew render lease", zap.Error(err))
				default:
					logger.Debug("render lease renewed", zap.Time("expires_at", expires))
				}
			}
		}
	}()

	return func() {
		t.Stop()
		close(done)
		<-stopped
	}
}
