package render

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline checkpoints. Start (10) and complete (100) belong to the state machine.
const (
	ProgressImages      = 25
	ProgressAudio       = 35
	ProgressCaptions    = 45
	ProgressManifest    = 55
	ProgressSlideshow   = 75
	ProgressEncodeStart = 80
	ProgressEncodeDone  = 95
)

// ProgressStore persists a progress checkpoint.
type ProgressStore interface {
	UpdateRenderProgress(ctx context.Context, id uuid.UUID, percent int) error
}

// Progress reports checkpoints for one render. Reports are best effort and
// never move backwards.
type Progress struct {
	store  ProgressStore
	jobID  uuid.UUID
	last   int
	logger *zap.Logger
}

func newProgress(store ProgressStore, jobID uuid.UUID, start int, logger *zap.Logger) *Progress {
	return &Progress{store: store, jobID: jobID, last: start, logger: logger}
}

// Report persists percent. Failures are logged only.
func (p *Progress) Report(ctx context.Context, percent int) {
	if percent <= p.last {
		return
	}
	p.last = percent

	if p.store == nil {
		return
	}
	if err := p.store.UpdateRenderProgress(ctx, p.jobID, percent); err != nil {
		p.logger.Warn("failed to persist render progress",
			zap.String("job_id", p.jobID.String()),
			zap.Int("percent", percent),
			zap.Error(err))
	}
}
