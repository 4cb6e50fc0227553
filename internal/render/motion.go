package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/services"
)

// SlideshowMode is the path that produced the silent slideshow.
type SlideshowMode string

const (
	SlideshowMotion SlideshowMode = "motion"
	SlideshowStatic SlideshowMode = "static"
)

// SlideshowStatus tags the slideshow result.
type SlideshowStatus string

const (
	SlideshowSucceeded SlideshowStatus = "success"
	SlideshowDegraded  SlideshowStatus = "degraded"
	SlideshowFailed    SlideshowStatus = "failed"
)

// SlideshowOutcome is the tagged result of the slideshow stage. Degraded means
// motion synthesis failed and the static path was used; Reason says why.
type SlideshowOutcome struct {
	Path   string
	Mode   SlideshowMode
	Status SlideshowStatus
	Reason string
}

// Encoder is the subset of the media toolchain the pipeline uses.
type Encoder interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ConvertSubtitles(ctx context.Context, inputPath, outputPath string) error
	RenderMotionClip(ctx context.Context, imagePath, filter string, seconds float64, outputPath string) error
	ConcatClips(ctx context.Context, listPath, outputPath string) error
	EncodeSlideshow(ctx context.Context, manifestPath string, width, height, fps int, outputPath string) error
	Composite(ctx context.Context, in services.CompositeInput) error
}

// MotionSynthesizer renders one pan/zoom clip per image and joins them.
type MotionSynthesizer struct {
	enc        Encoder
	spec       services.MotionSpec
	minSeconds float64
	logger     *zap.Logger
}

func NewMotionSynthesizer(enc Encoder, spec services.MotionSpec, minSeconds float64, logger *zap.Logger) *MotionSynthesizer {
	logger = logging.OrNop(logger)
	return &MotionSynthesizer{enc: enc, spec: spec, minSeconds: minSeconds, logger: logger}
}

const (
	clipsDirName      = "clips"
	clipsListFileName = "clips.txt"
	motionFileName    = "motion.mp4"
)

// Synthesize writes the motion slideshow into workDir and returns its path.
// On any failure every clip and partial output is removed; the caller falls
// back to the static path.
func (s *MotionSynthesizer) Synthesize(ctx context.Context, images []string, audioSeconds float64, workDir string) (string, error) {
	clipsDir := filepath.Join(workDir, clipsDirName)
	out := filepath.Join(workDir, motionFileName)

	path, err := s.synthesize(ctx, images, audioSeconds, clipsDir, out)
	if err != nil {
		s.discard(clipsDir, out)
		return "", err
	}
	return path, nil
}

func (s *MotionSynthesizer) synthesize(ctx context.Context, images []string, audioSeconds float64, clipsDir, out string) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("no images to animate")
	}

	// Stale clips from an earlier attempt must not leak into this one
	if err := os.RemoveAll(clipsDir); err != nil {
		return "", fmt.Errorf("clear clips dir: %w", err)
	}
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		return "", fmt.Errorf("create clips dir: %w", err)
	}

	seconds := ceilMillis(PerImageSeconds(audioSeconds, len(images), s.minSeconds))

	var list strings.Builder
	for i, img := range images {
		profile := services.ProfileForIndex(i)
		clip := filepath.Join(clipsDir, fmt.Sprintf("clip_%03d.mp4", i+1))
		filter := services.BuildMotionFilter(profile, s.spec, seconds)

		if err := s.enc.RenderMotionClip(ctx, img, filter, seconds, clip); err != nil {
			return "", fmt.Errorf("clip %d (%s): %w", i+1, profile, err)
		}

		abs, err := filepath.Abs(clip)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&list, "file %s\n", quoteConcatPath(filepath.ToSlash(abs)))
	}

	listPath := filepath.Join(clipsDir, clipsListFileName)
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write clip list: %w", err)
	}

	if err := s.enc.ConcatClips(ctx, listPath, out); err != nil {
		return "", err
	}

	s.logger.Info("motion slideshow built",
		zap.Int("clips", len(images)),
		zap.Float64("seconds_per_image", seconds))
	return out, nil
}

func (s *MotionSynthesizer) discard(clipsDir, out string) {
	if err := os.RemoveAll(clipsDir); err != nil {
		s.logger.Warn("failed to remove motion clips", zap.String("dir", clipsDir), zap.Error(err))
	}
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove partial motion output", zap.String("path", out), zap.Error(err))
	}
}
