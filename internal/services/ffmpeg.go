package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
)

// Runner executes an external binary and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs binaries with os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return out.Bytes(), &ProcessError{Binary: name, Args: args, Output: out.String(), Err: err}
	}
	return out.Bytes(), nil
}

// ProcessError is a failed external process invocation. Output holds the
// process diagnostics and is never shown to end users.
type ProcessError struct {
	Binary string
	Args   []string
	Output string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s failed: %v (command: %s)", e.Binary, e.Err, e.Command())
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Command renders the invocation as a single line.
func (e *ProcessError) Command() string {
	return e.Binary + " " + strings.Join(e.Args, " ")
}

// AsProcessError unwraps err to a *ProcessError when it carries one.
func AsProcessError(err error) (*ProcessError, bool) {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

// Output encoding constants for the final composite.
const (
	finalVideoCodec   = "libx264"
	finalVideoProfile = "high"
	finalVideoPreset  = "medium"
	finalVideoCRF     = "20"
	finalAudioCodec   = "aac"
	finalAudioBitrate = "192k"

	// Intermediate slideshow and motion clips favour speed; the composite re-encodes anyway.
	intermediatePreset = "veryfast"
)

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
	logger      *zap.Logger
}

func NewFFmpegService(ffmpegPath, ffprobePath string, runner Runner, logger *zap.Logger) *FFmpegService {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	logger = logging.OrNop(logger)
	return &FFmpegService{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
		logger:      logger,
	}
}

func (s *FFmpegService) ffmpeg(ctx context.Context, op string, args ...string) error {
	s.logger.Debug("running ffmpeg", zap.String("op", op), zap.Strings("args", args))
	if _, err := s.runner.Run(ctx, s.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg %s: %w", op, err)
	}
	return nil
}

// ProbeDuration returns the container duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	output, err := s.runner.Run(ctx, s.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}

	raw := strings.TrimSpace(string(output))
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", raw, path, err)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, fmt.Errorf("invalid duration %q for %s", raw, path)
	}
	return seconds, nil
}

// ConvertSubtitles transcodes a caption file to SubRip.
func (s *FFmpegService) ConvertSubtitles(ctx context.Context, inputPath, outputPath string) error {
	return s.ffmpeg(ctx, "convert subtitles",
		"-i", inputPath,
		"-f", "srt",
		"-y",
		outputPath,
	)
}

// RenderMotionClip renders one silent clip of the given length from a still
// image using a prepared motion filter.
func (s *FFmpegService) RenderMotionClip(ctx context.Context, imagePath, filter string, seconds float64, outputPath string) error {
	return s.ffmpeg(ctx, "render motion clip",
		"-i", imagePath,
		"-vf", filter,
		"-t", formatSeconds(seconds),
		"-c:v", finalVideoCodec,
		"-preset", intermediatePreset,
		"-pix_fmt", "yuv420p",
		"-an",
		"-y",
		outputPath,
	)
}

// ConcatClips joins clips listed in a concat list file without re-encoding.
func (s *FFmpegService) ConcatClips(ctx context.Context, listPath, outputPath string) error {
	return s.ffmpeg(ctx, "concatenate clips",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	)
}

// EncodeSlideshow encodes a concat manifest of still images into a silent
// video letterboxed to width x height.
func (s *FFmpegService) EncodeSlideshow(ctx context.Context, manifestPath string, width, height, fps int, outputPath string) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1,fps=%d,format=yuv420p",
		width, height, width, height, fps,
	)
	return s.ffmpeg(ctx, "encode slideshow",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-vf", vf,
		"-c:v", finalVideoCodec,
		"-preset", intermediatePreset,
		"-an",
		"-y",
		outputPath,
	)
}

// CompositeInput describes the final mux: slideshow video, narration audio
// and a subtitle burn-in filter.
type CompositeInput struct {
	VideoPath      string
	AudioPath      string
	SubtitleFilter string
	OutputPath     string
}

// CompositeArgs returns the ffmpeg arguments for the final encode.
func CompositeArgs(in CompositeInput) []string {
	return []string{
		"-i", in.VideoPath,
		"-i", in.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-vf", in.SubtitleFilter,
		"-c:v", finalVideoCodec,
		"-profile:v", finalVideoProfile,
		"-preset", finalVideoPreset,
		"-crf", finalVideoCRF,
		"-pix_fmt", "yuv420p",
		"-c:a", finalAudioCodec,
		"-b:a", finalAudioBitrate,
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		in.OutputPath,
	}
}

// Composite runs the final encode. It is never retried: the same inputs fail
// the same way.
func (s *FFmpegService) Composite(ctx context.Context, in CompositeInput) error {
	return s.ffmpeg(ctx, "composite", CompositeArgs(in)...)
}

// formatSeconds rounds up to whole milliseconds so an encoded segment is never
// shorter than requested. The small offset absorbs float noise on exact values.
func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(math.Ceil(seconds*1000-1e-6)/1000, 'f', 3, 64)
}
