package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobarin/storyreel/internal/services"
)

const subRipFileName = "captions.srt"

// NormalizeCaptions returns a SubRip file for burn-in. SubRip input is
// returned as is; WebVTT is converted by the encoder.
func NormalizeCaptions(ctx context.Context, enc Encoder, src string, format services.CaptionFormat, workDir string) (string, error) {
	out := src
	if format != services.CaptionSubRip {
		out = filepath.Join(workDir, subRipFileName)
		if err := enc.ConvertSubtitles(ctx, src, out); err != nil {
			return "", err
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return "", &MissingInputError{Name: filepath.Base(out)}
	}
	if err := services.ValidateSubRip(data); err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(out), err)
	}
	return out, nil
}
