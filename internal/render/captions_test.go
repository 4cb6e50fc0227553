package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/storyreel/internal/services"
)

func TestNormalizeCaptions(t *testing.T) {
	tests := []struct {
		name      string
		format    services.CaptionFormat
		source    string
		convertTo string
		wantConv  bool
		wantErr   bool
	}{
		{name: "subrip passes through", format: services.CaptionSubRip, source: validSRT},
		{name: "webvtt is converted", format: services.CaptionWebVTT, source: validVTT, convertTo: validSRT, wantConv: true},
		{name: "invalid subrip", format: services.CaptionSubRip, source: "not captions", wantErr: true},
		{name: "conversion yields no cues", format: services.CaptionWebVTT, source: validVTT, convertTo: "\n", wantConv: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, captionsBaseName+tt.format.Extension())
			require.NoError(t, os.WriteFile(src, []byte(tt.source), 0o644))

			runner := newFakeRunner()
			runner.convertTo = tt.convertTo
			enc := services.NewFFmpegService("ffmpeg", "ffprobe", runner, nil)

			out, err := NormalizeCaptions(context.Background(), enc, src, tt.format, dir)
			assert.Equal(t, tt.wantConv, len(runner.calls) == 1)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, subRipFileName), out)
		})
	}
}

func TestNormalizeCaptionsConversionFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "captions.vtt")
	require.NoError(t, os.WriteFile(src, []byte(validVTT), 0o644))

	runner := newFakeRunner()
	runner.failWhen = func([]string) error { return errors.New("exit status 1") }
	enc := services.NewFFmpegService("ffmpeg", "ffprobe", runner, nil)

	_, err := NormalizeCaptions(context.Background(), enc, src, services.CaptionWebVTT, dir)
	_, ok := services.AsProcessError(err)
	assert.True(t, ok)
}
