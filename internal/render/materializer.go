package render

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/services"
)

// Fixed local names inside a job workspace.
const (
	audioFileName     = "audio.mp3"
	captionsBaseName  = "captions"
	manifestFileName  = "manifest.txt"
	slideshowFileName = "slideshow.mp4"
	finalFileName     = "final.mp4"
)

// Downloader fetches a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string) error
}

// Assets are the materialized local inputs of one render.
type Assets struct {
	Images        []string
	Audio         string
	Captions      string
	CaptionFormat services.CaptionFormat
}

// Materializer downloads job assets into the workspace under deterministic names.
type Materializer struct {
	downloader  Downloader
	concurrency int
	logger      *zap.Logger
}

func NewMaterializer(downloader Downloader, concurrency int, logger *zap.Logger) *Materializer {
	if concurrency < 1 {
		concurrency = 1
	}
	logger = logging.OrNop(logger)
	return &Materializer{downloader: downloader, concurrency: concurrency, logger: logger}
}

// ImageFileName is the local name of the image at zero-based scene index i.
func ImageFileName(i int, rawURL string) string {
	return fmt.Sprintf("image_%03d%s", i+1, imageExtension(rawURL))
}

func imageExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".png") {
		return ".png"
	}
	return ".jpg"
}

// Images downloads every image, keeping scene order in the returned paths.
func (m *Materializer) Images(ctx context.Context, dir string, urls []string) ([]string, error) {
	paths := make([]string, len(urls))
	for i, u := range urls {
		paths[i] = filepath.Join(dir, ImageFileName(i, u))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			if err := m.downloader.Download(gctx, u, paths[i]); err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.logger.Info("images materialized", zap.Int("count", len(paths)))
	return paths, nil
}

// Audio downloads the narration track.
func (m *Materializer) Audio(ctx context.Context, dir, rawURL string) (string, error) {
	dest := filepath.Join(dir, audioFileName)
	if err := m.downloader.Download(ctx, rawURL, dest); err != nil {
		return "", fmt.Errorf("audio: %w", err)
	}
	return dest, nil
}

// Captions downloads the caption file, named after its source format.
func (m *Materializer) Captions(ctx context.Context, dir, rawURL string) (string, services.CaptionFormat, error) {
	format := services.DetectCaptionFormat(rawURL)
	dest := filepath.Join(dir, captionsBaseName+format.Extension())
	if err := m.downloader.Download(ctx, rawURL, dest); err != nil {
		return "", format, fmt.Errorf("captions: %w", err)
	}
	return dest, format, nil
}

// Verify asserts every materialized file exists and is readable.
func (a *Assets) Verify() error {
	files := append([]string{}, a.Images...)
	files = append(files, a.Audio, a.Captions)
	for _, f := range files {
		if err := checkReadable(f); err != nil {
			return &MissingInputError{Name: filepath.Base(f)}
		}
	}
	return nil
}

func checkReadable(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%s is not a readable file", p)
	}
	return nil
}
