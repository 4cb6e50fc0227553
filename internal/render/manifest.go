package render

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMinSecondsPerImage keeps slides from flashing by when there are many
// images and little narration.
const DefaultMinSecondsPerImage = 1.6

// PerImageSeconds is the single display time applied to every image:
// max(minSeconds, audioSeconds / imageCount).
func PerImageSeconds(audioSeconds float64, imageCount int, minSeconds float64) float64 {
	if imageCount <= 0 {
		return minSeconds
	}
	return math.Max(minSeconds, audioSeconds/float64(imageCount))
}

// ManifestEntry is one image and how long it is shown. The last image is
// repeated once with no duration.
type ManifestEntry struct {
	Path    string
	Seconds float64
}

// Manifest is a concat demuxer input for a still-image slideshow.
type Manifest struct {
	Entries         []ManifestEntry
	PerImageSeconds float64
}

// BuildManifest allocates display time to images for a narration of
// audioSeconds. Paths are made absolute with forward slashes.
func BuildManifest(imagePaths []string, audioSeconds, minSeconds float64) (*Manifest, error) {
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("manifest needs at least one image")
	}
	if audioSeconds <= 0 || math.IsNaN(audioSeconds) || math.IsInf(audioSeconds, 0) {
		return nil, fmt.Errorf("invalid audio duration %v", audioSeconds)
	}

	per := ceilMillis(PerImageSeconds(audioSeconds, len(imagePaths), minSeconds))

	m := &Manifest{PerImageSeconds: per}
	for _, p := range imagePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		m.Entries = append(m.Entries, ManifestEntry{Path: filepath.ToSlash(abs), Seconds: per})
	}
	return m, nil
}

// TotalSeconds is the scheduled slideshow length.
func (m *Manifest) TotalSeconds() float64 {
	var total float64
	for _, e := range m.Entries {
		total += e.Seconds
	}
	return total
}

// Render formats the manifest. The final image is listed a second time
// without a duration; the demuxer ignores the duration of the last entry
// otherwise.
func (m *Manifest) Render() string {
	var sb strings.Builder
	for _, e := range m.Entries {
		fmt.Fprintf(&sb, "file %s\n", quoteConcatPath(e.Path))
		fmt.Fprintf(&sb, "duration %s\n", strconv.FormatFloat(e.Seconds, 'f', 3, 64))
	}
	if n := len(m.Entries); n > 0 {
		fmt.Fprintf(&sb, "file %s\n", quoteConcatPath(m.Entries[n-1].Path))
	}
	return sb.String()
}

// Write saves the manifest with LF line endings.
func (m *Manifest) Write(path string) error {
	if err := os.WriteFile(path, []byte(m.Render()), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// quoteConcatPath single-quotes a path for the concat demuxer.
func quoteConcatPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

// ceilMillis rounds up to whole milliseconds so the written durations never
// add up to less than the narration.
func ceilMillis(s float64) float64 {
	return math.Ceil(s*1000) / 1000
}
