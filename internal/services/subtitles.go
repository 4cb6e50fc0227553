package services

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// CaptionFormat is the source caption format, taken from the caption URL.
type CaptionFormat string

const (
	CaptionWebVTT CaptionFormat = "webvtt"
	CaptionSubRip CaptionFormat = "subrip"
)

// Extension is the local file extension for the format.
func (f CaptionFormat) Extension() string {
	if f == CaptionSubRip {
		return ".srt"
	}
	return ".vtt"
}

// DetectCaptionFormat infers the format from the URL path extension. Anything
// other than .srt is treated as WebVTT, which is what the caption stage emits.
func DetectCaptionFormat(rawURL string) CaptionFormat {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".srt") {
		return CaptionSubRip
	}
	return CaptionWebVTT
}

// BurnInStyle is the libass force_style used for every render: white text with
// a dark outline, a fully transparent box, bottom-center with safe margins and
// smart wrapping. Colours are &HAABBGGRR.
const BurnInStyle = "FontName=Noto Sans,FontSize=16,Bold=1," +
	"PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,BackColour=&HFF000000," +
	"BorderStyle=1,Outline=2,Shadow=0," +
	"Alignment=2,MarginL=40,MarginR=40,MarginV=80,WrapStyle=0"

// EscapeFilterPath prepares a file path for use as a filter option value.
// ffmpeg unescapes filter arguments twice: once when splitting the graph on
// "[],;" and again when splitting options on ':'. The path is quoted for the
// option level and that quoted form is then escaped for the graph level.
func EscapeFilterPath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.ReplaceAll(p, `\`, "/")
	return escapeFilterGraph(quoteFilterOption(p))
}

// quoteFilterOption single-quotes v. An embedded quote closes the quoted run,
// is escaped, and reopens it.
func quoteFilterOption(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

const filterGraphSpecial = `\'[],;`

func escapeFilterGraph(v string) string {
	var b strings.Builder
	for _, r := range v {
		if strings.ContainsRune(filterGraphSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SubtitleFilter is the burn-in video filter for a SubRip file.
func SubtitleFilter(srtPath string) string {
	return fmt.Sprintf("subtitles=filename=%s:force_style='%s'", EscapeFilterPath(srtPath), BurnInStyle)
}

var subRipTiming = regexp.MustCompile(`^\d{2,}:\d{2}:\d{2},\d{3} --> \d{2,}:\d{2}:\d{2},\d{3}`)

// ValidateSubRip checks that data is a non-empty sequence of SubRip cues.
func ValidateSubRip(data []byte) error {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	cues := 0
	for i, block := range strings.Split(text, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		timing := lines[0]
		if !subRipTiming.MatchString(timing) && len(lines) > 1 {
			timing = lines[1]
		}
		if !subRipTiming.MatchString(strings.TrimSpace(timing)) {
			return fmt.Errorf("subrip block %d has no timing line", i+1)
		}
		cues++
	}
	if cues == 0 {
		return fmt.Errorf("subrip file has no cues")
	}
	return nil
}
