package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bobarin/storyreel/internal/services"
)

// Stage names one step of the render pipeline.
type Stage string

const (
	StageGate        Stage = "gate"
	StageMaterialize Stage = "materialize"
	StageCaptions    Stage = "captions"
	StageProbe       Stage = "probe_audio"
	StageManifest    Stage = "manifest"
	StageSlideshow   Stage = "slideshow"
	StageComposite   Stage = "composite"
	StageVerify      Stage = "verify_output"
	StageUpload      Stage = "upload"
)

// MissingInputError means an expected local input file is absent after
// materialization. It indicates bad upstream data and is never retried.
type MissingInputError struct {
	Name string
}

func (e *MissingInputError) Error() string {
	return "missing_input:" + e.Name
}

// WorkspaceError means the scratch workspace could not be prepared, so no
// render work happened.
type WorkspaceError struct {
	Dir string
	Err error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("prepare workspace %s: %v", e.Dir, e.Err)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// StageError is a fatal pipeline failure. LogPath points at the diagnostic
// file written for it, when one could be written.
type StageError struct {
	Stage   Stage
	Err     error
	LogPath string
}

func (e *StageError) Error() string {
	if e.LogPath != "" {
		return fmt.Sprintf("render %s failed: %v (diagnostics: %s)", e.Stage, e.Err, e.LogPath)
	}
	return fmt.Sprintf("render %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// UserMessage is the short form persisted on the job. Process output and
// arguments stay in the log file; only its name is referenced.
func (e *StageError) UserMessage() string {
	var msg string

	var missing *MissingInputError
	if errors.As(e.Err, &missing) {
		msg = missing.Error()
	} else if pe, ok := services.AsProcessError(e.Err); ok {
		msg = fmt.Sprintf("%s failed: %s exited: %v", e.Stage, filepath.Base(pe.Binary), pe.Err)
	} else {
		msg = fmt.Sprintf("%s failed: %s", e.Stage, firstLine(e.Err.Error()))
	}

	if e.LogPath != "" {
		msg += " (log " + filepath.Base(e.LogPath) + ")"
	}
	return msg
}

// UserMessage returns the persisted message for any render error.
func UserMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
