package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
	"github.com/bobarin/storyreel/internal/services"
)

const logExtension = ".log"

var (
	ErrInvalidLogName = errors.New("invalid log name")
	ErrLogNotFound    = errors.New("log not found")
)

// FailureRecorder writes render diagnostics under <root>/<job id>/.
type FailureRecorder struct {
	root   string
	now    func() time.Time
	logger *zap.Logger
}

func NewFailureRecorder(root string, logger *zap.Logger) *FailureRecorder {
	logger = logging.OrNop(logger)
	return &FailureRecorder{root: root, now: time.Now, logger: logger}
}

// Dir is the log directory of a job.
func (r *FailureRecorder) Dir(jobID uuid.UUID) string {
	return filepath.Join(r.root, jobID.String())
}

// Record writes the full diagnostics of a fatal render error and returns the
// log path.
func (r *FailureRecorder) Record(jobID uuid.UUID, stage Stage, cause error) (string, error) {
	dir := r.Dir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	now := r.now().UTC()
	name := "render-" + now.Format("20060102T150405.000Z") + logExtension
	path := filepath.Join(dir, name)

	var sb strings.Builder
	fmt.Fprintf(&sb, "job: %s\n", jobID)
	fmt.Fprintf(&sb, "stage: %s\n", stage)
	fmt.Fprintf(&sb, "time: %s\n", now.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, "error: %v\n", cause)

	var missing *MissingInputError
	if errors.As(cause, &missing) {
		fmt.Fprintf(&sb, "missing_input: %s\n", missing.Name)
	}
	if pe, ok := services.AsProcessError(cause); ok {
		fmt.Fprintf(&sb, "command: %s\n", pe.Command())
		sb.WriteString("\n--- process output ---\n")
		sb.WriteString(pe.Output)
		if !strings.HasSuffix(pe.Output, "\n") {
			sb.WriteString("\n")
		}
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("write failure log: %w", err)
	}

	r.logger.Info("render diagnostics written",
		zap.String("job_id", jobID.String()),
		zap.String("stage", string(stage)),
		zap.String("path", path))
	return path, nil
}

// ValidateLogName rejects anything that is not a bare *.log file name.
func ValidateLogName(name string) error {
	switch {
	case name == "",
		strings.ContainsAny(name, `/\`),
		strings.Contains(name, ".."),
		strings.ContainsRune(name, 0),
		!strings.HasSuffix(name, logExtension),
		name == logExtension:
		return fmt.Errorf("%w: %q", ErrInvalidLogName, name)
	}
	return nil
}

// List returns the log file names of a job, oldest first.
func (r *FailureRecorder) List(jobID uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(r.Dir(jobID))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && ValidateLogName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns one log file of a job.
func (r *FailureRecorder) Read(jobID uuid.UUID, name string) ([]byte, error) {
	if err := ValidateLogName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(r.Dir(jobID), name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return data, nil
}
