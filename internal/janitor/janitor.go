// Package janitor reclaims scratch space left behind by finished renders.
package janitor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
)

// DefaultKeep preserves diagnostic logs, which share the job directory with
// the workspace when no separate log root is configured.
var DefaultKeep = []string{"**/*.log"}

type Options struct {
	Root string
	TTL  time.Duration

	// Keep lists doublestar patterns, relative to a job directory, that are
	// never deleted.
	Keep []string

	// Busy reports job directories that must not be touched.
	Busy func(name string) bool
}

// Stats summarizes one sweep.
type Stats struct {
	Workspaces   int
	FilesRemoved int
	DirsRemoved  int
	BytesFreed   int64
}

type Janitor struct {
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) (*Janitor, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("janitor root is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("janitor ttl must be positive")
	}
	if opts.Keep == nil {
		opts.Keep = DefaultKeep
	}
	for _, p := range opts.Keep {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid keep pattern %q", p)
		}
	}
	logger = logging.OrNop(logger)
	return &Janitor{opts: opts, now: time.Now, logger: logger}, nil
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("scratch sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep cleans every job directory under the root whose newest file is older
// than the TTL. Kept files and the directories holding them survive.
func (j *Janitor) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats

	entries, err := os.ReadDir(j.opts.Root)
	if os.IsNotExist(err) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("read scratch root: %w", err)
	}

	cutoff := j.now().Add(-j.opts.TTL)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !e.IsDir() {
			continue
		}
		if j.opts.Busy != nil && j.opts.Busy(e.Name()) {
			continue
		}

		dir := filepath.Join(j.opts.Root, e.Name())
		newest, err := newestModTime(dir)
		if err != nil {
			j.logger.Warn("skipping unreadable workspace", zap.String("path", dir), zap.Error(err))
			continue
		}
		if newest.After(cutoff) {
			continue
		}

		if err := j.clean(dir, &stats); err != nil {
			j.logger.Warn("workspace cleanup incomplete", zap.String("path", dir), zap.Error(err))
			continue
		}
		stats.Workspaces++
	}

	if stats.Workspaces > 0 {
		j.logger.Info("scratch sweep finished",
			zap.Int("workspaces", stats.Workspaces),
			zap.Int("files_removed", stats.FilesRemoved),
			zap.Int("dirs_removed", stats.DirsRemoved),
			zap.Int64("bytes_freed", stats.BytesFreed))
	}
	return stats, nil
}

func (j *Janitor) clean(dir string, stats *Stats) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if j.keep(filepath.ToSlash(rel)) {
			return nil
		}

		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		stats.FilesRemoved++
		stats.BytesFreed += size
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest first; non-empty directories hold kept files
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if empty, _ := isEmptyDir(d); empty {
			if err := os.Remove(d); err == nil {
				stats.DirsRemoved++
			}
		}
	}
	return nil
}

func (j *Janitor) keep(rel string) bool {
	for _, p := range j.opts.Keep {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if newest.IsZero() && err == nil {
		info, statErr := os.Stat(dir)
		if statErr != nil {
			return newest, statErr
		}
		newest = info.ModTime()
	}
	return newest, err
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
