package output

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const archiveDir = "archive"

// Sweeper moves artifacts older than the retention period into an archive
// subfolder, grouped by month. Nothing is deleted.
type Sweeper struct {
	Dirs      []SweepDir
	Retention time.Duration
	Logger    *slog.Logger
}

type SweepDir struct {
	Path    string
	Pattern string
}

// Sweep archives eligible files and returns how many were moved. A zero
// retention disables sweeping.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	if s.Retention <= 0 {
		return 0, nil
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	cutoff := now.Add(-s.Retention)
	moved := 0
	var errs []error
	for _, d := range s.Dirs {
		matches, err := filepath.Glob(filepath.Join(d.Path, d.Pattern))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					errs = append(errs, err)
				}
				continue
			}
			if !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
				continue
			}
			dst := filepath.Join(d.Path, archiveDir, info.ModTime().Format("2006-01"))
			if err := os.MkdirAll(dst, 0o755); err != nil {
				errs = append(errs, err)
				continue
			}
			target := filepath.Join(dst, filepath.Base(m))
			if _, err := os.Stat(target); err == nil {
				errs = append(errs, fmt.Errorf("output: archive target %s exists", target))
				continue
			}
			if err := os.Rename(m, target); err != nil {
				errs = append(errs, err)
				continue
			}
			moved++
		}
	}
	if moved > 0 {
		log.Info("archived old artifacts", "count", moved, "older_than", cutoff.Format(time.RFC3339))
	}
	return moved, errors.Join(errs...)
}
