// Package trigger decides when a generation cycle is due.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/vignette/internal/state"
)

// Decision reasons.
const (
	ReasonFirstRun      = "first run"
	ReasonCorruptMarker = "unreadable marker"
	ReasonInputChanged  = "input changed"
	ReasonNotElapsed    = "interval not elapsed"
	ReasonNoChanges     = "no input changes"
)

type Decision struct {
	Fire   bool
	Reason string
	// Last is the previous successful run, zero when none is recorded.
	Last time.Time
	// Remaining is the time left until the interval elapses.
	Remaining   time.Duration
	ChangedFile string
}

// Evaluator fires when the interval since the last successful cycle has
// elapsed and some watched file changed after that cycle. Without a
// readable marker it always fires.
type Evaluator struct {
	MarkerPath string
	InputDir   string
	Interval   time.Duration
	// Exclude lists files under InputDir written by the generator itself.
	Exclude []string
	Logger  *slog.Logger
}

func (e *Evaluator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Evaluate inspects the marker and the input tree. It never writes.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) (Decision, error) {
	m, err := state.ReadMarker(e.MarkerPath)
	switch {
	case errors.Is(err, state.ErrNoMarker):
		return Decision{Fire: true, Reason: ReasonFirstRun}, nil
	case errors.Is(err, state.ErrCorruptMarker):
		e.logger().Warn("execution marker unreadable, treating as never generated", "path", e.MarkerPath, "error", err)
		return Decision{Fire: true, Reason: ReasonCorruptMarker}, nil
	case err != nil:
		return Decision{}, err
	}

	d := Decision{Last: m.LastExecution}
	elapsed := now.Sub(m.LastExecution)
	if elapsed < e.Interval {
		d.Reason = ReasonNotElapsed
		d.Remaining = e.Interval - elapsed
		return d, nil
	}

	changed, err := e.newestChange(ctx, m.LastExecution)
	if err != nil {
		return Decision{}, err
	}
	if changed == "" {
		d.Reason = ReasonNoChanges
		return d, nil
	}
	d.Fire = true
	d.Reason = ReasonInputChanged
	d.ChangedFile = changed
	return d, nil
}

// newestChange returns the first watched file modified after since.
func (e *Evaluator) newestChange(ctx context.Context, since time.Time) (string, error) {
	excluded := make(map[string]bool, len(e.Exclude))
	for _, p := range e.Exclude {
		excluded[filepath.Clean(p)] = true
	}

	var found string
	errFound := errors.New("found")
	err := filepath.WalkDir(e.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != e.InputDir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignored(name) || excluded[filepath.Clean(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(since) {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("trigger: scan %s: %w", e.InputDir, err)
	}
	return found, nil
}

func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, "~")
}
