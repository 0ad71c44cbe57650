// Package output persists the results of generation cycles.
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vignette/internal/state"
)

const (
	// StampLayout is the timestamp used in artifact file names.
	StampLayout = "2006-01-02_15-04-05"

	summaryRule = "=================================================="
)

// Cycle is everything a successful generation cycle persists.
type Cycle struct {
	ID      string
	Trigger string
	// StartedAt is when the cycle read its inputs. The marker records it so
	// inputs written while the cycle ran still count as changes afterwards.
	StartedAt time.Time
	Vignette  string
	Summary   string
	Themes    string
	GameState *state.GameState
	Crew      *state.Crew
}

// Artifacts lists what a commit wrote.
type Artifacts struct {
	VignettePath string
	SummaryPath  string
	Marker       state.Marker
}

type Writer struct {
	OutputDir     string
	SummariesDir  string
	GameStatePath string
	CrewPath      string
	MarkerPath    string
	Model         string
	Logger        *slog.Logger
	Now           func() time.Time

	writeFile func(path string, data []byte, perm os.FileMode) error
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Writer) write(path string, data []byte) error {
	if w.writeFile != nil {
		return w.writeFile(path, data, 0o644)
	}
	return state.WriteFileAtomic(path, data, 0o644)
}

// Commit writes a cycle all-or-nothing: the vignette and summary files,
// then the game state with the new interlude, then the crew record, then
// the execution marker. If any step fails, files created by this commit
// are removed, the game state and crew record are restored and the marker
// is left untouched.
func (w *Writer) Commit(c Cycle) (art Artifacts, err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := w.now()
	stamp := now.Format(StampLayout)

	prev, merr := state.ReadMarker(w.MarkerPath)
	if merr != nil && !errors.Is(merr, state.ErrNoMarker) && !errors.Is(merr, state.ErrCorruptMarker) {
		return Artifacts{}, fmt.Errorf("output: %w", merr)
	}

	rb := &rollback{}
	defer func() {
		if err != nil {
			if rerr := rb.run(); rerr != nil {
				w.logger().Error("rollback incomplete", "cycle", c.ID, "error", rerr)
			}
			w.logger().Error("cycle commit failed, outputs rolled back", "cycle", c.ID, "error", err)
		}
	}()

	if err := rb.snapshot(w.GameStatePath); err != nil {
		return Artifacts{}, err
	}
	if err := rb.snapshot(w.CrewPath); err != nil {
		return Artifacts{}, err
	}

	art.VignettePath, err = createExclusive(w.OutputDir, "vignette_"+stamp, ".md", []byte(w.renderVignette(c, now, stamp)))
	if err != nil {
		return Artifacts{}, err
	}
	rb.created = append(rb.created, art.VignettePath)

	art.SummaryPath, err = createExclusive(w.SummariesDir, "narrative_"+stamp+"_summary", ".txt", []byte(renderSummary("Narrative Summary", stamp, c.Summary)))
	if err != nil {
		return Artifacts{}, err
	}
	rb.created = append(rb.created, art.SummaryPath)

	gs := c.GameState.Clone()
	if err = gs.PushInterlude(c.Summary); err != nil {
		return Artifacts{}, fmt.Errorf("output: %w", err)
	}
	if err = w.write(w.GameStatePath, gs.Bytes()); err != nil {
		return Artifacts{}, fmt.Errorf("output: write game state: %w", err)
	}
	if err = w.write(w.CrewPath, c.Crew.Bytes()); err != nil {
		return Artifacts{}, fmt.Errorf("output: write crew details: %w", err)
	}

	readAt := c.StartedAt
	if readAt.IsZero() {
		readAt = now
	}
	art.Marker = prev.Next(readAt, c.ID)
	if err = writeMarker(w, art.Marker); err != nil {
		return Artifacts{}, fmt.Errorf("output: write marker: %w", err)
	}

	w.logger().Info("cycle committed",
		"cycle", c.ID,
		"vignette", filepath.Base(art.VignettePath),
		"summary", filepath.Base(art.SummaryPath),
		"marker_version", art.Marker.Version,
	)
	return art, nil
}

func writeMarker(w *Writer, m state.Marker) error {
	if w.writeFile == nil {
		return state.WriteMarker(w.MarkerPath, m)
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	return w.writeFile(w.MarkerPath, data, 0o644)
}

func (w *Writer) renderVignette(c Cycle, now time.Time, stamp string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Story Vignette - %s\n\n", stamp)
	sb.WriteString("## Metadata\n\n")
	writeMeta(&sb, "Theme", themeLine(c.Themes))
	writeMeta(&sb, "Generated", now.Format(time.RFC3339))
	writeMeta(&sb, "Party Members", strings.Join(c.GameState.ActiveMembers(), ", "))
	writeMeta(&sb, "LLM Model", w.Model)
	writeMeta(&sb, "Cycle", c.ID)
	if c.Trigger != "" {
		writeMeta(&sb, "Trigger", c.Trigger)
	}
	sb.WriteString("\n## Vignette\n\n")
	sb.WriteString(c.Vignette)
	sb.WriteString("\n")
	return sb.String()
}

func writeMeta(sb *strings.Builder, key, value string) {
	fmt.Fprintf(sb, "- **%s:** %s\n", key, value)
}

// themeLine flattens the numbered theme options into one metadata line.
func themeLine(themes string) string {
	var parts []string
	for _, l := range strings.Split(themes, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || l == "Theme Options:" {
			continue
		}
		parts = append(parts, l)
	}
	return strings.Join(parts, "; ")
}

func renderSummary(title, stamp, body string) string {
	return fmt.Sprintf("%s - %s\n%s\n\n%s\n", title, stamp, summaryRule, body)
}

// createExclusive writes data to dir/base+ext, adding _2, _3... to base
// until the name is unused. Existing files are never overwritten.
func createExclusive(dir, base, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: create %s: %w", dir, err)
	}
	for n := 1; n < 1000; n++ {
		name := base + ext
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("output: create %s: %w", path, err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(path)
			return "", fmt.Errorf("output: write %s: %w", path, errors.Join(werr, cerr))
		}
		return path, nil
	}
	return "", fmt.Errorf("output: no free name for %s%s in %s", base, ext, dir)
}

// rollback restores files touched by a failed commit.
type rollback struct {
	created []string
	saved   []savedFile
}

type savedFile struct {
	path    string
	data    []byte
	existed bool
}

func (r *rollback) snapshot(path string) error {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		r.saved = append(r.saved, savedFile{path: path, data: data, existed: true})
	case errors.Is(err, fs.ErrNotExist):
		r.saved = append(r.saved, savedFile{path: path})
	default:
		return fmt.Errorf("output: read %s: %w", path, err)
	}
	return nil
}

func (r *rollback) run() error {
	var errs []error
	for _, p := range r.created {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for _, s := range r.saved {
		if !s.existed {
			if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if err := state.WriteFileAtomic(s.path, s.data, 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
