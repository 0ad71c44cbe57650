package output

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/vignette/internal/state"
)

var fixedNow = time.Date(2025, 4, 5, 18, 30, 0, 0, time.UTC)

const origState = `{"party_context":{"active_members":["Eder","Pallegina"]},"narrative_log":{"previous_interludes":["a","b","c"]}}`
const origCrew = `{"Vatnir":{"mood":"grim"}}`

func newWriter(t *testing.T) *Writer {
	t.Helper()
	root := t.TempDir()
	w := &Writer{
		OutputDir:     filepath.Join(root, "Output", "Vignettes"),
		SummariesDir:  filepath.Join(root, "processing", "narrative_summaries"),
		GameStatePath: filepath.Join(root, "Input", "gameState.json"),
		CrewPath:      filepath.Join(root, "Input", "crew_details.json"),
		MarkerPath:    filepath.Join(root, "Config", "last_execution.json"),
		Model:         "gpt-test",
		Now:           func() time.Time { return fixedNow },
	}
	for path, body := range map[string]string{w.GameStatePath: origState, w.CrewPath: origCrew} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return w
}

func testCycle(t *testing.T) Cycle {
	t.Helper()
	gs, err := state.ParseGameState([]byte(origState))
	if err != nil {
		t.Fatal(err)
	}
	crew, err := state.ParseCrew([]byte(`{"Vatnir":{"mood":"hopeful"}}`))
	if err != nil {
		t.Fatal(err)
	}
	return Cycle{
		ID:        "cycle-1",
		Trigger:   "timer",
		Vignette:  "The gulls cried over Neketaka.",
		Summary:   "Party@Neketaka; gulls.",
		Themes:    "Theme Options:\n1. [Rest] Harbor: calm\n2. [Intrigue] Letter: sealed",
		GameState: gs,
		Crew:      crew,
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCommitWritesEverything(t *testing.T) {
	w := newWriter(t)

	art, err := w.Commit(testCycle(t))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if filepath.Base(art.VignettePath) != "vignette_2025-04-05_18-30-00.md" {
		t.Errorf("vignette path = %s", art.VignettePath)
	}
	v := readFile(t, art.VignettePath)
	for _, want := range []string{
		"# Story Vignette - 2025-04-05_18-30-00",
		"- **Theme:** 1. [Rest] Harbor: calm; 2. [Intrigue] Letter: sealed",
		"- **Party Members:** Eder, Pallegina",
		"- **LLM Model:** gpt-test",
		"## Vignette\n\nThe gulls cried over Neketaka.",
	} {
		if !strings.Contains(v, want) {
			t.Errorf("vignette missing %q:\n%s", want, v)
		}
	}

	s := readFile(t, art.SummaryPath)
	if !strings.HasPrefix(s, "Narrative Summary - 2025-04-05_18-30-00\n"+summaryRule) || !strings.Contains(s, "Party@Neketaka") {
		t.Errorf("summary file = %q", s)
	}

	gs, err := state.LoadGameState(w.GameStatePath)
	if err != nil {
		t.Fatal(err)
	}
	if got := gs.PreviousInterludes(); len(got) != 3 || got[0] != "Party@Neketaka; gulls." || got[2] != "b" {
		t.Errorf("interludes = %v", got)
	}
	if !strings.Contains(readFile(t, w.CrewPath), "hopeful") {
		t.Error("crew not updated")
	}

	m, err := state.ReadMarker(w.MarkerPath)
	if err != nil {
		t.Fatal(err)
	}
	if !m.LastExecution.Equal(fixedNow) || m.Version != 1 || m.CycleID != "cycle-1" {
		t.Errorf("marker = %+v", m)
	}
}

func TestCommitTwiceProducesDistinctFiles(t *testing.T) {
	w := newWriter(t)

	a1, err := w.Commit(testCycle(t))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := w.Commit(testCycle(t))
	if err != nil {
		t.Fatal(err)
	}
	if a1.VignettePath == a2.VignettePath || a1.SummaryPath == a2.SummaryPath {
		t.Fatalf("paths reused: %+v %+v", a1, a2)
	}
	if !strings.HasSuffix(a2.VignettePath, "_2.md") {
		t.Errorf("second vignette = %s", a2.VignettePath)
	}
	if !a2.Marker.LastExecution.After(a1.Marker.LastExecution) {
		t.Error("marker timestamp did not advance")
	}
	if countFiles(t, w.OutputDir) != 2 || countFiles(t, w.SummariesDir) != 2 {
		t.Error("expected two files per folder")
	}
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	for _, failOn := range []string{"crew", "marker"} {
		t.Run(failOn, func(t *testing.T) {
			w := newWriter(t)
			prevMarker := state.Marker{LastExecution: fixedNow.Add(-time.Hour), Version: 4, CycleID: "old"}
			if err := state.WriteMarker(w.MarkerPath, prevMarker); err != nil {
				t.Fatal(err)
			}

			target := map[string]string{"crew": w.CrewPath, "marker": w.MarkerPath}[failOn]
			w.writeFile = func(path string, data []byte, perm os.FileMode) error {
				if path == target {
					return errors.New("disk full")
				}
				return state.WriteFileAtomic(path, data, perm)
			}

			if _, err := w.Commit(testCycle(t)); err == nil {
				t.Fatal("expected error")
			}

			if got := readFile(t, w.GameStatePath); got != origState {
				t.Errorf("game state not restored: %s", got)
			}
			if got := readFile(t, w.CrewPath); got != origCrew {
				t.Errorf("crew not restored: %s", got)
			}
			m, err := state.ReadMarker(w.MarkerPath)
			if err != nil {
				t.Fatal(err)
			}
			if m.Version != 4 || m.CycleID != "old" {
				t.Errorf("marker changed: %+v", m)
			}
			if n := countFiles(t, w.OutputDir) + countFiles(t, w.SummariesDir); n != 0 {
				t.Errorf("%d artifacts left behind", n)
			}
		})
	}
}

func TestCommitRemovesCreatedStateOnFailure(t *testing.T) {
	w := newWriter(t)
	os.Remove(w.CrewPath)
	w.writeFile = func(path string, data []byte, perm os.FileMode) error {
		if path == w.MarkerPath {
			return errors.New("read-only")
		}
		return state.WriteFileAtomic(path, data, perm)
	}
	if _, err := w.Commit(testCycle(t)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(w.CrewPath); !os.IsNotExist(err) {
		t.Errorf("crew file created by failed commit still present: %v", err)
	}
}

func TestWriteInteractive(t *testing.T) {
	w := newWriter(t)

	art, err := w.WriteInteractive(Interactive{
		Vignette:   "They turned north.",
		Summary:    "north",
		UserPrompt: "go north",
		BaseName:   "vignette_2025-04-05_18-00-00.md",
		Party:      []string{"Eder"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(art.VignettePath) != "interactive_vignette_2025-04-05_18-30-00.md" {
		t.Errorf("vignette = %s", art.VignettePath)
	}
	if filepath.Base(art.SummaryPath) != "interactive_2025-04-05_18-30-00_summary.txt" {
		t.Errorf("summary = %s", art.SummaryPath)
	}
	meta := ParseMetadata(readFile(t, art.VignettePath))
	if meta.Theme != "Interactive Response" || meta.UserPrompt != "go north" || meta.BasedOn != "vignette_2025-04-05_18-00-00.md" {
		t.Errorf("metadata = %+v", meta)
	}
	if readFile(t, w.GameStatePath) != origState {
		t.Error("interactive write touched game state")
	}
	if _, err := os.Stat(w.MarkerPath); !os.IsNotExist(err) {
		t.Error("interactive write created marker")
	}
}

func TestParseMetadataAndBody(t *testing.T) {
	content := "# Story Vignette - x\n\n## Metadata\n\n- **Theme:** 1. [Rest] Harbor: calm\n- **Generated:** 2025-04-05T18:30:00Z\n- **Party Members:** Eder\n- **LLM Model:** gpt\n\n## Vignette\n\nBody **bold** text.\n"
	m := ParseMetadata(content)
	if m.Theme != "1. [Rest] Harbor: calm" || m.Generated != "2025-04-05T18:30:00Z" || m.PartyMembers != "Eder" || m.Model != "gpt" {
		t.Errorf("metadata = %+v", m)
	}
	if got := Body(content); got != "Body **bold** text." {
		t.Errorf("Body = %q", got)
	}
}
