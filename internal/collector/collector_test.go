package collector

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/vignette/internal/locations"
)

const summaryFile = `Combat Log Summary for: CombatLogs Port Maje - 2025-01-02 10-00-00.log
Generated: 2025-01-02 10:05:00
Original file size: 1234 bytes
==================================================

**1. Executive Summary:**
The party ambushed a Xaurip war band at the beach and won decisively.

**2. Key Events & Turning Points:**
- Eder interrupted the champion.
`

func writeFile(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractExecutiveSummary(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		wantSect bool
	}{
		{
			name:     "bold label",
			in:       summaryFile,
			want:     "The party ambushed a Xaurip war band at the beach and won decisively.",
			wantSect: true,
		},
		{
			name:     "markdown heading",
			in:       "# Report\n## 1. Executive Summary\nDrake slain.\nParty tired.\n## 2. Events\nmore",
			want:     "Drake slain.\nParty tired.",
			wantSect: true,
		},
		{
			name: "header only",
			in:   "Combat Log Summary for: x\n==================================================\n\nFree-form text.",
			want: "Free-form text.",
		},
		{
			name: "plain",
			in:   "  just text  ",
			want: "just text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, sect := ExtractExecutiveSummary(tt.in)
			if got != tt.want || sect != tt.wantSect {
				t.Errorf("got (%q, %v), want (%q, %v)", got, sect, tt.want, tt.wantSect)
			}
		})
	}
}

func TestLatestCombatSummaryPicksNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(dir, "CombatLogs A - 2025-01-01 10-00-00_summary.txt"), "**1. Executive Summary:** old", now.Add(-time.Hour))
	writeFile(t, filepath.Join(dir, "CombatLogs B - 2025-01-02 10-00-00_summary.txt"), summaryFile, now)
	writeFile(t, filepath.Join(dir, "CombatLogs B - 2025-01-02 10-00-00.log"), "raw", now.Add(time.Minute))

	cs, err := LatestCombatSummary(dir, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Source != "CombatLogs B - 2025-01-02 10-00-00_summary.txt" {
		t.Errorf("Source = %q", cs.Source)
	}
	if !strings.HasPrefix(cs.Text, "The party ambushed") || cs.FromRawLog {
		t.Errorf("summary = %+v", cs)
	}
}

func TestLatestCombatSummaryFallsBackToRawLog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "CombatLogs Deck - 2025-01-02 10-00-00.log"), strings.Repeat("a", 50)+"THE END", time.Time{})

	cs, err := LatestCombatSummary(dir, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !cs.FromRawLog || cs.Text != "aaaTHE END" {
		t.Errorf("summary = %+v", cs)
	}
}

func TestLatestCombatSummaryEmptyFolder(t *testing.T) {
	for _, dir := range []string{t.TempDir(), filepath.Join(t.TempDir(), "missing")} {
		cs, err := LatestCombatSummary(dir, 100)
		if err != nil {
			t.Fatal(err)
		}
		if !cs.Empty() {
			t.Errorf("summary = %+v, want empty", cs)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Tail("héllo", 3); got != "llo" {
		t.Errorf("Tail = %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Errorf("Truncate unbounded = %q", got)
	}
}

func newCollector(t *testing.T) (*Collector, string) {
	t.Helper()
	root := t.TempDir()
	c := &Collector{
		Paths: Paths{
			GameState:  filepath.Join(root, "Input", "gameState.json"),
			Crew:       filepath.Join(root, "Input", "crew_details.json"),
			Themes:     filepath.Join(root, "Config", "vignette_themes.json"),
			Quests:     filepath.Join(root, "Input", "recent_quests.txt"),
			CombatLogs: filepath.Join(root, "Input", "CombatLogs"),
			Saves:      filepath.Join(root, "Input", "Saves"),
		},
		MaxSummaryChars: 2000,
		Now:             func() time.Time { return time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC) },
	}
	return c, root
}

func TestCollectDefaults(t *testing.T) {
	c, _ := newCollector(t)

	snap, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if string(snap.GameState.Raw()) != "{}" {
		t.Errorf("GameState = %s, want {}", snap.GameState.Raw())
	}
	if snap.Quests != DefaultQuests {
		t.Errorf("Quests = %q", snap.Quests)
	}
	if !snap.Combat.Empty() {
		t.Errorf("Combat = %+v", snap.Combat)
	}
	if len(snap.Themes.Flatten()) != 0 {
		t.Errorf("Themes = %+v", snap.Themes)
	}
}

func TestCollectMergesCombatAndLocations(t *testing.T) {
	c, _ := newCollector(t)
	writeFile(t, c.Paths.GameState, `{"plot_state":{"recent_locations":["Neketaka"]},"combat_log":{"latest_executive_summary":"earlier"}}`, time.Time{})
	writeFile(t, c.Paths.Crew, `{"Vatnir":{"mood":"grim"}}`, time.Time{})
	writeFile(t, c.Paths.Quests, "Find the Eothasian statue.\n", time.Time{})
	writeFile(t, filepath.Join(c.Paths.CombatLogs, "CombatLogs Beach - 2025-01-02 10-00-00_summary.txt"), summaryFile, time.Time{})
	if _, err := locations.Record(c.Paths.Saves, []string{"Port Maje (Exterior)"}, time.Now()); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.Quests != "Find the Eothasian statue." {
		t.Errorf("Quests = %q", snap.Quests)
	}
	if got := snap.GameState.LatestCombat().Summary; !strings.HasPrefix(got, "The party ambushed") {
		t.Errorf("latest combat = %q", got)
	}
	if got := snap.GameState.PreviousFights(); !reflect.DeepEqual(got, []string{"earlier"}) {
		t.Errorf("PreviousFights = %v", got)
	}
	if got, want := snap.GameState.RecentLocations(), []string{"Port Maje (Exterior)", "Neketaka"}; !reflect.DeepEqual(got, want) {
		t.Errorf("RecentLocations = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(snap.NewLocations, []string{"Port Maje (Exterior)"}) {
		t.Errorf("NewLocations = %v", snap.NewLocations)
	}

	onDisk, err := os.ReadFile(c.Paths.GameState)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(onDisk), "Port Maje") {
		t.Error("Collect must not write the game state")
	}
}

func TestCollectRejectsCorruptGameState(t *testing.T) {
	c, _ := newCollector(t)
	writeFile(t, c.Paths.GameState, `{"party_context": [`, time.Time{})

	if _, err := c.Collect(context.Background()); err == nil {
		t.Fatal("expected error for corrupt game state")
	}
}
