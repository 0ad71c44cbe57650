// Package state holds the JSON records the generator reads and rewrites
// between cycles: the game state document, the crew record, the theme
// catalog and the execution marker.
package state

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

const (
	pathActiveMembers   = "party_context.active_members"
	pathSideMembers     = "party_context.side_members"
	pathNamedCrew       = "ship_context.named_crew"
	pathRecentLocations = "plot_state.recent_locations"
	pathLatestCombat    = "combat_log.latest_executive_summary"
	pathCombatSource    = "combat_log.latest_summary_source"
	pathCombatTimestamp = "combat_log.latest_summary_timestamp"
	pathPreviousFights  = "combat_log.previous_fights"
	pathInterludes      = "narrative_log.previous_interludes"
)

// Retention caps for the rotating lists inside the game state.
const (
	MaxPreviousFights  = 3
	MaxRecentLocations = 10
	MaxInterludes      = 3
)

// ErrNotObject is returned when a document parses but is not a JSON object.
var ErrNotObject = errors.New("state: document is not a JSON object")

// GameState is the gameState.json document. Only the known paths are
// interpreted; every other key is carried through unchanged.
type GameState struct {
	raw []byte
}

// NewGameState returns an empty document.
func NewGameState() *GameState {
	return &GameState{raw: []byte("{}")}
}

// ParseGameState validates data as a JSON object. Blank input yields an
// empty document.
func ParseGameState(data []byte) (*GameState, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return NewGameState(), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("state: invalid game state JSON")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, ErrNotObject
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return &GameState{raw: raw}, nil
}

// LoadGameState reads and parses the document at path. A missing file is
// reported with an error wrapping fs.ErrNotExist.
func LoadGameState(path string) (*GameState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: read game state: %w", err)
	}
	gs, err := ParseGameState(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return gs, nil
}

// Bytes returns the document indented for writing to disk.
func (g *GameState) Bytes() []byte {
	return pretty.PrettyOptions(g.raw, &pretty.Options{Width: 80, Indent: "  "})
}

// Raw returns the document as stored.
func (g *GameState) Raw() []byte { return g.raw }

func (g *GameState) Clone() *GameState {
	raw := make([]byte, len(g.raw))
	copy(raw, g.raw)
	return &GameState{raw: raw}
}

func (g *GameState) ActiveMembers() []string   { return g.names(pathActiveMembers) }
func (g *GameState) SideMembers() []string     { return g.names(pathSideMembers) }
func (g *GameState) NamedCrew() []string       { return g.names(pathNamedCrew) }
func (g *GameState) RecentLocations() []string { return g.list(pathRecentLocations) }
func (g *GameState) PreviousFights() []string  { return g.list(pathPreviousFights) }

// PreviousInterludes returns stored narrative summaries, newest first.
func (g *GameState) PreviousInterludes() []string { return g.list(pathInterludes) }

// CombatEntry is the latest combat summary recorded in the game state.
type CombatEntry struct {
	Summary   string
	Source    string
	Timestamp string
}

func (g *GameState) LatestCombat() CombatEntry {
	return CombatEntry{
		Summary:   gjson.GetBytes(g.raw, pathLatestCombat).String(),
		Source:    gjson.GetBytes(g.raw, pathCombatSource).String(),
		Timestamp: gjson.GetBytes(g.raw, pathCombatTimestamp).String(),
	}
}

// ApplyCombatSummary records a new combat summary. When the summary text or
// its source file differs from the stored one, the previous summary is
// pushed onto previous_fights, which keeps MaxPreviousFights entries.
// It reports whether a rotation happened.
func (g *GameState) ApplyCombatSummary(summary, source string, at time.Time) (bool, error) {
	cur := g.LatestCombat()
	rotated := false
	if summary != cur.Summary || source != cur.Source {
		fights := g.PreviousFights()
		if strings.TrimSpace(cur.Summary) != "" {
			fights = append([]string{cur.Summary}, fights...)
		}
		if len(fights) > MaxPreviousFights {
			fights = fights[:MaxPreviousFights]
		}
		if err := g.set(pathPreviousFights, nonNil(fights)); err != nil {
			return false, err
		}
		rotated = true
	}
	for _, kv := range []struct {
		path string
		val  any
	}{
		{pathLatestCombat, summary},
		{pathCombatTimestamp, at.Format(time.RFC3339)},
		{pathCombatSource, source},
	} {
		if err := g.set(kv.path, kv.val); err != nil {
			return false, err
		}
	}
	return rotated, nil
}

// AddRecentLocations inserts locations not already present at the front of
// recent_locations, keeping their relative order, and trims the list to
// MaxRecentLocations. It returns the locations actually added.
func (g *GameState) AddRecentLocations(locations []string) ([]string, error) {
	current := g.RecentLocations()
	seen := make(map[string]bool, len(current))
	for _, l := range current {
		seen[l] = true
	}
	var added []string
	for _, l := range locations {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		added = append(added, l)
	}
	if len(added) == 0 {
		return nil, nil
	}
	next := append(append([]string{}, added...), current...)
	if len(next) > MaxRecentLocations {
		next = next[:MaxRecentLocations]
	}
	if err := g.set(pathRecentLocations, next); err != nil {
		return nil, err
	}
	return added, nil
}

// PushInterlude stores a narrative summary as the newest interlude.
func (g *GameState) PushInterlude(summary string) error {
	list := append([]string{summary}, g.PreviousInterludes()...)
	if len(list) > MaxInterludes {
		list = list[:MaxInterludes]
	}
	return g.set(pathInterludes, list)
}

func (g *GameState) set(path string, v any) error {
	raw, err := sjson.SetBytes(g.raw, path, v)
	if err != nil {
		return fmt.Errorf("state: set %s: %w", path, err)
	}
	g.raw = raw
	return nil
}

func (g *GameState) list(path string) []string {
	res := gjson.GetBytes(g.raw, path)
	if !res.IsArray() {
		return nil
	}
	var out []string
	for _, v := range res.Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// names reads a list whose entries are either plain strings or objects
// carrying a "name" field.
func (g *GameState) names(path string) []string {
	res := gjson.GetBytes(g.raw, path)
	if !res.IsArray() {
		return nil
	}
	var out []string
	for _, v := range res.Array() {
		switch {
		case v.Type == gjson.String:
			out = append(out, v.String())
		case v.IsObject() && v.Get("name").Exists():
			out = append(out, v.Get("name").String())
		case v.Raw != "":
			out = append(out, v.Raw)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
