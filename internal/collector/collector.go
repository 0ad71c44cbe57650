// Package collector gathers the inputs of a generation cycle from the
// project folders.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/vignette/internal/locations"
	"github.com/kalambet/vignette/internal/state"
)

// DefaultQuests is used when the recent quests file is missing or blank.
const DefaultQuests = "No recent quests available."

type Paths struct {
	GameState  string
	Crew       string
	Themes     string
	Quests     string
	CombatLogs string
	Saves      string
}

// Snapshot is everything a cycle needs. GameState already carries the
// latest combat summary and locations but has not been written back.
type Snapshot struct {
	GameState    *state.GameState
	Crew         *state.Crew
	Themes       state.Themes
	Quests       string
	Combat       CombatSummary
	NewLocations []string
}

type Collector struct {
	Paths           Paths
	MaxSummaryChars int
	Logger          *slog.Logger
	Now             func() time.Time
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Collect loads all inputs. Missing files degrade to defaults; a game
// state or crew file that exists but cannot be parsed is an error, since
// the cycle would otherwise overwrite it.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := c.logger()
	snap := &Snapshot{}

	gs, err := state.LoadGameState(c.Paths.GameState)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("game state not found, starting empty", "path", c.Paths.GameState)
		gs = state.NewGameState()
	case err != nil:
		return nil, fmt.Errorf("collector: %w", err)
	}
	snap.GameState = gs

	crew, err := state.LoadCrew(c.Paths.Crew)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("crew details not found, starting empty", "path", c.Paths.Crew)
		crew = state.NewCrew()
	case err != nil:
		return nil, fmt.Errorf("collector: %w", err)
	}
	snap.Crew = crew

	themes, err := state.LoadThemes(c.Paths.Themes)
	if err != nil {
		log.Warn("themes unavailable", "path", c.Paths.Themes, "error", err)
	}
	snap.Themes = themes

	snap.Quests = c.loadQuests()

	combat, err := LatestCombatSummary(c.Paths.CombatLogs, c.MaxSummaryChars)
	if err != nil {
		log.Warn("combat summary unavailable", "dir", c.Paths.CombatLogs, "error", err)
	}
	snap.Combat = combat
	if !combat.Empty() {
		rotated, err := gs.ApplyCombatSummary(combat.Text, combat.Source, c.now())
		if err != nil {
			return nil, fmt.Errorf("collector: %w", err)
		}
		log.Info("combat summary collected", "source", combat.Source, "raw_log", combat.FromRawLog, "rotated", rotated)
	} else {
		log.Warn("no combat summary found", "dir", c.Paths.CombatLogs)
	}

	added, err := c.applyLocations(gs)
	if err != nil {
		log.Warn("recent locations unavailable", "dir", c.Paths.Saves, "error", err)
	}
	snap.NewLocations = added

	return snap, nil
}

func (c *Collector) loadQuests() string {
	data, err := os.ReadFile(c.Paths.Quests)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger().Warn("recent quests unreadable", "path", c.Paths.Quests, "error", err)
		}
		return DefaultQuests
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return DefaultQuests
	}
	return q
}

func (c *Collector) applyLocations(gs *state.GameState) ([]string, error) {
	latest, err := locations.Latest(c.Paths.Saves)
	if err != nil || latest == "" {
		return nil, err
	}
	names, err := locations.ReadFile(latest)
	if err != nil {
		return nil, err
	}
	added, err := gs.AddRecentLocations(names)
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		c.logger().Info("recent locations updated", "added", added)
	}
	return added, nil
}
