// Package pipeline runs the model calls of a generation cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/vignette/internal/collector"
	"github.com/kalambet/vignette/internal/composer"
	"github.com/kalambet/vignette/internal/llm"
	"github.com/kalambet/vignette/internal/state"
)

type Stage string

const (
	StageVignette   Stage = "vignette"
	StageSummary    Stage = "summary"
	StageCrewUpdate Stage = "crew_update"
	StageContinue   Stage = "continuation"
)

const (
	summaryTemperature = 0.3
	crewTemperature    = 0.1
	crewMaxTokensCap   = 4000
)

// StageError reports which call of the pipeline failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("pipeline: %s call: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

var errBlank = errors.New("model returned no text")

type Settings struct {
	Model               string
	Temperature         float64
	MaxTokensVignette   int
	MaxTokensSummary    int
	MaxTokensCrewUpdate int
}

// Result is the output of one successful cycle.
type Result struct {
	Vignette string
	Summary  string
	Themes   string
	// Crew is the record to persist. It is the previous record when the
	// model's update could not be parsed.
	Crew        *state.Crew
	CrewUpdated bool
	Duration    time.Duration
}

// Continuation is an interactive scene and its summary.
type Continuation struct {
	Vignette string
	Summary  string
}

type Pipeline struct {
	client   llm.Client
	composer *composer.Composer
	settings Settings
	logger   *slog.Logger
}

func New(client llm.Client, comp *composer.Composer, s Settings, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{client: client, composer: comp, settings: s, logger: logger}
}

func (p *Pipeline) Settings() Settings { return p.settings }

// Run makes the three calls of a cycle strictly in order:
//  1. vignette from the collected context
//  2. summary of the vignette
//  3. crew record update from the vignette
//
// A failed call stops the pipeline and is returned as a *StageError.
func (p *Pipeline) Run(ctx context.Context, snap *collector.Snapshot) (*Result, error) {
	start := time.Now()
	if snap.Crew == nil {
		snap.Crew = state.NewCrew()
	}
	res := &Result{Themes: p.composer.SelectThemes(snap.Themes)}

	vp := p.composer.Vignette(SceneContextFor(snap), res.Themes)
	vignette, err := p.call(ctx, StageVignette, vp, p.settings.MaxTokensVignette, p.settings.Temperature)
	if err != nil {
		return nil, err
	}
	res.Vignette = vignette
	p.logger.Info("vignette generated", "chars", len(vignette))

	summary, err := p.call(ctx, StageSummary, composer.Summary(vignette), p.settings.MaxTokensSummary, summaryTemperature)
	if err != nil {
		return nil, err
	}
	res.Summary = summary
	p.logger.Info("narrative summary created", "chars", len(summary))

	crewTokens := min(p.settings.MaxTokensCrewUpdate, crewMaxTokensCap)
	if crewTokens <= 0 {
		crewTokens = crewMaxTokensCap
	}
	raw, err := p.call(ctx, StageCrewUpdate, composer.CrewUpdate(vignette, string(snap.Crew.Bytes())), crewTokens, crewTemperature)
	if err != nil && !errors.Is(err, errBlank) {
		return nil, err
	}
	if crew, ok := ParseCrewResponse(raw); ok {
		res.Crew, res.CrewUpdated = crew, true
	} else {
		p.logger.Warn("crew update unusable, keeping previous crew details", "response_chars", len(raw))
		res.Crew = snap.Crew
	}

	res.Duration = time.Since(start)
	return res, nil
}

// Continue writes an interactive continuation of base and summarizes it.
func (p *Pipeline) Continue(ctx context.Context, snap *collector.Snapshot, base, userMessage string) (*Continuation, error) {
	cp := p.composer.Continuation(SceneContextFor(snap), base, userMessage)
	scene, err := p.call(ctx, StageContinue, cp, p.settings.MaxTokensVignette, p.settings.Temperature)
	if err != nil {
		return nil, err
	}
	summary, err := p.call(ctx, StageSummary, composer.ContinuationSummary(scene, userMessage), p.settings.MaxTokensSummary, summaryTemperature)
	if err != nil {
		return nil, err
	}
	return &Continuation{Vignette: scene, Summary: summary}, nil
}

func (p *Pipeline) call(ctx context.Context, stage Stage, pr composer.Prompt, maxTokens int, temp float64) (string, error) {
	out, err := p.client.Complete(ctx, llm.Request{
		System:      pr.System,
		User:        pr.User,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = errBlank
	}
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			err = fmt.Errorf("%w: %w", errBlank, err)
		}
		p.logger.Error("llm call failed", "stage", stage, "error", err)
		return "", &StageError{Stage: stage, Err: err}
	}
	return strings.TrimSpace(out), nil
}

// SceneContextFor extracts the prompt context from a snapshot.
func SceneContextFor(snap *collector.Snapshot) composer.SceneContext {
	gs := snap.GameState
	combat := gs.LatestCombat().Summary
	if combat == "" {
		combat = snap.Combat.Text
	}
	crew := ""
	if snap.Crew != nil {
		crew = snap.Crew.Excerpt(composer.CrewExcerptChars)
	}
	return composer.SceneContext{
		ActiveMembers: gs.ActiveMembers(),
		SideMembers:   gs.SideMembers(),
		ShipCrew:      gs.NamedCrew(),
		Combat:        combat,
		Quests:        snap.Quests,
		Locations:     gs.RecentLocations(),
		Interludes:    gs.PreviousInterludes(),
		CrewExcerpt:   crew,
	}
}
