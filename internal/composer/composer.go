// Package composer assembles the prompts sent to the model.
package composer

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

const (
	defaultMaxContextTokens = 6000

	// CrewExcerptChars bounds the crew record quoted in scene prompts.
	CrewExcerptChars = 1000
	// ContinuationBaseChars bounds the previous scene quoted in a
	// continuation prompt.
	ContinuationBaseChars = 1000

	maxPromptLocations  = 5
	maxPromptInterludes = 3
)

// Prompt is a system + user message pair.
type Prompt struct {
	System string
	User   string
}

// SceneContext is the story state quoted in scene prompts. Locations and
// Interludes are ordered newest first, as stored in the game state.
type SceneContext struct {
	ActiveMembers []string
	SideMembers   []string
	ShipCrew      []string
	Combat        string
	Quests        string
	Locations     []string
	Interludes    []string
	CrewExcerpt   string
}

// Composer builds prompts within a token budget. When the optional context
// sections do not fit, the lowest priority ones are dropped first.
type Composer struct {
	MaxContextTokens int

	rnd *rand.Rand
}

// New creates a Composer. If maxContextTokens <= 0 the default (6000) is
// used. A nil src seeds from the clock.
func New(maxContextTokens int, src rand.Source) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}
	return &Composer{MaxContextTokens: maxContextTokens, rnd: rand.New(src)}
}

// section is one titled block of a scene prompt. Lower priority sections
// are dropped first when the budget is exceeded; priority 0 is never
// dropped.
type section struct {
	title    string
	body     string
	priority int
}

func (s section) render() string {
	return "**" + s.title + ":**\n" + s.body + "\n\n"
}

// fit renders sections in order, dropping optional ones by ascending
// priority until the total fits in budget tokens.
func fit(sections []section, budget int) string {
	keep := make([]bool, len(sections))
	total := 0
	for i, s := range sections {
		keep[i] = true
		total += EstimateTokens(s.render())
	}

	order := make([]int, 0, len(sections))
	for i, s := range sections {
		if s.priority > 0 {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int { return sections[a].priority - sections[b].priority })

	for _, i := range order {
		if total <= budget {
			break
		}
		keep[i] = false
		total -= EstimateTokens(sections[i].render())
	}

	var sb strings.Builder
	for i, s := range sections {
		if keep[i] {
			sb.WriteString(s.render())
		}
	}
	return sb.String()
}

func (c *Composer) contextSections(sc SceneContext, interludes int) []section {
	combat := sc.Combat
	if strings.TrimSpace(combat) == "" {
		combat = "No recent combat"
	}
	return []section{
		{title: "Current Party", body: fmt.Sprintf("- Active Members: %s\n- Side Members: %s",
			joinOr(sc.ActiveMembers, "None"), joinOr(sc.SideMembers, "None"))},
		{title: "Ship Crew", body: joinOr(sc.ShipCrew, "None"), priority: 5},
		{title: "Recent Combat Summary", body: combat, priority: 6},
		{title: "Recent Quests", body: orDefault(sc.Quests, "No recent quests available."), priority: 7},
		{title: "Recent Locations (most recent first; assume the least plot progress they allow)",
			body: joinOr(firstN(sc.Locations, maxPromptLocations), "No recent locations"), priority: 3},
		{title: "Previous Story Context (in story order)",
			body: interludeText(sc.Interludes, interludes), priority: 2},
		{title: "Crew Details Context", body: orDefault(sc.CrewExcerpt, "{}"), priority: 1},
	}
}

// Vignette builds the first prompt of a cycle.
func (c *Composer) Vignette(sc SceneContext, themeOptions string) Prompt {
	sections := []section{{title: "Objective", body: vignetteObjective}}
	sections = append(sections, c.contextSections(sc, maxPromptInterludes)...)
	sections = append(sections,
		section{title: "Theme Options (choose exactly one that fits the context)", body: themeOptions},
		section{title: "Instructions", body: vignetteInstructions},
	)
	return Prompt{System: vignetteSystem, User: strings.TrimSpace(fit(sections, c.MaxContextTokens))}
}

// Continuation builds a prompt that continues base in the direction the
// player asked for.
func (c *Composer) Continuation(sc SceneContext, base, userMessage string) Prompt {
	sections := []section{
		{title: "Objective", body: fmt.Sprintf(continuationObjective, userMessage)},
		{title: "Previous Scene", body: truncateRunes(base, ContinuationBaseChars)},
		{title: "Player Direction", body: userMessage},
	}
	sections = append(sections, c.contextSections(sc, 2)...)
	sections = append(sections, section{title: "Instructions", body: continuationInstructions})
	return Prompt{System: continuationSystem, User: strings.TrimSpace(fit(sections, c.MaxContextTokens))}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// interludeText quotes the newest n interludes in story order.
func interludeText(newestFirst []string, n int) string {
	picked := slices.Clone(firstN(newestFirst, n))
	if len(picked) == 0 {
		return "Beginning of adventure"
	}
	slices.Reverse(picked)
	return strings.Join(picked, "\n\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
