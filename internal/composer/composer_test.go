package composer

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/kalambet/vignette/internal/state"
)

func sampleContext() SceneContext {
	return SceneContext{
		ActiveMembers: []string{"Eder", "Aloth"},
		SideMembers:   []string{"Xoti"},
		ShipCrew:      []string{"Vatnir"},
		Combat:        "Drake slain at the reef.",
		Quests:        "Find Eothas.",
		Locations:     []string{"L1", "L2", "L3", "L4", "L5", "L6"},
		Interludes:    []string{"newest", "middle", "oldest", "ancient"},
		CrewExcerpt:   `{"Vatnir": {"mood": "grim"}}`,
	}
}

func TestVignette_IncludesContext(t *testing.T) {
	c := New(0, rand.NewPCG(1, 2))
	p := c.Vignette(sampleContext(), "Theme Options:\n1. [Rest] Campfire: quiet")

	if p.System == "" {
		t.Error("empty system prompt")
	}
	for _, want := range []string{
		"Active Members: Eder, Aloth",
		"Side Members: Xoti",
		"Vatnir",
		"Drake slain at the reef.",
		"Find Eothas.",
		"L1, L2, L3, L4, L5",
		"[Rest] Campfire",
		"800 to 1200 words",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p.User, "L6") {
		t.Error("prompt quotes more than five locations")
	}
	if strings.Contains(p.User, "ancient") {
		t.Error("prompt quotes more than three interludes")
	}
	if strings.Index(p.User, "oldest") > strings.Index(p.User, "newest") {
		t.Error("interludes not in story order")
	}
}

func TestVignette_EmptyContextDefaults(t *testing.T) {
	c := New(0, rand.NewPCG(1, 2))
	p := c.Vignette(SceneContext{}, NoThemes)

	for _, want := range []string{"Active Members: None", "No recent combat", "No recent locations", "Beginning of adventure"} {
		if !strings.Contains(p.User, want) {
			t.Errorf("prompt missing default %q", want)
		}
	}
}

func TestVignette_BudgetDropsLowPriorityFirst(t *testing.T) {
	sc := sampleContext()
	sc.CrewExcerpt = strings.Repeat("x", 4000)

	full := New(100000, rand.NewPCG(1, 2)).Vignette(sc, NoThemes)
	if !strings.Contains(full.User, "Crew Details Context") {
		t.Fatal("crew section missing with large budget")
	}

	budget := EstimateTokens(full.User) - 500
	tight := New(budget, rand.NewPCG(1, 2)).Vignette(sc, NoThemes)
	if strings.Contains(tight.User, "Crew Details Context") {
		t.Error("crew section kept over budget")
	}
	if !strings.Contains(tight.User, "Previous Story Context") {
		t.Error("higher priority section dropped before crew details")
	}
	if !strings.Contains(tight.User, "Current Party") || !strings.Contains(tight.User, "Instructions") {
		t.Error("required sections dropped")
	}
}

func TestContinuation(t *testing.T) {
	c := New(0, nil)
	base := strings.Repeat("b", 1500)
	p := c.Continuation(sampleContext(), base, "Eder challenges the captain")

	if !strings.Contains(p.User, `"Eder challenges the captain"`) {
		t.Error("continuation missing quoted direction")
	}
	if strings.Contains(p.User, strings.Repeat("b", 1001)) {
		t.Error("base scene not truncated")
	}
	if strings.Contains(p.User, "oldest") {
		t.Error("continuation quotes more than two interludes")
	}
}

func TestSelectThemes(t *testing.T) {
	c := New(0, rand.NewPCG(7, 11))
	themes := state.Themes{SceneTropes: []state.TropeCategory{
		{Category: "Intrigue", Details: []state.Trope{{Title: "Letter", Description: "d1"}, {Title: "Spy", Description: "d2"}}},
		{Category: "Rest", Details: []state.Trope{{Title: "Campfire", Description: "d3"}, {Title: "Tavern", Description: "d4"}}},
	}}

	got := c.SelectThemes(themes)
	lines := strings.Split(got, "\n")
	if lines[0] != "Theme Options:" || len(lines) != 4 {
		t.Fatalf("SelectThemes = %q", got)
	}
	seen := map[string]bool{}
	for i, l := range lines[1:] {
		if !strings.HasPrefix(l, string(rune('1'+i))+". [") {
			t.Errorf("line %q not numbered", l)
		}
		if seen[l[3:]] {
			t.Errorf("duplicate theme %q", l)
		}
		seen[l[3:]] = true
	}

	again := New(0, rand.NewPCG(7, 11)).SelectThemes(themes)
	if again != got {
		t.Error("same seed produced different selection")
	}
}

func TestSelectThemes_FewAndNone(t *testing.T) {
	c := New(0, rand.NewPCG(1, 1))
	if got := c.SelectThemes(state.Themes{}); got != NoThemes {
		t.Errorf("empty catalog = %q", got)
	}
	one := state.Themes{SceneTropes: []state.TropeCategory{{Category: "C", Details: []state.Trope{{Title: "T", Description: "D"}}}}}
	if got := c.SelectThemes(one); got != "Theme Options:\n1. [C] T: D" {
		t.Errorf("single theme = %q", got)
	}
}

func TestFixedPrompts(t *testing.T) {
	if p := Summary("the tale"); !strings.Contains(p.User, "the tale") || !strings.Contains(p.User, "100 to 200 words") {
		t.Errorf("Summary = %q", p.User)
	}
	if p := CrewUpdate("the tale", `{"a":1}`); !strings.Contains(p.User, `{"a":1}`) || !strings.Contains(p.System, "JSON") {
		t.Errorf("CrewUpdate = %q", p.User)
	}
	if p := LocationClassification([]string{"a.lvl", "b.cfg"}); !strings.Contains(p.User, "a.lvl\nb.cfg") || !strings.Contains(p.User, "NONE") {
		t.Errorf("LocationClassification = %q", p.User)
	}
	if p := CombatLog("hit for 12"); !strings.Contains(p.User, "**1. Executive Summary:**") || !strings.HasSuffix(p.User, "hit for 12") {
		t.Errorf("CombatLog = %q", p.User)
	}
	if p := ContinuationSummary("scene", "go north"); !strings.Contains(p.User, `"go north"`) {
		t.Errorf("ContinuationSummary = %q", p.User)
	}
}
