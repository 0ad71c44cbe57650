package pipeline

import (
	"strings"

	"github.com/kalambet/vignette/internal/state"
)

// ParseCrewResponse extracts a crew record from a model reply. It strips
// code fences and any text around the JSON object and, as a last resort,
// closes unbalanced braces. ok is false when nothing usable was found.
func ParseCrewResponse(raw string) (*state.Crew, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}
	s = s[start:]

	candidates := []string{s}
	if end := strings.LastIndexByte(s, '}'); end >= 0 && end < len(s)-1 {
		candidates = append(candidates, s[:end+1])
	}
	if open, closed := strings.Count(s, "{"), strings.Count(s, "}"); open > closed {
		candidates = append(candidates, s+strings.Repeat("}", open-closed))
	}

	for _, c := range candidates {
		if crew, err := state.ParseCrew([]byte(c)); err == nil {
			return crew, true
		}
	}
	return nil, false
}
