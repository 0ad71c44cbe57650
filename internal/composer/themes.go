package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/vignette/internal/state"
)

// NoThemes is offered when the catalog is empty.
const NoThemes = "General: No themes available."

const themeChoices = 3

// SelectThemes picks up to three distinct tropes at random and formats them
// as a numbered list for the model to choose from.
func (c *Composer) SelectThemes(t state.Themes) string {
	flat := t.Flatten()
	if len(flat) == 0 {
		return NoThemes
	}
	n := min(themeChoices, len(flat))
	perm := c.rnd.Perm(len(flat))[:n]

	var sb strings.Builder
	sb.WriteString("Theme Options:\n")
	for i, idx := range perm {
		tr := flat[idx]
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, tr.Category, tr.Title, tr.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
