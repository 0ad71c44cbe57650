package output

import (
	"fmt"
	"strings"
	"time"
)

// Interactive is a player-directed continuation of an earlier vignette.
type Interactive struct {
	Vignette   string
	Summary    string
	UserPrompt string
	BaseName   string
	Party      []string
}

// WriteInteractive saves a continuation and its summary. Interactive scenes
// never touch the game state, the crew record or the execution marker.
func (w *Writer) WriteInteractive(in Interactive) (Artifacts, error) {
	now := w.now()
	stamp := now.Format(StampLayout)

	base := in.BaseName
	if base == "" {
		base = "Previous Vignette"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Interactive Story Vignette - %s\n\n", stamp)
	sb.WriteString("## Metadata\n\n")
	writeMeta(&sb, "Theme", "Interactive Response")
	writeMeta(&sb, "Generated", now.Format(time.RFC3339))
	writeMeta(&sb, "Party Members", strings.Join(in.Party, ", "))
	writeMeta(&sb, "User Prompt", fmt.Sprintf("%q", in.UserPrompt))
	writeMeta(&sb, "Based on", base)
	writeMeta(&sb, "LLM Model", w.Model)
	sb.WriteString("\n## Vignette\n\n")
	sb.WriteString(in.Vignette)
	sb.WriteString("\n")

	vp, err := createExclusive(w.OutputDir, "interactive_vignette_"+stamp, ".md", []byte(sb.String()))
	if err != nil {
		return Artifacts{}, err
	}
	sp, err := createExclusive(w.SummariesDir, "interactive_"+stamp+"_summary", ".txt", []byte(renderSummary("Interactive Summary", stamp, in.Summary)))
	if err != nil {
		rb := &rollback{created: []string{vp}}
		rb.run()
		return Artifacts{}, err
	}
	w.logger().Info("interactive vignette saved", "vignette", vp, "based_on", base)
	return Artifacts{VignettePath: vp, SummaryPath: sp}, nil
}
