package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/vignette/internal/collector"
	"github.com/kalambet/vignette/internal/composer"
	"github.com/kalambet/vignette/internal/llm"
	"github.com/kalambet/vignette/internal/state"
)

const (
	combatExcerptChars = 8000
	combatMaxTokens    = 2000
	combatTemperature  = 0.2
)

// CombatSummarizer writes a "<log>_summary.txt" analysis next to each raw
// combat log.
type CombatSummarizer struct {
	Dir    string
	LLM    llm.Client
	Logger *slog.Logger
	Now    func() time.Time
}

// SummaryPath is where the analysis of logPath is stored.
func SummaryPath(logPath string) string {
	return strings.TrimSuffix(logPath, combatLogExt) + collector.SummarySuffix
}

// Pending lists combat logs in Dir that have no summary yet, oldest first.
func (s *CombatSummarizer) Pending() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, combatLogPrefix+"*"+combatLogExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var out []string
	for _, m := range matches {
		if _, err := os.Stat(SummaryPath(m)); errors.Is(err, fs.ErrNotExist) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Summarize analyses one combat log. An existing summary is left alone and
// reported as skipped.
func (s *CombatSummarizer) Summarize(ctx context.Context, logPath string) (skipped bool, err error) {
	out := SummaryPath(logPath)
	if _, err := os.Stat(out); err == nil {
		return true, nil
	}

	info, err := os.Stat(logPath)
	if err != nil {
		return false, fmt.Errorf("reading combat log: %w", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		return false, fmt.Errorf("reading combat log: %w", err)
	}
	excerpt := string(data)
	if tail := collector.Tail(excerpt, combatExcerptChars); tail != excerpt {
		excerpt = "...[truncated]...\n" + tail
	}

	prompt := composer.CombatLog(excerpt)
	summary, err := s.LLM.Complete(ctx, llm.Request{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   combatMaxTokens,
		Temperature: combatTemperature,
	})
	if err != nil {
		return false, fmt.Errorf("summarizing %s: %w", filepath.Base(logPath), err)
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Combat Log Summary for: %s\n", filepath.Base(logPath))
	fmt.Fprintf(&b, "Generated: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Original file size: %d bytes\n", info.Size())
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	b.WriteString(summary)

	if err := state.WriteFileAtomic(out, []byte(b.String()), 0o644); err != nil {
		return false, fmt.Errorf("writing summary: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info("combat log summarized", "log", filepath.Base(logPath), "summary", filepath.Base(out))
	}
	return false, nil
}
