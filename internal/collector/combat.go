package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// CombatSummary is a bounded excerpt of the most recent combat record.
type CombatSummary struct {
	Text    string
	Source  string
	ModTime time.Time
	// FromRawLog is set when no summary file existed and Text is the tail
	// of a raw combat log.
	FromRawLog bool
}

func (c CombatSummary) Empty() bool { return strings.TrimSpace(c.Text) == "" }

const (
	SummarySuffix = "_summary.txt"
	RawLogPattern = "CombatLog*.log"
)

var (
	headingSection = regexp.MustCompile(`(?s)#{1,6}\s*1\.\s*Executive Summary:?[ \t]*\n?(.*?)(?:\n#{1,6}\s|\z)`)
	boldSection    = regexp.MustCompile(`(?s)\*\*1\.\s*Executive Summary:?\*\*:?(.*?)(?:\n\s*\*\*2\.|\n#{1,6}\s|\z)`)
	headerRule     = regexp.MustCompile(`(?m)^={10,}\s*$`)
)

// ExtractExecutiveSummary returns the "1. Executive Summary" section of a
// combat summary, accepting both Markdown heading and bold label forms.
// Without such a section it returns the body after the file header rule, or
// the whole text.
func ExtractExecutiveSummary(text string) (string, bool) {
	for _, re := range []*regexp.Regexp{headingSection, boldSection} {
		if m := re.FindStringSubmatch(text); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				return s, true
			}
		}
	}
	if loc := headerRule.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[loc[1]:]), false
	}
	return strings.TrimSpace(text), false
}

// LatestCombatSummary reads the newest summary file in dir. When there are
// none it falls back to the tail of the newest raw combat log. An empty or
// missing folder yields an empty summary.
func LatestCombatSummary(dir string, maxChars int) (CombatSummary, error) {
	summary, err := newest(dir, "*"+SummarySuffix)
	if err != nil {
		return CombatSummary{}, err
	}
	if summary.path != "" {
		data, err := os.ReadFile(summary.path)
		if err != nil {
			return CombatSummary{}, fmt.Errorf("collector: read %s: %w", summary.path, err)
		}
		text, _ := ExtractExecutiveSummary(string(data))
		return CombatSummary{
			Text:    Truncate(text, maxChars),
			Source:  filepath.Base(summary.path),
			ModTime: summary.mod,
		}, nil
	}

	raw, err := newest(dir, RawLogPattern)
	if err != nil || raw.path == "" {
		return CombatSummary{}, err
	}
	data, err := os.ReadFile(raw.path)
	if err != nil {
		return CombatSummary{}, fmt.Errorf("collector: read %s: %w", raw.path, err)
	}
	return CombatSummary{
		Text:       Tail(strings.TrimSpace(string(data)), maxChars),
		Source:     filepath.Base(raw.path),
		ModTime:    raw.mod,
		FromRawLog: true,
	}, nil
}

type fileInfo struct {
	path string
	mod  time.Time
}

func newest(dir, pattern string) (fileInfo, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return fileInfo{}, err
	}
	var best fileInfo
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fileInfo{}, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if best.path == "" || info.ModTime().After(best.mod) {
			best = fileInfo{path: m, mod: info.ModTime()}
		}
	}
	return best, nil
}

// Truncate keeps at most n runes of s. n <= 0 means no limit.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Tail keeps the last n runes of s. n <= 0 means no limit.
func Tail(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
