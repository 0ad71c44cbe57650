package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var summaryName = regexp.MustCompile(`^CombatLogs(.+?) - (\d{4}-\d{2}-\d{2} \d{2}-\d{2}-\d{2})_summary\.txt$`)

// SummaryFile is a combat summary as listed on the dashboard.
type SummaryFile struct {
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Time     time.Time `json:"timestamp"`
	Summary  string    `json:"summary"`
	Path     string    `json:"file_path"`
}

// ListCombatSummaries returns every *_summary.txt in dir, newest first.
// Location and time come from the file name when it follows the game's
// "CombatLogs<location> - <YYYY-MM-DD HH-MM-SS>" pattern, otherwise the
// location is "Unknown" and the time is the file's mod time.
func ListCombatSummaries(dir string) ([]SummaryFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+SummarySuffix))
	if err != nil {
		return nil, err
	}
	type entry struct {
		SummaryFile
		mod time.Time
	}
	var entries []entry
	for _, m := range matches {
		info, err := os.Stat(m)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("collector: %w", err)
		}
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		sf := SummaryFile{
			Name:     info.Name(),
			Location: "Unknown",
			Time:     info.ModTime(),
			Summary:  string(data),
			Path:     m,
		}
		if g := summaryName.FindStringSubmatch(sf.Name); g != nil {
			sf.Location = strings.TrimSpace(g[1])
			if t, err := time.ParseInLocation("2006-01-02 15-04-05", g[2], time.Local); err == nil {
				sf.Time = t
			}
		}
		entries = append(entries, entry{sf, info.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].mod.After(entries[j].mod) })

	out := make([]SummaryFile, len(entries))
	for i, e := range entries {
		out[i] = e.SummaryFile
	}
	return out, nil
}
