// Package locations reads and writes the discovered-location files kept in
// the saves folder.
//
// Each save that reveals new areas produces new_locations_<stamp>.txt. A
// merged new_locations_all_previous.txt lists every location seen so far.
// Both files start with a two-line header followed by one name per line.
package locations

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	filePrefix  = "new_locations_"
	mergedName  = "new_locations_all_previous.txt"
	stampLayout = "20060102_150405"
	headerLines = 2
)

var (
	numberedPrefix = regexp.MustCompile(`^[a-z]+_\d+_`)
	letterPrefix   = regexp.MustCompile(`^[a-z]+_`)
	extension      = regexp.MustCompile(`(?i)\.[a-z0-9]+$`)
)

// CleanName turns a level file name such as "ar_0501_port_maje_ext.lvl"
// into a display name such as "Port Maje (Exterior)".
func CleanName(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), " - NEW LOCATION")
	name = strings.TrimRight(strings.TrimSpace(name), `",]`)
	name = strings.TrimLeft(name, `"[`)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = extension.ReplaceAllString(name, "")

	cleaned := numberedPrefix.ReplaceAllString(name, "")
	if cleaned == name {
		cleaned = letterPrefix.ReplaceAllString(name, "")
	}

	words := strings.Fields(strings.ReplaceAll(cleaned, "_", " "))
	for i, w := range words {
		switch w = titleWord(w); w {
		case "Ext":
			words[i] = "(Exterior)"
		case "Int":
			words[i] = "(Interior)"
		default:
			words[i] = w
		}
	}
	return strings.Join(words, " ")
}

// titleWord upper-cases every letter that follows a non-letter and
// lower-cases the rest.
func titleWord(w string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range w {
		if prevLetter {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToUpper(r))
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}

// ReadFile returns the location names listed in a location file.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for n := 0; sc.Scan(); n++ {
		if n < headerLines {
			continue
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "=") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// Latest returns the newest per-save location file in dir, or "" when there
// is none.
func Latest(dir string) (string, error) {
	files, err := perSaveFiles(dir)
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[0].path, nil
}

type stamped struct {
	path string
	mod  time.Time
}

// perSaveFiles lists per-save location files newest first.
func perSaveFiles(dir string) ([]stamped, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.txt"))
	if err != nil {
		return nil, err
	}
	var out []stamped
	for _, m := range matches {
		if filepath.Base(m) == mergedName {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, stamped{path: m, mod: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mod.After(out[j].mod) })
	return out, nil
}

// Record writes a new per-save location file for names, folds every known
// location into the merged file and removes older per-save files. It returns
// the path of the new file.
func Record(dir string, names []string, now time.Time) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("locations: create %s: %w", dir, err)
	}

	older, err := perSaveFiles(dir)
	if err != nil {
		return "", fmt.Errorf("locations: list %s: %w", dir, err)
	}

	all := make(map[string]bool)
	for _, f := range append(older, stamped{path: filepath.Join(dir, mergedName)}) {
		prev, err := ReadFile(f.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("locations: read %s: %w", f.path, err)
		}
		for _, p := range prev {
			all[CleanName(p)] = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New locations found in save processed at %s:\n\n", now.Format("2006-01-02 15:04:05"))
	for _, n := range names {
		all[n] = true
		b.WriteString(n + "\n")
	}
	newest := filepath.Join(dir, filePrefix+now.Format(stampLayout)+".txt")
	if err := os.WriteFile(newest, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("locations: write %s: %w", newest, err)
	}

	merged := make([]string, 0, len(all))
	for n := range all {
		merged = append(merged, n)
	}
	sort.Strings(merged)
	b.Reset()
	b.WriteString("All previously discovered locations (merged file):\n")
	fmt.Fprintf(&b, "Last updated: %s\n\n", now.Format("2006-01-02 15:04:05"))
	for _, n := range merged {
		b.WriteString(n + "\n")
	}
	if err := os.WriteFile(filepath.Join(dir, mergedName), []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("locations: write merged file: %w", err)
	}

	for _, f := range older {
		if f.path == newest {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return newest, fmt.Errorf("locations: remove %s: %w", f.path, err)
		}
	}
	return newest, nil
}
