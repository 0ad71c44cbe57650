package ingest

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/vignette/internal/composer"
	"github.com/kalambet/vignette/internal/llm"
	"github.com/kalambet/vignette/internal/locations"
	"github.com/kalambet/vignette/internal/state"
)

const (
	filesListName   = "files_list.json"
	combatLogPrefix = "CombatLog"
	combatLogExt    = ".log"

	locationMaxTokens   = 500
	locationTemperature = 0.1
)

// SaveProcessor unpacks game saves, records newly discovered locations and
// collects the combat logs they carry.
type SaveProcessor struct {
	// SavesDir holds the working copies, files_list.json and the location files.
	SavesDir     string
	CombatLogDir string
	LLM          llm.Client
	Logger       *slog.Logger
	Now          func() time.Time
}

// SaveResult describes what one save contributed.
type SaveResult struct {
	Files      int
	NewFiles   []string
	Locations  []string
	CombatLogs []string
}

func (p *SaveProcessor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *SaveProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Process runs one save file through extraction, diffing and location
// classification. The working copy is removed afterwards.
func (p *SaveProcessor) Process(ctx context.Context, savePath string) (SaveResult, error) {
	var res SaveResult
	log := p.logger().With("save", filepath.Base(savePath))

	if err := os.MkdirAll(p.SavesDir, 0o755); err != nil {
		return res, fmt.Errorf("creating saves folder: %w", err)
	}
	work, err := os.MkdirTemp(p.SavesDir, "save_"+p.now().Format("20060102_150405")+"_")
	if err != nil {
		return res, fmt.Errorf("creating work folder: %w", err)
	}
	defer os.RemoveAll(work)

	zipPath := filepath.Join(work, "save.zip")
	if err := copyFile(savePath, zipPath); err != nil {
		return res, fmt.Errorf("copying save: %w", err)
	}
	extracted := filepath.Join(work, "extracted")
	if err := extractZip(zipPath, extracted); err != nil {
		return res, fmt.Errorf("extracting save: %w", err)
	}

	files, err := listFiles(extracted)
	if err != nil {
		return res, fmt.Errorf("listing save contents: %w", err)
	}
	res.Files = len(files)

	res.CombatLogs, err = p.copyCombatLogs(extracted, files)
	if err != nil {
		log.Warn("copying combat logs failed", "error", err)
	}

	known, err := p.loadFilesList()
	if err != nil {
		return res, err
	}
	res.NewFiles = diffFiles(files, known)
	if len(res.NewFiles) == 0 {
		log.Info("save processed, no new files", "files", res.Files)
		return res, nil
	}

	locs, err := p.classify(ctx, res.NewFiles)
	if err != nil {
		return res, fmt.Errorf("classifying new files: %w", err)
	}
	if len(locs) > 0 {
		if _, err := locations.Record(p.SavesDir, locs, p.now()); err != nil {
			return res, err
		}
	}
	res.Locations = locs

	if err := p.saveFilesList(mergeFiles(files, known)); err != nil {
		return res, err
	}
	log.Info("save processed", "files", res.Files, "new_files", len(res.NewFiles), "locations", len(locs))
	return res, nil
}

// classify asks the model which of files are in-game locations and returns
// their display names.
func (p *SaveProcessor) classify(ctx context.Context, files []string) ([]string, error) {
	prompt := composer.LocationClassification(files)
	reply, err := p.LLM.Complete(ctx, llm.Request{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   locationMaxTokens,
		Temperature: locationTemperature,
	})
	if err != nil {
		return nil, err
	}
	return ParseLocationReply(reply, files), nil
}

// ParseLocationReply keeps the reply lines that name one of the candidate
// files and cleans them into display names. "NONE" means no locations.
func ParseLocationReply(reply string, candidates []string) []string {
	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "NONE") {
		return nil
	}
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if !slices.Contains(candidates, line) {
			line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		}
		if line == "" || !slices.Contains(candidates, line) {
			continue
		}
		name := locations.CleanName(line)
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (p *SaveProcessor) copyCombatLogs(root string, files []string) ([]string, error) {
	var copied []string
	var errs []error
	for _, rel := range files {
		name := filepath.Base(rel)
		if !isCombatLog(name) {
			continue
		}
		if err := os.MkdirAll(p.CombatLogDir, 0o755); err != nil {
			return copied, err
		}
		dst := filepath.Join(p.CombatLogDir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(root, filepath.FromSlash(rel)), dst); err != nil {
			errs = append(errs, err)
			continue
		}
		copied = append(copied, name)
	}
	return copied, errors.Join(errs...)
}

func isCombatLog(name string) bool {
	return strings.HasPrefix(name, combatLogPrefix) && strings.HasSuffix(name, combatLogExt)
}

func (p *SaveProcessor) filesListPath() string {
	return filepath.Join(p.SavesDir, filesListName)
}

func (p *SaveProcessor) loadFilesList() ([]string, error) {
	data, err := os.ReadFile(p.filesListPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filesListName, err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		p.logger().Warn("files list unreadable, starting fresh", "error", err)
		return nil, nil
	}
	return list, nil
}

func (p *SaveProcessor) saveFilesList(list []string) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := state.WriteFileAtomic(p.filesListPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filesListName, err)
	}
	return nil
}

// diffFiles returns the entries of current that are not in known.
func diffFiles(current, known []string) []string {
	seen := make(map[string]bool, len(known))
	for _, k := range known {
		seen[k] = true
	}
	var out []string
	for _, c := range current {
		if !seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// mergeFiles is the sorted union of both lists. Files that vanished from
// the latest save stay known.
func mergeFiles(current, known []string) []string {
	set := make(map[string]bool, len(current)+len(known))
	for _, f := range current {
		set[f] = true
	}
	for _, f := range known {
		set[f] = true
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// listFiles returns every regular file under root as a slash-separated
// relative path, sorted.
func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

func extractZip(zipPath, dst string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dst, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("entry %q escapes archive root", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
