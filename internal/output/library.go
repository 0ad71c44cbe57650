package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrUnsafeName is returned for vignette names that would escape the
// output folder.
var ErrUnsafeName = errors.New("unsafe vignette name")

// Vignette is a saved vignette file with its parsed header.
type Vignette struct {
	Name        string
	Path        string
	ModTime     time.Time
	Interactive bool
	Metadata    Metadata
	Content     string
}

// ListVignettes returns the Markdown files in dir, newest first. A missing
// folder yields an empty list.
func ListVignettes(dir string) ([]Vignette, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("output: list %s: %w", dir, err)
	}
	var out []Vignette
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		v, err := readVignette(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// ReadVignette loads one vignette by file name.
func ReadVignette(dir, name string) (Vignette, error) {
	if !SafeName(name) {
		return Vignette{}, fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	v, err := readVignette(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return Vignette{}, err
	}
	if err != nil {
		return Vignette{}, fmt.Errorf("output: %w", err)
	}
	return v, nil
}

// SafeName reports whether name is a plain file name.
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

func readVignette(path string) (Vignette, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Vignette{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Vignette{}, err
	}
	content := string(data)
	name := filepath.Base(path)
	return Vignette{
		Name:        name,
		Path:        path,
		ModTime:     info.ModTime(),
		Interactive: strings.HasPrefix(name, "interactive_"),
		Metadata:    ParseMetadata(content),
		Content:     content,
	}, nil
}
