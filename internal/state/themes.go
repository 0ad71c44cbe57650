package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Themes is the catalog of scene tropes a vignette may draw on.
type Themes struct {
	SceneTropes []TropeCategory `json:"scene_tropes" yaml:"scene_tropes"`
}

type TropeCategory struct {
	Category string  `json:"category" yaml:"category"`
	Details  []Trope `json:"details" yaml:"details"`
}

type Trope struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// Flat is a trope together with its category.
type Flat struct {
	Category    string
	Title       string
	Description string
}

// Flatten lists every trope with missing fields filled in.
func (t Themes) Flatten() []Flat {
	var out []Flat
	for _, c := range t.SceneTropes {
		cat := c.Category
		if cat == "" {
			cat = "Unknown Category"
		}
		for _, d := range c.Details {
			title := d.Title
			if title == "" {
				title = "Untitled"
			}
			out = append(out, Flat{Category: cat, Title: title, Description: d.Description})
		}
	}
	return out
}

// LoadThemes reads a theme catalog. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func LoadThemes(path string) (Themes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Themes{}, fmt.Errorf("state: read themes: %w", err)
	}
	var t Themes
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &t)
	default:
		err = json.Unmarshal(data, &t)
	}
	if err != nil {
		return Themes{}, fmt.Errorf("state: parse themes %s: %w", path, err)
	}
	return t, nil
}
