package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Crew is the crew_details.json record: an arbitrary JSON object that the
// model rewrites as the story progresses.
type Crew struct {
	raw []byte
}

func NewCrew() *Crew { return &Crew{raw: []byte("{}")} }

// ParseCrew validates data as a JSON object.
func ParseCrew(data []byte) (*Crew, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return NewCrew(), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, errors.New("state: invalid crew JSON")
	}
	if !gjson.Parse(trimmed).IsObject() {
		return nil, ErrNotObject
	}
	return &Crew{raw: []byte(trimmed)}, nil
}

func LoadCrew(path string) (*Crew, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: read crew: %w", err)
	}
	c, err := ParseCrew(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Bytes returns the record indented for writing to disk and for prompts.
func (c *Crew) Bytes() []byte {
	return pretty.PrettyOptions(c.raw, &pretty.Options{Width: 80, Indent: "  "})
}

// Excerpt returns at most n bytes of the indented record, cut on a rune
// boundary.
func (c *Crew) Excerpt(n int) string {
	s := string(c.Bytes())
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
