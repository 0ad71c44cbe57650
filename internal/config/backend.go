package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/kalambet/vignette/internal/state"
)

// ConfigBackend abstracts where persisted config values live.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	Set(key string, val any) error
}

// fileBackend edits Config/config.json in place. Keys it does not know
// about and the order of existing keys survive a write.
type fileBackend struct {
	path string
	doc  []byte
}

func openFileBackend(path string) (*fileBackend, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "[WARN] config file %s not found. Using default values.\n", path)
		data = []byte("{}")
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		data = []byte("{}")
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("config: parse %s: not a JSON object", path)
	}
	return &fileBackend{path: path, doc: data}, nil
}

// keyPath escapes gjson path syntax so a key is always a single member name.
func keyPath(key string) string {
	var sb strings.Builder
	for _, r := range key {
		if strings.ContainsRune(`.*?|#@\!=<>%:`, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *fileBackend) lookup(key string) (gjson.Result, bool) {
	r := gjson.GetBytes(b.doc, keyPath(key))
	return r, r.Exists() && r.Type != gjson.Null
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	r, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	return r.String(), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	r, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch r.Type {
	case gjson.Number:
		if r.Num < math.MinInt || r.Num > math.MaxInt || r.Num != math.Trunc(r.Num) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", r.Num, key)
		}
		return int(r.Num), true, nil
	case gjson.String:
		i, err := strconv.Atoi(strings.TrimSpace(r.Str))
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s: %s", key, r.Type)
	}
}

// Set stores val under key and rewrites the file.
func (b *fileBackend) Set(key string, val any) error {
	doc, err := sjson.SetBytes(b.doc, keyPath(key), val)
	if err != nil {
		return fmt.Errorf("config: set %s: %w", key, err)
	}
	b.doc = doc
	return state.WriteFileAtomic(b.path, pretty.Pretty(b.doc), 0o600)
}
