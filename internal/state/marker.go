package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

var (
	ErrNoMarker      = errors.New("state: no execution marker")
	ErrCorruptMarker = errors.New("state: corrupt execution marker")
)

// naiveISO is the zone-less timestamp layout older marker files carry.
const naiveISO = "2006-01-02T15:04:05.999999999"

// Marker records the last successful generation cycle.
type Marker struct {
	LastExecution time.Time
	Version       int
	CycleID       string
}

type markerFile struct {
	LastExecutionTime string `json:"last_execution_time"`
	Version           int    `json:"version,omitempty"`
	CycleID           string `json:"cycle_id,omitempty"`
}

func (m Marker) MarshalJSON() ([]byte, error) {
	return json.Marshal(markerFile{
		LastExecutionTime: m.LastExecution.Format(time.RFC3339Nano),
		Version:           m.Version,
		CycleID:           m.CycleID,
	})
}

func (m *Marker) UnmarshalJSON(data []byte) error {
	var f markerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	t, err := parseMarkerTime(f.LastExecutionTime)
	if err != nil {
		return err
	}
	*m = Marker{LastExecution: t, Version: f.Version, CycleID: f.CycleID}
	return nil
}

func parseMarkerTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty last_execution_time")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(naiveISO, s, time.Local)
}

// ReadMarker loads the marker at path. A missing file yields ErrNoMarker and
// an unreadable one ErrCorruptMarker.
func ReadMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Marker{}, ErrNoMarker
		}
		return Marker{}, fmt.Errorf("state: read marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("%w: %v", ErrCorruptMarker, err)
	}
	return m, nil
}

// Next returns the marker that follows m for a cycle finishing at now. The
// timestamp is always strictly later than m's.
func (m Marker) Next(now time.Time, cycleID string) Marker {
	ts := now.Round(0)
	if !ts.After(m.LastExecution) {
		ts = m.LastExecution.Add(time.Microsecond)
	}
	return Marker{LastExecution: ts, Version: m.Version + 1, CycleID: cycleID}
}

// WriteMarker atomically replaces the marker at path.
func WriteMarker(path string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode marker: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}
