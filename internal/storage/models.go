package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Cycle statuses.
const (
	CycleRunning   = "running"
	CycleSucceeded = "succeeded"
	CycleFailed    = "failed"
)

// Cycle is one generation attempt. The execution marker on disk stays the
// source of truth for scheduling; this table is history for the dashboard.
type Cycle struct {
	ID           string
	Trigger      string // "scheduled" or "manual"
	Reason       string
	Status       string
	Model        string
	StartedAt    time.Time
	FinishedAt   time.Time
	VignettePath string
	SummaryPath  string
	Error        string
}

func (c Cycle) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
