package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const cycleColumns = `id, trigger_kind, reason, status, model, started_at, finished_at, vignette_path, summary_path, error`

// StartCycle records a generation attempt as running.
func (s *Store) StartCycle(c Cycle) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO cycles (id, trigger_kind, reason, status, model, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Trigger, c.Reason, CycleRunning, c.Model, formatTime(c.StartedAt),
	)
	return err
}

// FinishCycle stores the outcome of a cycle started with StartCycle. A
// non-empty errMsg marks it failed.
func (s *Store) FinishCycle(id string, finishedAt time.Time, vignettePath, summaryPath, errMsg string) error {
	status := CycleSucceeded
	if errMsg != "" {
		status = CycleFailed
	}
	return affectedOne(s.db.Exec(`
		UPDATE cycles SET status = ?, finished_at = ?, vignette_path = ?, summary_path = ?, error = ?
		WHERE id = ?`,
		status, formatTime(finishedAt), vignettePath, summaryPath, errMsg, id,
	))
}

func (s *Store) GetCycle(id string) (Cycle, error) {
	c, err := scanCycle(s.db.QueryRow(`SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Cycle{}, ErrNotFound
	}
	return c, err
}

// RecentCycles returns up to limit cycles, most recently started first.
func (s *Store) RecentCycles(limit int) ([]Cycle, error) {
	rows, err := s.db.Query(`SELECT `+cycleColumns+` FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// AbandonRunningCycles marks cycles left running by a crashed process as
// failed. It returns how many were updated.
func (s *Store) AbandonRunningCycles(now time.Time) (int, error) {
	return affected(s.db.Exec(`UPDATE cycles SET status = ?, finished_at = ?, error = 'abandoned' WHERE status = ?`,
		CycleFailed, formatTime(now), CycleRunning))
}

func scanCycle(r rowScanner) (Cycle, error) {
	var c Cycle
	var startedAt string
	var finishedAt sql.NullString
	if err := r.Scan(&c.ID, &c.Trigger, &c.Reason, &c.Status, &c.Model, &startedAt, &finishedAt, &c.VignettePath, &c.SummaryPath, &c.Error); err != nil {
		return Cycle{}, err
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return Cycle{}, fmt.Errorf("parsing started_at: %w", err)
	}
	c.StartedAt = t
	if finishedAt.Valid && finishedAt.String != "" {
		if c.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return Cycle{}, fmt.Errorf("parsing finished_at: %w", err)
		}
	}
	return c, nil
}
