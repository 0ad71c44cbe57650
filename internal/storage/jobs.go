package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const (
	defaultMaxAttempts = 3
	maxRetryDelay      = 10 * time.Minute
)

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

// retryDelay is the wait before attempt n+1 after n failed attempts.
func retryDelay(attempts int) time.Duration {
	if attempts > 9 {
		return maxRetryDelay
	}
	return min(time.Second<<attempts, maxRetryDelay)
}

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, job.MaxAttempts,
		formatTime(job.RunAfter), formatTime(now), formatTime(now),
	)
	return err
}

// ClaimNextJob marks the oldest due pending job of one of the given types as
// running and returns it, or nil when none is due. The select and update run
// as one statement, so two workers never claim the same job.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := formatTime(time.Now())

	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}
	query := `UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	return affectedOne(s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, formatTime(time.Now()), id))
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff until it runs out of attempts, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}
	now := time.Now()
	attempts := j.Attempts + 1

	status, runAfter := JobPending, now.Add(retryDelay(attempts))
	if attempts >= j.MaxAttempts {
		status, runAfter = JobFailed, j.RunAfter
	}
	return affectedOne(s.db.Exec(`
		UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ?
		WHERE id = ? AND attempts = ?`,
		status, attempts, errMsg, formatTime(runAfter), formatTime(now), id, j.Attempts,
	))
}

// PendingJobs counts jobs of the given type that are waiting or running.
func (s *Store) PendingJobs(jobType string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE type = ? AND status IN (?, ?)`,
		jobType, JobPending, JobRunning).Scan(&n)
	return n, err
}

// ResetRunningJobs returns jobs stuck in running (after a crash) to pending.
func (s *Store) ResetRunningJobs() (int, error) {
	return affected(s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, formatTime(time.Now()), JobRunning))
}

func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns up to limit jobs of any type, most recently updated first.
func (s *Store) ListJobs(limit int) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ReleaseJob makes a job claimable immediately.
func (s *Store) ReleaseJob(id string) error {
	return affectedOne(s.db.Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, formatTime(time.Now()), id))
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := r.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String

	var err error
	for _, f := range []struct {
		dst  *time.Time
		src  string
		name string
	}{
		{&j.RunAfter, runAfter, "run_after"},
		{&j.CreatedAt, createdAt, "created_at"},
		{&j.UpdatedAt, updatedAt, "updated_at"},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return Job{}, fmt.Errorf("parsing %s for job %s: %w", f.name, j.ID, err)
		}
	}
	return j, nil
}
