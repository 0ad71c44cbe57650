// Package ingest turns game saves and raw combat logs into the inputs the
// generator reads: location files and combat summaries.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vignette/internal/storage"
)

const (
	JobProcessSave        = "process_save"
	JobSummarizeCombatLog = "summarize_combat_log"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Worker processes ingestion jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	saves  *SaveProcessor
	combat *CombatSummarizer
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, saves *SaveProcessor, combat *CombatSummarizer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		saves:  saves,
		combat: combat,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for job outcomes.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	if l != nil {
		w.logger = l
	}
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobProcessSave, JobSummarizeCombatLog})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type pathPayload struct {
	Path string `json:"path"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload pathPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Path == "" {
		return fmt.Errorf("payload has no path")
	}

	switch job.Type {
	case JobProcessSave:
		if _, err := w.saves.Process(ctx, payload.Path); err != nil {
			return err
		}
		_, err := EnqueuePendingCombatLogs(w.store, w.combat)
		return err
	case JobSummarizeCombatLog:
		_, err := w.combat.Summarize(ctx, payload.Path)
		return err
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// EnqueueSave queues a save file for processing.
func EnqueueSave(store JobStore, path string) error {
	return enqueue(store, JobProcessSave, path)
}

// EnqueuePendingCombatLogs queues a summary job for every combat log that
// has no summary yet and returns how many were queued.
func EnqueuePendingCombatLogs(store JobStore, s *CombatSummarizer) (int, error) {
	pending, err := s.Pending()
	if err != nil {
		return 0, fmt.Errorf("listing combat logs: %w", err)
	}
	for i, p := range pending {
		if err := enqueue(store, JobSummarizeCombatLog, p); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func enqueue(store JobStore, typ, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(pathPayload{Path: abs})
	if err != nil {
		return err
	}
	if err := store.EnqueueJob(storage.Job{ID: uuid.NewString(), Type: typ, PayloadJSON: string(payload)}); err != nil {
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}
	return nil
}
