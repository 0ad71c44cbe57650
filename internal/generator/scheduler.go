package generator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/vignette/internal/output"
	"github.com/kalambet/vignette/internal/trigger"
)

// Scheduler checks the trigger on every tick and runs a cycle when it
// fires. Cycle errors are logged and the loop keeps going.
type Scheduler struct {
	Generator *Generator
	Trigger   *trigger.Evaluator
	Poll      time.Duration
	Sweeper   *output.Sweeper
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run ticks immediately and then every Poll until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	poll := s.Poll
	if poll <= 0 {
		poll = time.Minute
	}
	s.logger().Info("vignette scheduler started", "poll", poll, "interval", s.Trigger.Interval)
	s.sweep()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger().Info("vignette scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick evaluates the trigger once and runs a cycle if it fires. It returns
// the decision and whether a cycle was committed.
func (s *Scheduler) Tick(ctx context.Context) (trigger.Decision, bool) {
	log := s.logger()
	d, err := s.Trigger.Evaluate(ctx, s.now())
	if err != nil {
		log.Error("trigger check failed", "error", err)
		return d, false
	}
	if !d.Fire {
		log.Debug("no generation needed", "reason", d.Reason, "remaining", d.Remaining.Round(time.Second))
		return d, false
	}

	log.Info("generation triggered", "reason", d.Reason, "changed", d.ChangedFile)
	_, err = s.Generator.RunCycle(ctx, TriggerScheduled, d.Reason)
	switch {
	case errors.Is(err, ErrBusy):
		log.Info("cycle already running, skipping tick")
		return d, false
	case err != nil:
		// RunCycle has logged the failure; the next tick retries.
		return d, false
	}
	s.sweep()
	return d, true
}

func (s *Scheduler) sweep() {
	if s.Sweeper == nil {
		return
	}
	if _, err := s.Sweeper.Sweep(s.now()); err != nil {
		s.logger().Warn("retention sweep incomplete", "error", err)
	}
}
