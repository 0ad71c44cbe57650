// Package generator runs generation cycles: collect inputs, make the three
// model calls and commit the results.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vignette/internal/collector"
	"github.com/kalambet/vignette/internal/output"
	"github.com/kalambet/vignette/internal/pipeline"
	"github.com/kalambet/vignette/internal/storage"
)

var (
	// ErrBusy is returned when a cycle is requested while another one runs.
	ErrBusy = errors.New("generator: a cycle is already running")

	ErrMissingInput = errors.New("generator: base vignette and user message are required")
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// History records cycle attempts. It is informational; a failing history
// never fails a cycle.
type History interface {
	StartCycle(c storage.Cycle) error
	FinishCycle(id string, finishedAt time.Time, vignettePath, summaryPath, errMsg string) error
}

type Options struct {
	Collector *collector.Collector
	Pipeline  *pipeline.Pipeline
	Writer    *output.Writer
	History   History
	Logger    *slog.Logger
	Now       func() time.Time
}

type Generator struct {
	collector *collector.Collector
	pipeline  *pipeline.Pipeline
	writer    *output.Writer
	history   History
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running atomic.Bool
}

func New(opts Options) *Generator {
	g := &Generator{
		collector: opts.Collector,
		pipeline:  opts.Pipeline,
		writer:    opts.Writer,
		history:   opts.History,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Outcome describes a committed cycle.
type Outcome struct {
	CycleID   string
	Trigger   string
	Reason    string
	Artifacts output.Artifacts
	Result    *pipeline.Result
}

// Running reports whether a cycle is in progress.
func (g *Generator) Running() bool { return g.running.Load() }

// RunCycle performs one full generation cycle. Nothing is persisted unless
// all three model calls succeed; see output.Writer.Commit for the write
// ordering. It returns ErrBusy without waiting if a cycle is running.
func (g *Generator) RunCycle(ctx context.Context, trigger, reason string) (*Outcome, error) {
	if !g.mu.TryLock() {
		return nil, ErrBusy
	}
	defer g.mu.Unlock()
	g.running.Store(true)
	defer g.running.Store(false)

	startedAt := g.now()
	out := &Outcome{CycleID: uuid.NewString(), Trigger: trigger, Reason: reason}
	log := g.logger.With("cycle", out.CycleID)
	log.Info("starting vignette generation cycle", "trigger", trigger, "reason", reason)

	if g.history != nil {
		if err := g.history.StartCycle(storage.Cycle{
			ID:        out.CycleID,
			Trigger:   trigger,
			Reason:    reason,
			Model:     g.pipeline.Settings().Model,
			StartedAt: startedAt,
		}); err != nil {
			log.Warn("recording cycle start failed", "error", err)
		}
	}

	err := g.run(ctx, out, startedAt)
	g.finish(log, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Generator) run(ctx context.Context, out *Outcome, startedAt time.Time) error {
	snap, err := g.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting inputs: %w", err)
	}

	res, err := g.pipeline.Run(ctx, snap)
	if err != nil {
		return err
	}
	out.Result = res

	art, err := g.writer.Commit(output.Cycle{
		ID:        out.CycleID,
		Trigger:   out.Trigger,
		StartedAt: startedAt,
		Vignette:  res.Vignette,
		Summary:   res.Summary,
		Themes:    res.Themes,
		GameState: snap.GameState,
		Crew:      res.Crew,
	})
	if err != nil {
		return err
	}
	out.Artifacts = art
	return nil
}

func (g *Generator) finish(log *slog.Logger, out *Outcome, err error) {
	if err != nil {
		log.Error("vignette generation cycle failed", "error", err)
	} else {
		log.Info("vignette generation cycle completed",
			"vignette", out.Artifacts.VignettePath,
			"crew_updated", out.Result.CrewUpdated,
			"llm_duration", out.Result.Duration.Round(time.Millisecond),
		)
	}
	if g.history == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if herr := g.history.FinishCycle(out.CycleID, g.now(), out.Artifacts.VignettePath, out.Artifacts.SummaryPath, msg); herr != nil {
		log.Warn("recording cycle result failed", "error", herr)
	}
}

// ContinueRequest asks for a player-directed continuation of a saved
// vignette. BaseContent wins over BaseName when both are set.
type ContinueRequest struct {
	BaseName    string
	BaseContent string
	UserMessage string
}

// Continue writes an interactive continuation. It reads the game state but
// never changes it, so it does not take the cycle lock.
func (g *Generator) Continue(ctx context.Context, req ContinueRequest) (output.Artifacts, *pipeline.Continuation, error) {
	if req.UserMessage == "" || (req.BaseName == "" && req.BaseContent == "") {
		return output.Artifacts{}, nil, ErrMissingInput
	}
	base := req.BaseContent
	if base == "" {
		v, err := output.ReadVignette(g.writer.OutputDir, req.BaseName)
		if err != nil {
			return output.Artifacts{}, nil, err
		}
		base = v.Content
	}

	snap, err := g.collector.Collect(ctx)
	if err != nil {
		return output.Artifacts{}, nil, fmt.Errorf("collecting inputs: %w", err)
	}
	cont, err := g.pipeline.Continue(ctx, snap, output.Body(base), req.UserMessage)
	if err != nil {
		return output.Artifacts{}, nil, err
	}
	art, err := g.writer.WriteInteractive(output.Interactive{
		Vignette:   cont.Vignette,
		Summary:    cont.Summary,
		UserPrompt: req.UserMessage,
		BaseName:   req.BaseName,
		Party:      snap.GameState.ActiveMembers(),
	})
	if err != nil {
		return output.Artifacts{}, nil, err
	}
	return art, cont, nil
}
