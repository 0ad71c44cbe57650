package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vignette/internal/api"
	"github.com/kalambet/vignette/internal/collector"
	"github.com/kalambet/vignette/internal/composer"
	"github.com/kalambet/vignette/internal/config"
	"github.com/kalambet/vignette/internal/generator"
	"github.com/kalambet/vignette/internal/ingest"
	"github.com/kalambet/vignette/internal/llm"
	"github.com/kalambet/vignette/internal/logging"
	"github.com/kalambet/vignette/internal/output"
	"github.com/kalambet/vignette/internal/pipeline"
	"github.com/kalambet/vignette/internal/storage"
	"github.com/kalambet/vignette/internal/trigger"
)

// app holds the components shared by the long-running commands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	logs    io.Closer
	store   *storage.Store
	gen     *generator.Generator
	trigger *trigger.Evaluator
	sweeper *output.Sweeper
	saves   *ingest.SaveProcessor
	combat  *ingest.CombatSummarizer
}

// openApp loads config, sets up logging and opens storage. Model-backed
// components are built only when withLLM is set, so read-only commands work
// without an API key.
func openApp(withLLM bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logs, err := logging.Setup(cfg.Paths.Logs, cfg.Log.Level, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		logs:   logs,
		trigger: &trigger.Evaluator{
			MarkerPath: cfg.MarkerPath(),
			InputDir:   cfg.Paths.Input,
			Interval:   cfg.Interval(),
			Exclude:    []string{cfg.Paths.GameState, cfg.Paths.Crew},
			Logger:     logger,
		},
		sweeper: &output.Sweeper{
			Dirs: []output.SweepDir{
				{Path: cfg.Paths.Output, Pattern: "*.md"},
				{Path: cfg.SummariesDir(), Pattern: "*.txt"},
			},
			Retention: cfg.Retention(),
			Logger:    logger,
		},
	}

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	if !withLLM {
		return a, nil
	}
	if err := cfg.ValidateLLM(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildGeneration(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildGeneration() error {
	cfg := a.cfg
	client, err := llm.NewOpenAI(llm.Settings{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLMTimeout(),
	})
	if err != nil {
		return err
	}

	pipe := pipeline.New(client, composer.New(0, nil), pipeline.Settings{
		Model:               cfg.LLM.Model,
		Temperature:         cfg.LLM.Temperature,
		MaxTokensVignette:   cfg.LLM.MaxTokensVignette,
		MaxTokensSummary:    cfg.LLM.MaxTokensSummary,
		MaxTokensCrewUpdate: cfg.LLM.MaxTokensCrewUpdate,
	}, a.logger)

	a.gen = generator.New(generator.Options{
		Collector: &collector.Collector{
			Paths: collector.Paths{
				GameState:  cfg.Paths.GameState,
				Crew:       cfg.Paths.Crew,
				Themes:     cfg.Paths.Themes,
				Quests:     cfg.Paths.Quests,
				CombatLogs: cfg.Paths.CombatLogs,
				Saves:      cfg.Paths.Saves,
			},
			MaxSummaryChars: cfg.Collector.CombatSummaryMaxChars,
			Logger:          a.logger,
		},
		Pipeline: pipe,
		Writer: &output.Writer{
			OutputDir:     cfg.Paths.Output,
			SummariesDir:  cfg.SummariesDir(),
			GameStatePath: cfg.Paths.GameState,
			CrewPath:      cfg.Paths.Crew,
			MarkerPath:    cfg.MarkerPath(),
			Model:         cfg.LLM.Model,
			Logger:        a.logger,
		},
		History: a.store,
		Logger:  a.logger,
	})

	a.saves = &ingest.SaveProcessor{
		SavesDir:     cfg.Paths.Saves,
		CombatLogDir: cfg.Paths.CombatLogs,
		LLM:          client,
		Logger:       a.logger,
	}
	a.combat = &ingest.CombatSummarizer{
		Dir:    cfg.Paths.CombatLogs,
		LLM:    client,
		Logger: a.logger,
	}
	return nil
}

// recoverInterrupted marks work interrupted by a previous crash so it is neither
// reported as running nor left unclaimed.
func (a *app) recoverInterrupted() {
	if n, err := a.store.AbandonRunningCycles(time.Now()); err != nil {
		a.logger.Warn("could not close interrupted cycles", "error", err)
	} else if n > 0 {
		a.logger.Info("closed interrupted cycles", "count", n)
	}
	if n, err := a.store.ResetRunningJobs(); err != nil {
		a.logger.Warn("could not reset interrupted jobs", "error", err)
	} else if n > 0 {
		a.logger.Info("requeued interrupted jobs", "count", n)
	}
}

func (a *app) scheduler() *generator.Scheduler {
	return &generator.Scheduler{
		Generator: a.gen,
		Trigger:   a.trigger,
		Poll:      a.cfg.PollInterval(),
		Sweeper:   a.sweeper,
		Logger:    a.logger,
	}
}

func (a *app) worker() *ingest.Worker {
	return ingest.NewWorker(a.store, a.saves, a.combat, 500*time.Millisecond).WithLogger(a.logger)
}

// watcher returns nil when no game save folder is configured.
func (a *app) watcher() *ingest.Watcher {
	if a.cfg.Paths.GameSaves == "" {
		return nil
	}
	return &ingest.Watcher{
		Dir:     a.cfg.Paths.GameSaves,
		Enqueue: func(path string) error { return ingest.EnqueueSave(a.store, path) },
		Logger:  a.logger,
	}
}

func (a *app) dashboard() http.Handler {
	return api.NewDashboardHandler(api.DashboardDeps{
		Generator:    a.gen,
		Trigger:      a.trigger,
		History:      a.store,
		OutputDir:    a.cfg.Paths.Output,
		CombatLogDir: a.cfg.Paths.CombatLogs,
		MarkerPath:   a.cfg.MarkerPath(),
		Interval:     a.cfg.Interval(),
		Token:        a.cfg.Server.Token,
		Logger:       a.logger,
	})
}

func (a *app) mcpServer() *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Generator:     a.gen,
		OutputDir:     a.cfg.Paths.Output,
		GameStatePath: a.cfg.Paths.GameState,
		CrewPath:      a.cfg.Paths.Crew,
	}, version)
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
