package api

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kalambet/vignette/internal/collector"
	"github.com/kalambet/vignette/internal/generator"
	"github.com/kalambet/vignette/internal/output"
	"github.com/kalambet/vignette/internal/pipeline"
	"github.com/kalambet/vignette/internal/state"
	"github.com/kalambet/vignette/internal/storage"
	"github.com/kalambet/vignette/internal/trigger"
)

//go:embed web/index.html
var indexHTML []byte

// Generator is the part of generator.Generator the dashboard drives.
type Generator interface {
	RunCycle(ctx context.Context, trigger, reason string) (*generator.Outcome, error)
	Continue(ctx context.Context, req generator.ContinueRequest) (output.Artifacts, *pipeline.Continuation, error)
	Running() bool
}

// TriggerEvaluator reports whether the scheduler would generate now.
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, now time.Time) (trigger.Decision, error)
}

// CycleHistory lists past generation cycles.
type CycleHistory interface {
	RecentCycles(limit int) ([]storage.Cycle, error)
}

type DashboardDeps struct {
	Generator    Generator
	Trigger      TriggerEvaluator // optional
	History      CycleHistory     // optional
	OutputDir    string
	CombatLogDir string
	MarkerPath   string
	Interval     time.Duration
	Token        string
	Logger       *slog.Logger
}

// NewDashboardHandler serves the web dashboard and its JSON API.
func NewDashboardHandler(deps DashboardDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	r := chi.NewRouter()
	r.Use(CORS(deps.Token))

	r.Get("/", handleIndex)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/api/status", handleStatus(deps))
		r.Get("/api/cycles", handleListCycles(deps))
		r.Get("/api/combat-logs", handleCombatLogs(deps))
		r.Get("/api/vignettes", handleListVignettes(deps))
		r.Get("/api/vignettes/{name}", handleGetVignette(deps, md))
		r.Post("/api/generate-interactive", handleGenerateInteractive(deps))
		r.Post("/api/trigger-generation", handleTriggerGeneration(deps))
	})

	return r
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

type vignetteJSON struct {
	Name          string `json:"name"`
	Timestamp     string `json:"timestamp"`
	Theme         string `json:"theme"`
	PartyMembers  string `json:"partyMembers,omitempty"`
	Model         string `json:"model,omitempty"`
	UserPrompt    string `json:"userPrompt,omitempty"`
	BasedOn       string `json:"basedOn,omitempty"`
	IsInteractive bool   `json:"isInteractive"`
	Content       string `json:"content"`
	Summary       string `json:"summary,omitempty"`
	HTML          string `json:"html,omitempty"`
	FilePath      string `json:"file_path"`
}

func toVignetteJSON(v output.Vignette) vignetteJSON {
	ts := v.Metadata.Generated
	if ts == "" {
		ts = v.ModTime.Format(time.RFC3339)
	}
	theme := v.Metadata.Theme
	if theme == "" {
		theme = "Story Vignette"
	}
	return vignetteJSON{
		Name:          v.Name,
		Timestamp:     ts,
		Theme:         theme,
		PartyMembers:  v.Metadata.PartyMembers,
		Model:         v.Metadata.Model,
		UserPrompt:    v.Metadata.UserPrompt,
		BasedOn:       v.Metadata.BasedOn,
		IsInteractive: v.Interactive,
		Content:       v.Content,
		FilePath:      v.Path,
	}
}

func handleListVignettes(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vs, err := output.ListVignettes(deps.OutputDir)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list vignettes: %v", err)
			return
		}
		limit := parseIntParam(r, "limit", 0, 500)
		if limit > 0 && len(vs) > limit {
			vs = vs[:limit]
		}
		out := make([]vignetteJSON, len(vs))
		for i, v := range vs {
			out[i] = toVignetteJSON(v)
		}
		writeData(w, http.StatusOK, out)
	}
}

func handleGetVignette(deps DashboardDeps, md goldmark.Markdown) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		v, err := output.ReadVignette(deps.OutputDir, name)
		switch {
		case errors.Is(err, output.ErrUnsafeName):
			httpError(w, http.StatusBadRequest, "invalid vignette name")
			return
		case errors.Is(err, fs.ErrNotExist):
			httpError(w, http.StatusNotFound, "vignette not found")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "failed to read vignette: %v", err)
			return
		}

		var buf bytes.Buffer
		if err := md.Convert([]byte(v.Content), &buf); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to render vignette: %v", err)
			return
		}
		out := toVignetteJSON(v)
		out.HTML = buf.String()
		writeData(w, http.StatusOK, out)
	}
}

func handleCombatLogs(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := collector.ListCombatSummaries(deps.CombatLogDir)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list combat logs: %v", err)
			return
		}
		if logs == nil {
			logs = []collector.SummaryFile{}
		}
		writeData(w, http.StatusOK, logs)
	}
}

// baseVignette accepts either a vignette file name or an object carrying
// the name and content, as the dashboard page sends.
type baseVignette struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (b *baseVignette) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Name)
	}
	type plain baseVignette
	return json.Unmarshal(data, (*plain)(b))
}

type interactiveRequest struct {
	BaseVignette *baseVignette `json:"baseVignette"`
	UserMessage  string        `json:"userMessage"`
}

func handleGenerateInteractive(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req interactiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.BaseVignette == nil || req.UserMessage == "" {
			httpError(w, http.StatusBadRequest, "Missing baseVignette or userMessage")
			return
		}
		if req.BaseVignette.Name != "" && !output.SafeName(req.BaseVignette.Name) {
			httpError(w, http.StatusBadRequest, "invalid vignette name")
			return
		}

		ctx := context.WithoutCancel(r.Context())
		art, cont, err := deps.Generator.Continue(ctx, generator.ContinueRequest{
			BaseName:    req.BaseVignette.Name,
			BaseContent: req.BaseVignette.Content,
			UserMessage: req.UserMessage,
		})
		switch {
		case errors.Is(err, generator.ErrMissingInput):
			httpError(w, http.StatusBadRequest, "Missing baseVignette or userMessage")
			return
		case errors.Is(err, fs.ErrNotExist):
			httpError(w, http.StatusNotFound, "base vignette not found")
			return
		case err != nil:
			deps.Logger.Error("interactive generation failed", "error", err)
			httpError(w, http.StatusBadGateway, "interactive generation failed: %v", err)
			return
		}

		v, err := output.ReadVignette(deps.OutputDir, filepathBase(art.VignettePath))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "vignette saved but could not be read back: %v", err)
			return
		}
		out := toVignetteJSON(v)
		out.Summary = cont.Summary
		writeData(w, http.StatusOK, out)
	}
}

func handleTriggerGeneration(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A closed browser tab must not abort a cycle halfway.
		ctx := context.WithoutCancel(r.Context())
		out, err := deps.Generator.RunCycle(ctx, generator.TriggerManual, "dashboard request")
		switch {
		case errors.Is(err, generator.ErrBusy):
			httpError(w, http.StatusConflict, "a generation cycle is already running")
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "Failed to generate vignette: %v", err)
			return
		}
		writeMessage(w, http.StatusOK, "Vignette generated successfully", map[string]any{
			"cycle_id":       out.CycleID,
			"vignette":       filepathBase(out.Artifacts.VignettePath),
			"summary":        filepathBase(out.Artifacts.SummaryPath),
			"marker_version": out.Artifacts.Marker.Version,
		})
	}
}

type cycleJSON struct {
	ID         string  `json:"id"`
	Trigger    string  `json:"trigger"`
	Reason     string  `json:"reason,omitempty"`
	Status     string  `json:"status"`
	Model      string  `json:"model,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt string  `json:"finished_at,omitempty"`
	Seconds    float64 `json:"duration_seconds,omitempty"`
	Vignette   string  `json:"vignette,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func toCycleJSON(c storage.Cycle) cycleJSON {
	out := cycleJSON{
		ID:        c.ID,
		Trigger:   c.Trigger,
		Reason:    c.Reason,
		Status:    c.Status,
		Model:     c.Model,
		StartedAt: c.StartedAt.Format(time.RFC3339),
		Seconds:   c.Duration().Seconds(),
		Vignette:  filepathBase(c.VignettePath),
		Error:     c.Error,
	}
	if !c.FinishedAt.IsZero() {
		out.FinishedAt = c.FinishedAt.Format(time.RFC3339)
	}
	return out
}

func recentCycles(deps DashboardDeps, limit int) ([]cycleJSON, error) {
	out := []cycleJSON{}
	if deps.History == nil {
		return out, nil
	}
	cycles, err := deps.History.RecentCycles(limit)
	if err != nil {
		return nil, err
	}
	for _, c := range cycles {
		out = append(out, toCycleJSON(c))
	}
	return out, nil
}

func handleListCycles(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cycles, err := recentCycles(deps, parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list cycles: %v", err)
			return
		}
		writeData(w, http.StatusOK, cycles)
	}
}

type statusJSON struct {
	Running         bool        `json:"running"`
	LastExecution   string      `json:"last_execution,omitempty"`
	MarkerVersion   int         `json:"marker_version"`
	IntervalMinutes float64     `json:"interval_minutes"`
	NextEligible    string      `json:"next_eligible,omitempty"`
	WouldGenerate   bool        `json:"would_generate"`
	Reason          string      `json:"reason,omitempty"`
	Cycles          []cycleJSON `json:"cycles"`
}

func handleStatus(deps DashboardDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		st := statusJSON{
			Running:         deps.Generator.Running(),
			IntervalMinutes: deps.Interval.Minutes(),
		}

		m, err := state.ReadMarker(deps.MarkerPath)
		switch {
		case err == nil:
			st.LastExecution = m.LastExecution.Format(time.RFC3339)
			st.MarkerVersion = m.Version
			st.NextEligible = m.LastExecution.Add(deps.Interval).Format(time.RFC3339)
		case errors.Is(err, state.ErrNoMarker), errors.Is(err, state.ErrCorruptMarker):
		default:
			httpError(w, http.StatusInternalServerError, "failed to read marker: %v", err)
			return
		}

		if deps.Trigger != nil {
			d, err := deps.Trigger.Evaluate(r.Context(), now)
			if err != nil {
				deps.Logger.Warn("trigger evaluation failed", "error", err)
			} else {
				st.WouldGenerate = d.Fire
				st.Reason = d.Reason
			}
		}

		st.Cycles, err = recentCycles(deps, 10)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list cycles: %v", err)
			return
		}
		writeData(w, http.StatusOK, st)
	}
}
