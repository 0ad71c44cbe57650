package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vignette/internal/config"
	"github.com/kalambet/vignette/internal/ingest"
	"github.com/kalambet/vignette/internal/state"
)

// --- trigger ---

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running dashboard to generate a vignette now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Requesting a generation cycle...")
		resp, err := client.post(cmd.Context(), "/api/trigger-generation", nil)
		if err != nil {
			return err
		}

		var result struct {
			CycleID       string `json:"cycle_id"`
			Vignette      string `json:"vignette"`
			Summary       string `json:"summary"`
			MarkerVersion int    `json:"marker_version"`
		}
		msg, err := decodeData(resp, &result)
		if err != nil {
			return err
		}

		printSuccess("%s", msg)
		printStatus("Vignette", "%s", result.Vignette)
		printStatus("Cycle", "%s", result.CycleID)
		printStatus("Marker", "version %d", result.MarkerVersion)
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schedule and service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

type remoteStatus struct {
	Running       bool   `json:"running"`
	WouldGenerate bool   `json:"would_generate"`
	Reason        string `json:"reason"`
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	now := time.Now()

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	resp, err := client.get(ctx, "/api/status")
	if err != nil {
		printStatus("Service", "stopped")
	} else {
		var st remoteStatus
		if _, err := decodeData(resp, &st); err != nil {
			printStatus("Service", "running on %s (%v)", cfg.Server.Addr, err)
		} else {
			busy := "idle"
			if st.Running {
				busy = colorize(colorYellow, "generating")
			}
			printStatus("Service", "running on %s, %s", cfg.Server.Addr, busy)
		}
	}

	m, err := state.ReadMarker(cfg.MarkerPath())
	switch {
	case errors.Is(err, state.ErrNoMarker):
		printStatus("Last vignette", "never")
	case errors.Is(err, state.ErrCorruptMarker):
		printStatus("Last vignette", "%s", colorize(colorRed, "marker unreadable, next tick generates"))
	case err != nil:
		return err
	default:
		printStatus("Last vignette", "%s (%s, version %d)", m.LastExecution.Local().Format("2006-01-02 15:04:05"), ago(m.LastExecution, now), m.Version)
		next := m.LastExecution.Add(cfg.Interval())
		if next.After(now) {
			printStatus("Next eligible", "%s (in %s)", next.Local().Format("15:04:05"), next.Sub(now).Round(time.Second))
		} else {
			printStatus("Next eligible", "now, once an input changes")
		}
	}

	printStatus("Interval", "%d min", cfg.Schedule.IntervalMinutes)
	printStatus("Model", "%s", cfg.LLM.Model)
	if err := cfg.ValidateLLM(); err != nil {
		printStatus("API key", "%s", colorize(colorRed, "missing"))
	}
	printStatus("Input", "%s", cfg.Paths.Input)
	printStatus("Output", "%s", cfg.Paths.Output)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- cycles ---

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List recent generation cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		cycles, err := a.store.RecentCycles(limit)
		if err != nil {
			return err
		}
		if len(cycles) == 0 {
			fmt.Println("No cycles recorded.")
			return nil
		}

		now := time.Now()
		for _, c := range cycles {
			detail := shortName(c.VignettePath)
			if c.Error != "" {
				detail = truncate(c.Error, 80)
			}
			fmt.Printf("%s  %-9s  %-9s  %-10s  %s\n",
				colorize(colorCyan, c.ID[:8]),
				colorize(statusColor(c.Status), c.Status),
				c.Trigger,
				ago(c.StartedAt, now),
				detail,
			)
		}
		return nil
	},
}

func init() {
	cyclesCmd.Flags().Int("limit", 20, "maximum number of cycles to list")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List save ingestion jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.store.ListJobs(limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		now := time.Now()
		for _, j := range jobs {
			line := fmt.Sprintf("%s  %-20s  %-9s  %d/%d  %s",
				colorize(colorCyan, j.ID[:8]),
				j.Type,
				colorize(statusColor(j.Status), j.Status),
				j.Attempts, j.MaxAttempts,
				ago(j.UpdatedAt, now),
			)
			if j.LastError != "" {
				line += "  " + truncate(j.LastError, 60)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [save-file]",
	Short: "Process a save file and summarize new combat logs",
	Long: `Process a save file and summarize new combat logs.

Without an argument only the pending combat log summaries are written.

Examples:
  vignette ingest "~/Saved Games/Pillars of Eternity II/abc123 quicksave.savegame"
  vignette ingest --queue ./autosave.savegame`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetBool("queue")

		a, err := openApp(!queue)
		if err != nil {
			return err
		}
		defer a.Close()

		if queue {
			if len(args) == 0 {
				return fmt.Errorf("--queue needs a save file")
			}
			if err := ingest.EnqueueSave(a.store, args[0]); err != nil {
				return err
			}
			printSuccess("Queued %s", args[0])
			return nil
		}

		ctx := cmd.Context()
		if len(args) == 1 {
			printStep("Processing %s...", args[0])
			res, err := a.saves.Process(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess("Processed %d files (%d new)", res.Files, len(res.NewFiles))
			if len(res.Locations) > 0 {
				printStatus("Locations", "%s", strings.Join(res.Locations, ", "))
			}
			if len(res.CombatLogs) > 0 {
				printStatus("Combat logs", "%d copied", len(res.CombatLogs))
			}
		}

		pending, err := a.combat.Pending()
		if err != nil {
			return err
		}
		for _, log := range pending {
			printStep("Summarizing %s...", shortName(log))
			if _, err := a.combat.Summarize(ctx, log); err != nil {
				printError("%s: %v", shortName(log), err)
				continue
			}
		}
		if len(pending) == 0 && len(args) == 0 {
			fmt.Println("No combat logs waiting for a summary.")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("queue", false, "queue the save for a running service instead of processing it here")
}

// --- prune ---

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Archive vignettes and summaries older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("days") {
			days, _ := cmd.Flags().GetInt("days")
			a.sweeper.Retention = time.Duration(days) * 24 * time.Hour
		}
		if a.sweeper.Retention <= 0 {
			printWarning("Retention is disabled (archive_retention_days = 0)")
			return nil
		}

		n, err := a.sweeper.Sweep(time.Now())
		if n > 0 {
			printSuccess("Archived %d files", n)
		} else if err == nil {
			fmt.Println("Nothing to archive.")
		}
		return err
	},
}

func init() {
	pruneCmd.Flags().Int("days", 0, "override archive_retention_days")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(configFile(), key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		settable := make(map[string]bool)
		for _, k := range config.ValidKeys() {
			settable[k] = true
		}
		for _, k := range config.ShowAll(cfg) {
			note := ""
			if !settable[k.Key] {
				note = colorize(colorYellow, " (env or file only)")
			}
			fmt.Printf("  %-28s %s%s\n", k.Key, k.EnvVar, note)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath(rootDir)
}

func shortName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
