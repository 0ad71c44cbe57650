package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "interval_minutes", typ: kInt, env: "VIGNETTE_INTERVAL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Schedule.IntervalMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Schedule.IntervalMinutes },
	},
	{
		key: "poll_seconds", typ: kInt, env: "VIGNETTE_POLL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Schedule.PollSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Schedule.PollSeconds },
	},
	{
		key: "archive_retention_days", typ: kInt, env: "VIGNETTE_ARCHIVE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Schedule.ArchiveRetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Schedule.ArchiveRetentionDays },
	},
	{
		key: "llm_api_key", typ: kString, env: "VIGNETTE_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm_model_name", typ: kString, env: "VIGNETTE_LLM_MODEL_NAME",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm_base_url", typ: kString, env: "VIGNETTE_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm_temperature", typ: kFloat, env: "VIGNETTE_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm_max_tokens_vignette", typ: kInt, env: "VIGNETTE_LLM_MAX_TOKENS_VIGNETTE",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokensVignette = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokensVignette },
	},
	{
		key: "llm_max_tokens_summary", typ: kInt, env: "VIGNETTE_LLM_MAX_TOKENS_SUMMARY",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokensSummary = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokensSummary },
	},
	{
		key: "llm_max_tokens_crew_update", typ: kInt, env: "VIGNETTE_LLM_MAX_TOKENS_CREW_UPDATE",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokensCrewUpdate = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokensCrewUpdate },
	},
	{
		key: "llm_timeout_seconds", typ: kInt, env: "VIGNETTE_LLM_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.LLM.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.TimeoutSeconds },
	},
	{
		key: "input_folder_path", typ: kString, env: "VIGNETTE_INPUT_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Input = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Input },
	},
	{
		key: "processing_folder_path", typ: kString, env: "VIGNETTE_PROCESSING_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Processing = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Processing },
	},
	{
		key: "output_folder_path", typ: kString, env: "VIGNETTE_OUTPUT_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Output = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Output },
	},
	{
		key: "config_folder_path", typ: kString, env: "VIGNETTE_CONFIG_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Config = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Config },
	},
	{
		key: "logs_folder_path", typ: kString, env: "VIGNETTE_LOGS_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Logs = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Logs },
	},
	{
		key: "combat_logs_folder_path", typ: kString, env: "VIGNETTE_COMBAT_LOGS_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.CombatLogs = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.CombatLogs },
	},
	{
		key: "saves_folder_path", typ: kString, env: "VIGNETTE_SAVES_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Saves = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Saves },
	},
	{
		key: "game_save_folder_path", typ: kString, env: "VIGNETTE_GAME_SAVE_FOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.GameSaves = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.GameSaves },
	},
	{
		key: "gamestate_file_path", typ: kString, env: "VIGNETTE_GAMESTATE_FILE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.GameState = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.GameState },
	},
	{
		key: "crew_details_file_path", typ: kString, env: "VIGNETTE_CREW_DETAILS_FILE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Crew = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Crew },
	},
	{
		key: "vignette_themes_file_path", typ: kString, env: "VIGNETTE_VIGNETTE_THEMES_FILE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Themes = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Themes },
	},
	{
		key: "recent_quests_file_path", typ: kString, env: "VIGNETTE_RECENT_QUESTS_FILE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Paths.Quests = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.Quests },
	},
	{
		key: "combat_summary_max_chars", typ: kInt, env: "VIGNETTE_COMBAT_SUMMARY_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Collector.CombatSummaryMaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Collector.CombatSummaryMaxChars },
	},
	{
		key: "server_addr", typ: kString, env: "VIGNETTE_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "dashboard_token", typ: kString, env: "VIGNETTE_DASHBOARD_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "data_dir", typ: kString, env: "VIGNETTE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log_level", typ: kString, env: "VIGNETTE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
