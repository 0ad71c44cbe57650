package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// PlaceholderAPIKey is the value shipped in the sample config file.
const PlaceholderAPIKey = "YOUR-API-KEY-HERE"

// ErrMissingAPIKey is returned by ValidateLLM when no usable key is configured.
var ErrMissingAPIKey = errors.New("missing required config: llm_api_key")

type Config struct {
	// Root is the directory relative paths resolve against.
	Root string

	Schedule  ScheduleConfig
	LLM       LLMConfig
	Paths     PathsConfig
	Collector CollectorConfig
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ScheduleConfig struct {
	IntervalMinutes      int
	PollSeconds          int
	ArchiveRetentionDays int
}

type LLMConfig struct {
	APIKey              string
	Model               string
	BaseURL             string
	Temperature         float64
	MaxTokensVignette   int
	MaxTokensSummary    int
	MaxTokensCrewUpdate int
	TimeoutSeconds      int
}

type PathsConfig struct {
	Input      string
	Processing string
	Output     string
	Config     string
	Logs       string
	CombatLogs string
	Saves      string
	GameSaves  string
	GameState  string
	Crew       string
	Themes     string
	Quests     string
}

type CollectorConfig struct {
	CombatSummaryMaxChars int
}

type ServerConfig struct {
	Addr  string
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Schedule: ScheduleConfig{
			IntervalMinutes:      30,
			PollSeconds:          60,
			ArchiveRetentionDays: 30,
		},
		LLM: LLMConfig{
			Model:               "gpt-4o-mini",
			Temperature:         0.8,
			MaxTokensVignette:   2000,
			MaxTokensSummary:    400,
			MaxTokensCrewUpdate: 4000,
			TimeoutSeconds:      120,
		},
		Paths: PathsConfig{
			Input:      "Input",
			Processing: "processing",
			Output:     "Output/Vignettes",
			Config:     "Config",
			Logs:       "logs",
			CombatLogs: "Input/CombatLogs",
			Saves:      "Input/Saves",
			GameState:  "Input/gameState.json",
			Crew:       "Input/crew_details.json",
			Themes:     "Config/vignette_themes.json",
			Quests:     "Input/recent_quests.txt",
		},
		Collector: CollectorConfig{
			CombatSummaryMaxChars: 2000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:5000",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the config file location for a project root.
func DefaultPath(root string) string {
	return filepath.Join(root, "Config", "config.json")
}

// Load reads configuration for the project rooted at root.
//
// Values come from defaults, then the flat JSON file at path (DefaultPath
// when empty), then VIGNETTE_* environment variables. Relative folder and
// file paths are resolved against root.
func Load(root, path string) (Config, error) {
	if path == "" {
		path = DefaultPath(root)
	}
	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(root, b)
}

func loadWith(root string, b ConfigBackend) (Config, error) {
	cfg := defaults()
	cfg.Root = root

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Schedule.IntervalMinutes < 0 {
		return Config{}, fmt.Errorf("config: interval_minutes must not be negative, got %d", cfg.Schedule.IntervalMinutes)
	}
	if cfg.Schedule.PollSeconds <= 0 {
		cfg.Schedule.PollSeconds = defaults().Schedule.PollSeconds
	}

	cfg.resolvePaths()
	return cfg, nil
}

func (c *Config) resolvePaths() {
	p := &c.Paths
	for _, s := range []*string{
		&p.Input, &p.Processing, &p.Output, &p.Config, &p.Logs,
		&p.CombatLogs, &p.Saves, &p.GameSaves, &p.GameState,
		&p.Crew, &p.Themes, &p.Quests, &c.Storage.DataDir,
	} {
		*s = c.resolve(*s)
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(c.Root, p)
}

// ValidateLLM reports whether the config can be used to reach the model API.
func (c Config) ValidateLLM() error {
	if c.LLM.APIKey == "" || c.LLM.APIKey == PlaceholderAPIKey {
		return fmt.Errorf("%w: set it in %s or via VIGNETTE_LLM_API_KEY", ErrMissingAPIKey, DefaultPath(c.Root))
	}
	if c.LLM.Model == "" {
		return errors.New("missing required config: llm_model_name")
	}
	return nil
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Schedule.PollSeconds) * time.Second
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.Schedule.ArchiveRetentionDays) * 24 * time.Hour
}

// MarkerPath is where the last successful generation is recorded.
func (c Config) MarkerPath() string {
	return filepath.Join(c.Paths.Config, "last_execution.json")
}

// SummariesDir holds the narrative summaries written per cycle.
func (c Config) SummariesDir() string {
	return filepath.Join(c.Paths.Processing, "narrative_summaries")
}
