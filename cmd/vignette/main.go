package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/vignette/internal/config"
)

var version = "dev"

var (
	rootDir    string
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "vignette",
	Short: "Story vignettes from a Pillars of Eternity II playthrough",
	Long: `vignette watches the game's logs and saves and periodically asks a language
model for a short story scene about what the party has been up to.

Examples:
  vignette start                 # scheduler, save ingestion and dashboard
  vignette generate              # one cycle now
  vignette config set interval_minutes 45`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", envOr("VIGNETTE_ROOT", "."), "project root; relative config paths resolve against it")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <root>/Config/config.json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, monitorCmd, serveCmd, generateCmd, mcpCmd)
	rootCmd.AddCommand(triggerCmd, statusCmd, cyclesCmd, jobsCmd, ingestCmd, pruneCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig() (config.Config, error) {
	return config.Load(rootDir, configPath)
}
