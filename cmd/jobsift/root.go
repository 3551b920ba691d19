package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobsift/jobsift/internal/config"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobsift",
	Short: "Job listing ETL — scrape, enrich, persist",
	Long:  "jobsift pulls job listings in batches, enriches them with AI-extracted capability profiles, and writes the results to staged storage.",
	// Default to `run` so that `jobsift` with no args runs the pipeline.
	RunE: runPipeline,
	// Runtime failures are not usage errors; cobra still prints the error.
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBSIFT_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > JOBSIFT_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("JOBSIFT_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
