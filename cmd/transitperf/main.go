package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"transitperf.dev/events"
	"transitperf.dev/events/blob"
	"transitperf.dev/events/config"
	"transitperf.dev/events/schedule"
)

var rootCmd = &cobra.Command{
	Use:          "transitperf",
	Short:        "Transit performance event pipeline",
	Long:         "Fetches raw transit vehicle data, reconciles it into arrival/departure events, and publishes the partitioned archive.",
	SilenceUsage: true,
}

var (
	configPath string
	envFile    string
	outputDir  string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "", ".env", "Env file to load if present")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "data/output", "Root directory of the output store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(backfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	// A missing env file is fine; an unreadable one is not.
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	if configPath == "" {
		configPath = os.Getenv("TRANSITPERF_CONFIG")
	}
	if configPath == "" {
		cfg := config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(configPath)
}

func buildPipeline() (*events.Pipeline, *config.Config, error) {
	logger := setupLogger()
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	eventsBucket, err := blob.NewFilesystem(filepath.Join(outputDir, cfg.Buckets.Events))
	if err != nil {
		return nil, nil, fmt.Errorf("opening events store: %w", err)
	}
	mirror, err := blob.NewFilesystem(filepath.Join(outputDir, cfg.Buckets.Schedule))
	if err != nil {
		return nil, nil, fmt.Errorf("opening schedule mirror: %w", err)
	}

	sched := schedule.NewStore(cfg.Schedule.Feeds, cfg.CacheRoot, mirror, logger.With("component", "schedule"))
	if cfg.Schedule.PostgresURL != "" {
		sched.Open = schedule.OpenPostgres(cfg.Schedule.PostgresURL)
	}
	return events.NewPipeline(cfg, eventsBucket, sched, logger), cfg, nil
}

func closeSchedule(p *events.Pipeline) {
	if s, ok := p.Schedule.(*schedule.Store); ok && s != nil {
		if err := s.Close(); err != nil {
			slog.Warn("closing schedule store", "error", err)
		}
	}
}
