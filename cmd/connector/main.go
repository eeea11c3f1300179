package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vojhanzlik/showads-connector/internal/config"
	"github.com/vojhanzlik/showads-connector/internal/logging"
	"github.com/vojhanzlik/showads-connector/internal/run"
	"github.com/vojhanzlik/showads-connector/internal/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to the JSON configuration file")
		inputPath   = flag.String("input", "", "CSV input path (overrides the configuration)")
		reportPath  = flag.String("report", "", "JSONL report path (overrides the configuration)")
		strategy    = flag.String("strategy", "", "validation strategy, rows or columns (overrides the configuration)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// .env fills gaps; real environment variables win.
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "loaded .env file")
	}

	logging.Init(logging.FromEnv())
	log := logging.Get()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("config", *configPath).Msg("failed to load configuration")
		os.Exit(1)
	}
	if *inputPath != "" {
		cfg.Input.Path = *inputPath
	}
	if *reportPath != "" {
		cfg.ReportPath = *reportPath
	}
	if *strategy != "" {
		cfg.Validation.Strategy = *strategy
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	coordinator, err := run.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up the run")
		os.Exit(1)
	}

	log.Info().Str("version", version.Version).Msg("showads-connector starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	summary, runErr := coordinator.Run(ctx)
	stop()

	log.Info().Str("timings", coordinator.Timings().String()).Msg("stage timings")

	if runErr != nil {
		log.Error().Err(runErr).Msg("run did not complete cleanly")
	}

	if summary.BatchesFailed > 0 {
		os.Exit(2)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
