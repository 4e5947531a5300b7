// Command pricewatch resolves a watchlist of tokens on a cron schedule and
// logs every price.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"priceresolver/internal/app"
	"priceresolver/internal/config"
	"priceresolver/internal/logging"
	"priceresolver/internal/watch"
)

func main() {
	var (
		configPath string
		schedule   string
		tokensCSV  string
		once       bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml or config.json (optional)")
	flag.StringVar(&schedule, "schedule", "", "cron spec, overrides watch.schedule (e.g. \"@every 30s\")")
	flag.StringVar(&tokensCSV, "tokens", "", "comma-separated tokens, overrides watch.tokens")
	flag.BoolVar(&once, "once", false, "run a single tick and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if schedule != "" {
		cfg.Watch.Schedule = schedule
	}
	if tokensCSV != "" {
		cfg.Watch.Tokens = strings.Split(tokensCSV, ",")
	}
	log, logFile, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build resolver")
	}
	defer a.Close()

	job := watch.New(a.Engine, cfg.Watch.Tokens, log.With().Str("component", "watch").Logger())
	if len(job.Tokens()) == 0 {
		log.Fatal().Msg("no tokens to watch")
	}
	if once {
		job.Run(ctx)
		return
	}
	if err := watch.Schedule(ctx, cfg.Watch.Schedule, job); err != nil {
		log.Fatal().Err(err).Msg("watch")
	}
}
