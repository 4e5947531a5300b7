// Command price resolves one token and prints its price.
//
//	price -token eth
//	price -token btc -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"priceresolver/internal/app"
	"priceresolver/internal/config"
	"priceresolver/internal/logging"
)

func main() {
	var (
		token      string
		configPath string
		asJSON     bool
		timeout    int
	)
	flag.StringVar(&token, "token", "", "token symbol, e.g. eth")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml or config.json (optional)")
	flag.BoolVar(&asJSON, "json", false, "print the full quote as JSON")
	flag.IntVar(&timeout, "timeout", 60, "overall timeout seconds")
	flag.Parse()

	if token == "" && flag.NArg() > 0 {
		token = flag.Arg(0)
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "usage: price -token <symbol>")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// keep stdout for the answer
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	log, logFile, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	q, err := a.Engine.Resolve(ctx, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		a.Close()
		os.Exit(1)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(q)
		return
	}
	fmt.Printf("%s: %g (source %s)\n", q.Token, q.Price, q.Source)
}
