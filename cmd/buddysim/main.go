// Command buddysim replays an alloc/free workload against a buddy allocator
// and prints the free lists as it goes.
//
//	buddysim -config workload.toml
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "", "workload config file (TOML)")
	logLevel := flag.String("log-level", "", "override log_level of the config")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "usage: buddysim -config workload.toml")
		os.Exit(2)
	}

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	sim, err := newSimulator(cfg, os.Stdout, logger)
	if err != nil {
		logger.Fatal("create allocator", zap.Error(err))
	}
	logger.Info("start",
		zap.String("config", *configFile),
		zap.Int("min_order", cfg.MinOrder),
		zap.Int("max_order", cfg.MaxOrder),
		zap.Int("ops", len(cfg.Ops)),
		zap.Bool("locked", cfg.Locked))

	if err := sim.run(); err != nil {
		logger.Error("workload", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("done")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = lvl
	return cfg.Build()
}
