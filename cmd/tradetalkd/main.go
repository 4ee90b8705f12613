// Package main is the entry point for the tradetalkd hub daemon.
// tradetalkd serves the chat wire protocol over TCP and keeps all
// conversation state in a local sqlite database. It exists so the
// client can be developed and demoed without the hosted hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattisv/tradetalk/internal/config"
	"github.com/mattisv/tradetalk/internal/hubd"
	"github.com/mattisv/tradetalk/internal/logging"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	listenAddr := flag.String("listen", "", "address to listen on (default from config, 127.0.0.1:7621)")
	dbPath := flag.String("db", "", "sqlite database path (default from config)")
	seed := flag.Bool("seed", false, "seed demo users and jobs on startup")
	configFile := flag.String("config", "", "config file (default is $HOME/.config/tradetalk/config.yaml)")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	flag.Parse()

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("tradetalkd")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}

	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("tradetalkd starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := hubd.New(cfg, logger, hubd.Options{
		ListenAddr:   *listenAddr,
		DatabasePath: *dbPath,
		Seed:         *seed,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize tradetalkd")
		os.Exit(1)
	}
	defer daemon.Close()

	if err := daemon.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("tradetalkd exited with error")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
