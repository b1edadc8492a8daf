package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datagutt/pynab/internal/config"
	"github.com/datagutt/pynab/internal/daemon"
	"github.com/datagutt/pynab/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the daemon's YAML configuration file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("RABBITD_CONFIG")
	}
	if path == "" {
		path = "/etc/rabbitd/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		logging.Configure(logging.Config{})
		logging.L().Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}

	logging.Configure(logging.Config{Level: cfg.LogLevel})
	log := logging.L()

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble daemon")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Int("port", cfg.Port).Str("config", path).Msg("rabbitd starting")

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("daemon exited with error")
		}
		return
	}

	select {
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("daemon shutdown error")
		}
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out, exiting anyway")
	}

	log.Info().Msg("rabbitd stopped")
}
