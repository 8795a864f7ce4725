package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/saaga0h/mqtt-samples/internal/audit"
	"github.com/saaga0h/mqtt-samples/internal/driver"
	"github.com/saaga0h/mqtt-samples/internal/journal"
	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/logging"
	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
	"github.com/saaga0h/mqtt-samples/pkg/postgres"
	"github.com/saaga0h/mqtt-samples/pkg/redis"
	"github.com/spf13/pflag"
)

func main() {
	// Load configuration with hierarchy: defaults → file → env → flags
	cfg := config.NewConfig()
	cfg.ServiceName = "publish-msg"
	cfg.LoadFromEnv()
	if err := cfg.LoadFromFlags(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	if err := run(cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, driver.ExitMessage(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting publish sample",
		"service_name", cfg.ServiceName,
		"topic", cfg.Topic,
		"log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mqtt.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	sess := session.New(client, cfg.DisconnectQuiesce, logger)

	if cfg.JournalEnabled() {
		redisClient := redis.NewClient(cfg, logger)
		defer redisClient.Close()
		journal.New(redisClient, cfg, logger).Attach(sess)
	}

	if cfg.AuditEnabled() {
		db := postgres.NewClient(cfg, logger)
		if err := db.Connect(ctx); err != nil {
			logger.Warn("Lifecycle audit disabled", "error", err)
		} else {
			defer db.Disconnect()
			recorder := audit.New(db, cfg, logger)
			if err := recorder.EnsureSchema(ctx); err != nil {
				logger.Warn("Lifecycle audit disabled", "error", err)
			} else {
				recorder.Attach(sess)
			}
		}
	}

	return driver.New(sess, cfg, os.Stdout, logger).Publish(ctx)
}
