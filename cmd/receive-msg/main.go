package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saaga0h/mqtt-samples/internal/analysis"
	"github.com/saaga0h/mqtt-samples/internal/audit"
	"github.com/saaga0h/mqtt-samples/internal/driver"
	"github.com/saaga0h/mqtt-samples/internal/journal"
	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/health"
	"github.com/saaga0h/mqtt-samples/pkg/logging"
	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
	"github.com/saaga0h/mqtt-samples/pkg/postgres"
	"github.com/saaga0h/mqtt-samples/pkg/redis"
	"github.com/spf13/pflag"
)

func main() {
	// Load configuration with hierarchy: defaults → file → env → flags
	cfg := config.NewConfig()
	cfg.ServiceName = "receive-msg"
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

	// Progress goes to stdout, logs to stderr
	logger := logging.New(cfg.LogLevel, os.Stderr)

	if err := run(cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, driver.ExitMessage(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting receive sample",
		"service_name", cfg.ServiceName,
		"topic", cfg.Topic,
		"clean_session", cfg.CleanSession,
		"journal", cfg.JournalEnabled(),
		"audit", cfg.AuditEnabled(),
		"log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mqtt.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	sess := session.New(client, cfg.DisconnectQuiesce, logger)

	var redisClient redis.Client
	if cfg.JournalEnabled() {
		redisClient = redis.NewClient(cfg, logger)
		defer redisClient.Close()
		journal.New(redisClient, cfg, logger).Attach(sess)
	}

	var pgClient postgres.Client
	if cfg.AuditEnabled() {
		pgClient = postgres.NewClient(cfg, logger)
		if err := startAudit(ctx, cfg, pgClient, sess, logger); err != nil {
			// The audit is optional; the sample runs without it
			logger.Warn("Lifecycle audit disabled", "error", err)
			pgClient = nil
		} else {
			defer pgClient.Disconnect()
		}
	}

	if cfg.HealthPort > 0 {
		checker := health.NewChecker(sess, redisClient, pgClient, logger)
		httpServer := startHealthServer(cfg.HealthPort, checker, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error shutting down health server", "error", err)
			}
		}()
	}

	var handler analysis.Handler
	if cfg.AnalysisCommand == "" {
		handler = analysis.NewAnalyzer(os.Stdout)
	} else {
		exec := analysis.NewExecHandler(cfg.AnalysisCommand, cfg.AnalysisConcurrency, os.Stdout, logger)
		defer exec.Close()
		handler = exec
	}

	err = driver.New(sess, cfg, os.Stdout, logger).Receive(ctx, handler)
	logger.Info("Receive sample finished")
	return err
}

func startAudit(ctx context.Context, cfg *config.Config, db postgres.Client, sess *session.Session, logger *slog.Logger) error {
	if err := db.Connect(ctx); err != nil {
		return err
	}

	recorder := audit.New(db, cfg, logger)
	if err := recorder.EnsureSchema(ctx); err != nil {
		db.Disconnect()
		return err
	}
	recorder.Attach(sess)
	return nil
}

func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           checker.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}
