package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/saaga0h/mqtt-samples/e2e/internal/executor"
	"github.com/saaga0h/mqtt-samples/e2e/internal/reporter"
	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/logging"
	"github.com/spf13/pflag"
)

func main() {
	// The embedded broker listens on --endpoint/--port; the rest of the
	// client configuration is shared with the samples
	cfg := config.NewConfig()
	cfg.ServiceName = "resilience-runner"
	cfg.Endpoint = "127.0.0.1"
	cfg.Port = 18830
	cfg.Plaintext = true
	cfg.ReconnectMin = 100 * time.Millisecond
	cfg.ReconnectMax = time.Second
	cfg.LoadFromEnv()

	var (
		scenarioPath string
		outputDir    string
	)
	runnerFlags := func(fs *pflag.FlagSet) {
		fs.StringVar(&scenarioPath, "scenario", "", "Path to YAML scenario file (required)")
		fs.StringVar(&outputDir, "output-dir", "./test-output", "Output directory for test artifacts")
	}
	if err := cfg.LoadFromFlags(os.Args[1:], runnerFlags); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if scenarioPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --scenario is required\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	logger.Info("Loading scenario", "path", scenarioPath)
	scen, err := scenario.LoadScenario(scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load scenario: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := executor.NewRunner(cfg, logger)
	result, timelineEvents, err := runner.Run(ctx, scen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scenario execution failed: %v\n", err)
		os.Exit(1)
	}

	scenarioName := strings.TrimSuffix(filepath.Base(scenarioPath), filepath.Ext(scenarioPath))

	timeline := reporter.GenerateTimeline(result, timelineEvents)
	fmt.Println(timeline)

	timelinePath := filepath.Join(outputDir, "timelines", scenarioName+".txt")
	if err := reporter.SaveTimeline(timeline, timelinePath); err != nil {
		logger.Warn("Failed to save timeline", "error", err)
	} else {
		logger.Info("Timeline saved", "path", timelinePath)
	}

	capturePath := filepath.Join(outputDir, "captures", scenarioName+".json")
	if err := runner.SaveCapture(capturePath); err != nil {
		logger.Warn("Failed to save capture", "error", err)
	}

	summaryPath := filepath.Join(outputDir, "summaries", scenarioName+".json")
	if err := reporter.SaveSummary(result, summaryPath); err != nil {
		logger.Warn("Failed to save summary", "error", err)
	} else {
		logger.Info("Summary saved", "path", summaryPath)
	}

	if !result.Passed {
		os.Exit(1)
	}
}
