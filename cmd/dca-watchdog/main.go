// Command dca-watchdog performs a single external-scheduler-invoked check:
// restart the live event loop if its PID file shows it is not alive and the
// maintenance sentinel is absent.
package main

import (
	"fmt"
	"os"

	"dcaengine/internal/config"
	"dcaengine/internal/logging"
	"dcaengine/internal/notify"
	"dcaengine/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	binaryPath := os.Getenv("DCA_ENGINE_BINARY")
	if binaryPath == "" {
		binaryPath = "./dca-engine"
	}
	sup := supervisor.New(cfg.PIDFile, cfg.MaintenanceFile, binaryPath, nil, logger)
	notifier := notify.New(cfg.WebhookURL, logger)
	defer notifier.Close()

	watchdog := supervisor.NewWatchdog(sup, notifier)
	restarted, err := watchdog.Check()
	if err != nil {
		logger.Error("watchdog check failed", "error", err)
		os.Exit(1)
	}
	if restarted {
		logger.Warn("watchdog restarted the live event loop")
	}
}
