// Command dca-engine runs the live event loop and its reconciliation
// workers as a single process: load config, build the dependency graph,
// start background work, block on a shutdown signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcaengine/internal/broker/binance"
	"dcaengine/internal/broker/paper"
	"dcaengine/internal/config"
	"dcaengine/internal/core"
	"dcaengine/internal/engine"
	"dcaengine/internal/logging"
	"dcaengine/internal/notify"
	"dcaengine/internal/reconcile"
	"dcaengine/internal/store"
	"dcaengine/internal/strategy"
	"dcaengine/internal/telemetry"
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
	strategy.SetTestingMode(cfg.TestingMode)

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := seedAssets(db, cfg, logger); err != nil {
		logger.Error("failed to seed asset configs", "error", err)
		os.Exit(1)
	}

	var broker core.BrokerGateway
	if cfg.IsPaper || cfg.TestingMode || cfg.IntegrationTestMode {
		logger.Info("running with paper broker gateway")
		broker = paper.New()
	} else {
		broker = binance.New(cfg.APIKey, cfg.APISecret, cfg.BaseURL, logger)
	}

	notifier := notify.New(cfg.WebhookURL, logger)
	defer notifier.Close()

	symbols, err := enabledSymbols(db)
	if err != nil {
		logger.Error("failed to list enabled assets", "error", err)
		os.Exit(1)
	}

	eng := engine.New(broker, db, logger, symbols, time.Duration(cfg.OrderCooldownSeconds)*time.Second)
	scheduler := reconcile.NewScheduler(logger, cfg.DryRunMode, db, broker, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		time.AfterFunc(10*time.Second, func() {
			logger.Error("graceful shutdown did not finish within 10s, forcing exit")
			os.Exit(1)
		})
	}()

	scheduler.Start()
	defer scheduler.Stop()

	go serveMetrics(cfg.MetricsAddr, logger)

	logger.Info("dca-engine starting", "symbols", symbols, "dry_run", cfg.DryRunMode, "paper", cfg.IsPaper)
	if err := eng.Run(ctx); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("dca-engine stopped")
}

func seedAssets(db *store.SQLiteStore, cfg *config.Config, logger core.ILogger) error {
	assets, err := config.LoadAssetConfigs(cfg.AssetsFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, a := range assets {
		if _, err := db.UpsertAsset(ctx, a); err != nil {
			return fmt.Errorf("seed asset %s: %w", a.Symbol, err)
		}
		latest, err := db.GetAsset(ctx, a.Symbol)
		if err != nil {
			return err
		}
		if latest == nil {
			continue
		}
		cycle, err := db.GetLatestCycle(ctx, latest.ID)
		if err != nil {
			return err
		}
		if cycle == nil {
			if _, err := db.CreateCycle(ctx, core.CycleCreateFields{
				AssetID: latest.ID,
				Status:  core.StatusWatching,
			}); err != nil {
				return fmt.Errorf("seed initial cycle for %s: %w", a.Symbol, err)
			}
			logger.Info("seeded initial watching cycle", "symbol", a.Symbol)
		}
	}
	return nil
}

func enabledSymbols(db *store.SQLiteStore) ([]string, error) {
	assets, err := db.ListEnabledAssets(context.Background())
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a.Symbol)
	}
	return symbols, nil
}

func serveMetrics(addr string, logger core.ILogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
