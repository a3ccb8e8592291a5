// One-shot reconciliation sweep. Runs a single pass over pending
// executions and exits; useful after an outage or before maintenance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"binance-execution-engine/config"
	"binance-execution-engine/internal/database"
	"binance-execution-engine/internal/events"
	"binance-execution-engine/internal/exchange"
	"binance-execution-engine/internal/lifecycle"
	"binance-execution-engine/internal/logging"
	"binance-execution-engine/internal/reconcile"
	"binance-execution-engine/internal/vault"
)

func main() {
	limit := flag.Int("limit", 100, "maximum pending executions to check")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall sweep deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Vault client")
	}

	var liveAdapter exchange.Adapter
	if creds, err := vaultClient.GetCredentials(ctx, "primary", "binance", cfg.ExchangeConfig.TestNet); err == nil {
		adapter, err := exchange.NewLiveAdapter(creds.APIKey, creds.SecretKey, exchange.LiveOptions{
			BaseURL: cfg.ExchangeConfig.BaseURL,
			TestNet: cfg.ExchangeConfig.TestNet,
			Timeout: time.Duration(cfg.ExchangeConfig.TimeoutSeconds) * time.Second,
		})
		if err == nil {
			liveAdapter = adapter
		}
	}

	eventBus := events.NewEventBus()
	auditor := events.NewOpsAuditor(eventBus, logger)
	alerter := events.NewAlerter(eventBus, logger)
	lifecycleManager := lifecycle.NewManager(db, auditor, logger)

	engine := reconcile.NewEngine(db, lifecycleManager, liveAdapter, alerter, logger)
	result, err := engine.Sweep(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("Sweep failed")
		os.Exit(1)
	}

	fmt.Printf("checked=%d updated=%d errors=%d\n", result.Checked, result.Updated, result.Errors)
	if result.Errors > 0 {
		os.Exit(2)
	}
}
