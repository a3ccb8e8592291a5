package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-execution-engine/config"
	"binance-execution-engine/internal/cache"
	"binance-execution-engine/internal/database"
	"binance-execution-engine/internal/events"
	"binance-execution-engine/internal/exchange"
	"binance-execution-engine/internal/execution"
	"binance-execution-engine/internal/lifecycle"
	"binance-execution-engine/internal/logging"
	"binance-execution-engine/internal/reconcile"
	"binance-execution-engine/internal/risk"
	"binance-execution-engine/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Msg("Structured logging initialized")

	// Initialize event bus with audit and alert sinks
	eventBus := events.NewEventBus()
	auditor := events.NewOpsAuditor(eventBus, logger)
	alerter := events.NewAlerter(eventBus, logger)
	logger.Info().Msg("Event bus initialized")

	// Initialize database
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	logger.Info().Msg("Database migrations complete")

	// Initialize Redis-backed operational cache (optional)
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis cache unavailable, continuing without heartbeats")
		}
	}

	// Initialize Vault for exchange credentials
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Vault client")
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Vault health check failed")
		}
		logger.Info().Msg("Vault connected")
	} else {
		logger.Warn().Msg("Vault disabled, live trading requires stored credentials")
	}

	// Exchange adapters. Paper always works; live needs credentials.
	paperAdapter := exchange.NewPaperAdapter()
	var liveAdapter exchange.Adapter
	if creds, err := vaultClient.GetCredentials(ctx, "primary", "binance", cfg.ExchangeConfig.TestNet); err != nil {
		logger.Warn().Err(err).Msg("No live exchange credentials, live executions disabled")
	} else {
		adapter, err := exchange.NewLiveAdapter(creds.APIKey, creds.SecretKey, exchange.LiveOptions{
			BaseURL: cfg.ExchangeConfig.BaseURL,
			TestNet: cfg.ExchangeConfig.TestNet,
			Timeout: time.Duration(cfg.ExchangeConfig.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Live adapter not created, live executions disabled")
		} else {
			liveAdapter = adapter
			logger.Info().Bool("testnet", cfg.ExchangeConfig.TestNet).Msg("Live exchange adapter ready")
		}
	}

	// Lifecycle manager over the transactional transition store
	lifecycleManager := lifecycle.NewManager(db, auditor, logger)

	// Account risk engine with the circuit breaker driving the kill switch
	var deduper risk.TripDeduper
	if cacheService != nil {
		deduper = cacheService
	}
	riskEngine := risk.NewEngine(db, db, db, db, auditor, deduper, risk.Defaults{
		MaxTotalExposure:        cfg.RiskConfig.MaxTotalExposure,
		MaxInstrumentExposure:   cfg.RiskConfig.MaxInstrumentExposure,
		MaxOpenPositions:        cfg.RiskConfig.MaxOpenPositions,
		MaxDailyLoss:            cfg.RiskConfig.MaxDailyLoss,
		CircuitBreakerLoss:      cfg.RiskConfig.CircuitBreakerLoss,
		CooldownMinutes:         cfg.RiskConfig.CooldownMinutes,
		MaxLeverage:             cfg.RiskConfig.MaxLeverage,
		MinLiquidationBufferBps: cfg.RiskConfig.MinLiquidationBufferBps,
	}, logger)

	// Execution service
	var heartbeat execution.Heartbeat
	if cacheService != nil {
		heartbeat = cacheService
	}
	executionService := execution.NewService(db, lifecycleManager, riskEngine, paperAdapter, liveAdapter,
		eventBus, heartbeat, cfg.EngineConfig, cfg.RiskConfig, logger)
	logger.Info().
		Bool("promotion_gate", cfg.EngineConfig.PromotionGateRequired).
		Int("allowlist_size", len(cfg.EngineConfig.InstrumentAllowlist)).
		Msg("Execution service ready")

	// Request intake: executions arrive over the Redis queue when the
	// cache is available.
	if cacheService != nil {
		intake := execution.NewQueueConsumer(cacheService.Client(), executionService, logger)
		go intake.Run(ctx)
	}

	// Reconciliation runner
	if cfg.ReconciliationConfig.Enabled {
		reconcileEngine := reconcile.NewEngine(db, lifecycleManager, liveAdapter, alerter, logger)
		var sink reconcile.SweepSink
		if cacheService != nil {
			sink = cacheService
		}
		runner := reconcile.NewRunner(reconcileEngine,
			time.Duration(cfg.ReconciliationConfig.IntervalSeconds)*time.Second,
			cfg.ReconciliationConfig.SweepLimit, sink, logger)
		go runner.Run(ctx)
	} else {
		logger.Warn().Msg("Reconciliation disabled, divergence will not self-heal")
	}

	// Engine liveness heartbeat
	if cacheService != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := cacheService.RecordFreshness(ctx, "engine", time.Now().UTC()); err != nil {
						logger.Debug().Err(err).Msg("Engine heartbeat not recorded")
					}
				}
			}
		}()
	}

	logger.Info().Msg("Execution engine running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	if cacheService != nil {
		if err := cacheService.Close(); err != nil {
			logger.Warn().Err(err).Msg("Redis close failed")
		}
	}
	logger.Info().Msg("Shutdown complete")
}
