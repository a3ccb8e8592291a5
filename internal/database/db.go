package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Trades table
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			instrument VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'proposed',
			mode VARCHAR(10) NOT NULL DEFAULT 'paper',
			client_order_id VARCHAR(64),
			avg_fill_price DECIMAL(20, 8),
			position_size DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			pnl_pct DECIMAL(10, 4),
			tp_price DECIMAL(20, 8),
			sl_price DECIMAL(20, 8),
			leverage INTEGER,
			margin_type VARCHAR(10),
			closed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at)`,

		// Executions table; the idempotency_key unique constraint is the
		// sole concurrency guard against duplicate order placement
		`CREATE TABLE IF NOT EXISTS executions (
			id BIGSERIAL PRIMARY KEY,
			trade_id BIGINT NOT NULL REFERENCES trades(id),
			trade_decision_id BIGINT,
			exchange_order_id VARCHAR(64),
			client_order_id VARCHAR(64) NOT NULL,
			idempotency_key VARCHAR(128) NOT NULL UNIQUE,
			execution_mode VARCHAR(10) NOT NULL,
			requested_instrument VARCHAR(20) NOT NULL,
			requested_side VARCHAR(5) NOT NULL,
			requested_quantity DECIMAL(20, 8) NOT NULL,
			filled_quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			average_price DECIMAL(20, 8),
			status VARCHAR(20) NOT NULL DEFAULT 'submitted',
			status_reason TEXT,
			reconciliation_status VARCHAR(10) NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMP,
			executed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_trade_id ON executions(trade_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_reconciliation ON executions(reconciliation_status, status)`,

		// Append-only lifecycle audit trail
		`CREATE TABLE IF NOT EXISTS trade_state_events (
			id BIGSERIAL PRIMARY KEY,
			entity_type VARCHAR(10) NOT NULL,
			entity_id BIGINT NOT NULL,
			from_status VARCHAR(20) NOT NULL,
			to_status VARCHAR(20) NOT NULL,
			reason TEXT,
			metadata JSONB,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_events_entity ON trade_state_events(entity_type, entity_id)`,

		// Versioned risk policies
		`CREATE TABLE IF NOT EXISTS account_risk_policies (
			id BIGSERIAL PRIMARY KEY,
			max_total_exposure DECIMAL(20, 8) NOT NULL,
			max_instrument_exposure DECIMAL(20, 8) NOT NULL,
			max_open_positions INTEGER NOT NULL,
			max_daily_loss DECIMAL(20, 8) NOT NULL,
			circuit_breaker_loss DECIMAL(20, 8) NOT NULL,
			cooldown_minutes INTEGER NOT NULL,
			max_leverage INTEGER NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			effective_from TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Circuit breaker state (latest row by updated_at is current)
		`CREATE TABLE IF NOT EXISTS account_risk_states (
			id BIGSERIAL PRIMARY KEY,
			status VARCHAR(10) NOT NULL DEFAULT 'ok',
			cooldown_until TIMESTAMP,
			last_triggered_at TIMESTAMP,
			trigger_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Exchange contract metadata for quantization
		`CREATE TABLE IF NOT EXISTS contract_requirements (
			instrument VARCHAR(20) PRIMARY KEY,
			price_step DECIMAL(20, 12) NOT NULL DEFAULT 0,
			quantity_step DECIMAL(20, 12) NOT NULL DEFAULT 0,
			min_quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			min_notional DECIMAL(20, 8) NOT NULL DEFAULT 0,
			price_precision INTEGER NOT NULL DEFAULT 8,
			quantity_precision INTEGER NOT NULL DEFAULT 8,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Global kill switch, singleton versioned row
		`CREATE TABLE IF NOT EXISTS engine_controls (
			id BIGINT PRIMARY KEY DEFAULT 1,
			kill_switch_active BOOLEAN NOT NULL DEFAULT FALSE,
			kill_switch_reason TEXT NOT NULL DEFAULT '',
			kill_switch_actor TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT engine_controls_singleton CHECK (id = 1)
		)`,
		`INSERT INTO engine_controls (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
