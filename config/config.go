package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseConfig       DatabaseConfig       `json:"database"`
	ExchangeConfig       ExchangeConfig       `json:"exchange"`
	EngineConfig         EngineConfig         `json:"engine"`
	RiskConfig           RiskConfig           `json:"risk"`
	ReconciliationConfig ReconciliationConfig `json:"reconciliation"`
	LoggingConfig        LoggingConfig        `json:"logging"`
	VaultConfig          VaultConfig          `json:"vault"`
	RedisConfig          RedisConfig          `json:"redis"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// ExchangeConfig holds Binance Futures connectivity settings.
// Credentials are NOT read from environment; they live in Vault (see VaultConfig).
type ExchangeConfig struct {
	BaseURL        string `json:"base_url"`
	TestNet        bool   `json:"testnet"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// EngineConfig holds execution gating configuration.
// The kill switch itself is a versioned database row (engine_controls),
// re-read on every execution; only the gate policy lives here.
type EngineConfig struct {
	PromotionGateRequired bool     `json:"promotion_gate_required"`
	MinPaperTrades        int      `json:"min_paper_trades"`
	MinPaperWinRate       float64  `json:"min_paper_win_rate"` // fraction, e.g. 0.55
	MinPaperNetPnL        float64  `json:"min_paper_net_pnl"`  // quote currency
	MaxPaperDrawdown      float64  `json:"max_paper_drawdown"` // quote currency, positive number
	InstrumentAllowlist   []string `json:"instrument_allowlist"`
}

// RiskConfig holds the baseline account risk policy used when no
// active policy row exists yet.
type RiskConfig struct {
	MaxTotalExposure        float64 `json:"max_total_exposure"`
	MaxInstrumentExposure   float64 `json:"max_instrument_exposure"`
	MaxOpenPositions        int     `json:"max_open_positions"`
	MaxDailyLoss            float64 `json:"max_daily_loss"`
	CircuitBreakerLoss      float64 `json:"circuit_breaker_loss"`
	CooldownMinutes         int     `json:"cooldown_minutes"`
	MaxLeverage             int     `json:"max_leverage"`
	MinLiquidationBufferBps float64 `json:"min_liquidation_buffer_bps"`
}

// ReconciliationConfig holds sweep scheduling settings
type ReconciliationConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
	SweepLimit      int  `json:"sweep_limit"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// VaultConfig holds HashiCorp Vault configuration for exchange credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for exchange credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for the freshness heartbeat sink
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "execution_engine"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Exchange config - only non-credential settings from environment
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	cfg.ExchangeConfig.TestNet = getEnvOrDefault("EXCHANGE_TESTNET", "false") == "true"
	cfg.ExchangeConfig.TimeoutSeconds = getEnvIntOrDefault("EXCHANGE_TIMEOUT_SECONDS", defaultInt(cfg.ExchangeConfig.TimeoutSeconds, 10))

	// Engine config
	cfg.EngineConfig.PromotionGateRequired = getEnvOrDefault("ENGINE_PROMOTION_GATE_REQUIRED", "true") == "true"
	cfg.EngineConfig.MinPaperTrades = getEnvIntOrDefault("ENGINE_MIN_PAPER_TRADES", defaultInt(cfg.EngineConfig.MinPaperTrades, 20))
	cfg.EngineConfig.MinPaperWinRate = getEnvFloatOrDefault("ENGINE_MIN_PAPER_WIN_RATE", defaultFloat(cfg.EngineConfig.MinPaperWinRate, 0.5))
	cfg.EngineConfig.MinPaperNetPnL = getEnvFloatOrDefault("ENGINE_MIN_PAPER_NET_PNL", cfg.EngineConfig.MinPaperNetPnL)
	cfg.EngineConfig.MaxPaperDrawdown = getEnvFloatOrDefault("ENGINE_MAX_PAPER_DRAWDOWN", defaultFloat(cfg.EngineConfig.MaxPaperDrawdown, 500))
	if allowlist := os.Getenv("ENGINE_INSTRUMENT_ALLOWLIST"); allowlist != "" {
		cfg.EngineConfig.InstrumentAllowlist = splitAndTrim(allowlist)
	}

	// Risk config (baseline policy)
	cfg.RiskConfig.MaxTotalExposure = getEnvFloatOrDefault("RISK_MAX_TOTAL_EXPOSURE", defaultFloat(cfg.RiskConfig.MaxTotalExposure, 100000))
	cfg.RiskConfig.MaxInstrumentExposure = getEnvFloatOrDefault("RISK_MAX_INSTRUMENT_EXPOSURE", defaultFloat(cfg.RiskConfig.MaxInstrumentExposure, 25000))
	cfg.RiskConfig.MaxOpenPositions = getEnvIntOrDefault("RISK_MAX_OPEN_POSITIONS", defaultInt(cfg.RiskConfig.MaxOpenPositions, 10))
	cfg.RiskConfig.MaxDailyLoss = getEnvFloatOrDefault("RISK_MAX_DAILY_LOSS", defaultFloat(cfg.RiskConfig.MaxDailyLoss, 500))
	cfg.RiskConfig.CircuitBreakerLoss = getEnvFloatOrDefault("RISK_CIRCUIT_BREAKER_LOSS", defaultFloat(cfg.RiskConfig.CircuitBreakerLoss, 1000))
	cfg.RiskConfig.CooldownMinutes = getEnvIntOrDefault("RISK_COOLDOWN_MINUTES", defaultInt(cfg.RiskConfig.CooldownMinutes, 60))
	cfg.RiskConfig.MaxLeverage = getEnvIntOrDefault("RISK_MAX_LEVERAGE", defaultInt(cfg.RiskConfig.MaxLeverage, 20))
	cfg.RiskConfig.MinLiquidationBufferBps = getEnvFloatOrDefault("RISK_MIN_LIQUIDATION_BUFFER_BPS", defaultFloat(cfg.RiskConfig.MinLiquidationBufferBps, 50))

	// Reconciliation config
	cfg.ReconciliationConfig.Enabled = getEnvOrDefault("RECONCILIATION_ENABLED", "true") == "true"
	cfg.ReconciliationConfig.IntervalSeconds = getEnvIntOrDefault("RECONCILIATION_INTERVAL_SECONDS", defaultInt(cfg.ReconciliationConfig.IntervalSeconds, 60))
	cfg.ReconciliationConfig.SweepLimit = getEnvIntOrDefault("RECONCILIATION_SWEEP_LIMIT", defaultInt(cfg.ReconciliationConfig.SweepLimit, 100))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "execution-engine/exchange-keys"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultFloat(current, fallback float64) float64 {
	if current != 0 {
		return current
	}
	return fallback
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
