// Package cache provides Redis-based operational state with graceful
// degradation. When Redis is unavailable the engine keeps running; only
// heartbeat freshness and cross-process audit dedupe are lost.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"binance-execution-engine/config"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for different cache types
const (
	PrefixHeartbeat    = "engine:heartbeat:%s"    // per-component freshness
	PrefixTripAudit    = "engine:trip_audit:%s"   // circuit breaker audit dedupe
	PrefixSweepSummary = "engine:sweep:last"      // last reconciliation sweep result
)

// Default TTLs
const (
	DefaultHeartbeatTTL = 5 * time.Minute
	DefaultSweepTTL     = 24 * time.Hour
)

// CacheService wraps a Redis client with a small circuit breaker so a
// Redis outage degrades the engine instead of failing it.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	mu           sync.RWMutex
	healthy      bool
	failureCount int

	maxFailures int
}

// NewCacheService creates a new CacheService with the provided configuration.
// It attempts to connect to Redis and verifies connectivity.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:      client,
		config:      cfg,
		healthy:     false,
		maxFailures: 3,
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Initial Redis connection failed: %v", err)
		return cs, nil // Return service in degraded mode
	}

	cs.healthy = true
	log.Printf("[CACHE] Redis connected successfully at %s", cfg.Address)

	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// recordFailure tracks a Redis operation failure for circuit breaker.
func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			log.Printf("[CACHE] Circuit breaker OPEN: Redis marked unhealthy after %d failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

// recordSuccess resets the failure counter on successful operation.
func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy && cs.failureCount > 0 {
		log.Printf("[CACHE] Circuit breaker CLOSED: Redis recovered")
	}
	cs.failureCount = 0
	cs.healthy = true
}

// RecordFreshness writes a heartbeat timestamp for a component with a TTL.
// Best-effort: a stale or missing key means the component stopped reporting.
func (cs *CacheService) RecordFreshness(ctx context.Context, component string, at time.Time) error {
	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	key := fmt.Sprintf(PrefixHeartbeat, component)
	if err := cs.client.Set(ctx, key, at.UTC().Format(time.RFC3339), DefaultHeartbeatTTL).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// FirstTripInWindow returns true if this process is the first to report a
// circuit breaker trip for the given key within the window. Fails open:
// when Redis is down every caller is treated as first, which at worst
// duplicates an audit record.
func (cs *CacheService) FirstTripInWindow(ctx context.Context, key string, window time.Duration) bool {
	if !cs.IsHealthy() {
		return true
	}

	redisKey := fmt.Sprintf(PrefixTripAudit, key)
	ok, err := cs.client.SetNX(ctx, redisKey, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		cs.recordFailure()
		return true
	}
	cs.recordSuccess()
	return ok
}

// StoreSweepSummary records the most recent reconciliation sweep result
// for operator inspection.
func (cs *CacheService) StoreSweepSummary(ctx context.Context, summary interface{}) error {
	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep summary: %w", err)
	}
	if err := cs.client.Set(ctx, PrefixSweepSummary, data, DefaultSweepTTL).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("failed to store sweep summary: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// Client exposes the underlying Redis client for queue consumers.
func (cs *CacheService) Client() *redis.Client {
	return cs.client
}

// Close releases the underlying Redis connection.
func (cs *CacheService) Close() error {
	return cs.client.Close()
}
