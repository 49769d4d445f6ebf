package connector

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/logging"
	"github.com/healthsync/connector-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxPools             = 50
	DefaultPoolMaxConns         = 5
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes      int
	MaxPools        int
	PoolMaxConns    int
	CleanupInterval time.Duration
}

// ConnectionManager caches *sql.DB pools for SQL connectors with TTL-based
// expiry. Pools are keyed by driver and a fingerprint of the DSN, so an edited
// connection gets a fresh pool and the stale one ages out.
type ConnectionManager struct {
	mu              sync.RWMutex
	pools           map[string]*managedPool
	ttl             time.Duration
	maxPools        int
	poolMaxConns    int
	cleanupInterval time.Duration
	stopped         bool
	stopChan        chan struct{}
	logger          *zap.Logger
}

type managedPool struct {
	db       *sql.DB
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &ConnectionManager{
		pools:           make(map[string]*managedPool),
		ttl:             time.Duration(cfg.TTLMinutes) * time.Minute,
		maxPools:        cfg.MaxPools,
		poolMaxConns:    cfg.PoolMaxConns,
		cleanupInterval: cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
		logger:          logger,
	}

	go m.cleanupExpiredPools()
	return m
}

// PoolKey builds the cache key for a driver and DSN. The DSN itself is never
// stored or logged because it carries credentials.
func PoolKey(driver, dsn string) string {
	sum := sha256.Sum256([]byte(dsn))
	return driver + ":" + hex.EncodeToString(sum[:8])
}

// GetOrOpen returns the cached pool for driver+dsn, opening one if needed.
// A cached pool that fails its health check is closed and replaced.
func (m *ConnectionManager) GetOrOpen(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	key := PoolKey(driver, dsn)

	m.mu.RLock()
	managed, exists := m.pools[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := managed.db.PingContext(healthCtx)
		cancel()

		if err != nil {
			m.logger.Warn("pooled connection unhealthy, reopening",
				zap.String("key", key),
				logging.SafeError(err),
			)
			managed.mu.Unlock()
			m.remove(key)
			return m.open(ctx, key, driver, dsn)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.db, nil
	}

	return m.open(ctx, key, driver, dsn)
}

// open creates a new pool with retry logic.
// Caller must NOT hold any locks.
func (m *ConnectionManager) open(ctx context.Context, key, driver, dsn string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have opened it while we waited for the lock.
	if managed, exists := m.pools[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.db, nil
	}

	if len(m.pools) >= m.maxPools {
		m.logger.Warn("connector pool limit reached",
			zap.Int("current", len(m.pools)),
			zap.Int("max", m.maxPools),
		)
		return nil, fmt.Errorf("connector pool limit reached (%d)", m.maxPools)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s pool: %w", driver, err)
	}
	db.SetMaxOpenConns(m.poolMaxConns)
	db.SetMaxIdleConns(m.poolMaxConns)
	db.SetConnMaxIdleTime(m.ttl)

	// Transient network failures on first contact are retried; the pool stays
	// unregistered until it answers.
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		m.logger.Error("failed to open connector pool after retries",
			zap.String("key", key),
			logging.SafeError(err),
		)
		return nil, err
	}

	m.pools[key] = &managedPool{db: db, lastUsed: time.Now()}
	m.logger.Info("opened connector pool",
		zap.String("key", key),
		zap.String("driver", driver),
		zap.Int("total_pools", len(m.pools)),
	)
	return db, nil
}

// remove closes and forgets a pool.
// Caller must NOT hold m.mu.
func (m *ConnectionManager) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[key]; exists && managed != nil {
		_ = managed.db.Close()
		delete(m.pools, key)
		m.logger.Debug("removed connector pool", zap.String("key", key))
	}
}

func (m *ConnectionManager) cleanupExpiredPools() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup closes pools idle for longer than the TTL.
// Lock order: manager lock, then pool lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expired []string
	for key, managed := range m.pools {
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()
		if idle > m.ttl {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		_ = m.pools[key].db.Close()
		delete(m.pools, key)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up idle connector pools",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.pools)),
		)
	}
}

// Close closes every pool and stops the cleanup goroutine.
// Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.pools {
		_ = managed.db.Close()
	}
	m.pools = make(map[string]*managedPool)
	m.logger.Info("connection manager closed")
	return nil
}

// Stats returns a snapshot of the manager state.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalPools: len(m.pools),
		MaxPools:   m.maxPools,
		TTLMinutes: int(m.ttl.Minutes()),
	}
	for _, managed := range m.pools {
		managed.mu.Lock()
		idle := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idle > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idle
		}
	}
	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalPools        int `json:"totalPools"`
	MaxPools          int `json:"maxPools"`
	TTLMinutes        int `json:"ttlMinutes"`
	OldestIdleSeconds int `json:"oldestIdleSeconds"`
}
