package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/physio-voice-intake/internal/config"
	"github.com/wolfman30/physio-voice-intake/internal/desk"
	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool opens the archive database. It returns nil, nil when no
// DATABASE_URL is configured.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildArchive returns the session archive, or nil without a database.
func BuildArchive(pool *pgxpool.Pool) *intake.ArchiveRepository {
	if pool == nil {
		return nil
	}
	return intake.NewArchiveRepository(pool)
}

// BuildSnapshotStore returns the Redis snapshot store, or nil without Redis.
func BuildSnapshotStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) *intake.SnapshotStore {
	if redisClient == nil || cfg == nil {
		return nil
	}
	return intake.NewSnapshotStore(redisClient, cfg.SnapshotTTL, logger)
}

// BuildLedgerFactory picks the dedup backend. A redis backend without a
// client falls back to memory.
func BuildLedgerFactory(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) desk.LedgerFactory {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && cfg.UseRedisLedger() {
		if redisClient != nil {
			logger.Info("dedup ledger backed by redis", "ttl", cfg.SnapshotTTL)
			return desk.RedisLedgers(redisClient, cfg.SnapshotTTL)
		}
		logger.Warn("redis ledger requested but redis unavailable; using memory")
	}
	return desk.MemoryLedgers()
}
