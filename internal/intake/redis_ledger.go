package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ledgerKeyPrefix  = "intake:ledger:"
	defaultLedgerTTL = 24 * time.Hour
)

// RedisLedger keeps one session's fingerprints in a Redis set so that a
// restarted process keeps suppressing utterances it already emitted.
type RedisLedger struct {
	rdb       *redis.Client
	sessionID string
	ttl       time.Duration
	tracer    trace.Tracer
}

// NewRedisLedger creates a ledger for sessionID. A zero ttl uses 24h.
func NewRedisLedger(rdb *redis.Client, sessionID string, ttl time.Duration) *RedisLedger {
	if rdb == nil {
		panic("intake: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &RedisLedger{
		rdb:       rdb,
		sessionID: sessionID,
		ttl:       ttl,
		tracer:    otel.Tracer("physio.internal.intake.ledger"),
	}
}

func ledgerKey(sessionID string) string {
	return ledgerKeyPrefix + sessionID
}

func (l *RedisLedger) Seen(ctx context.Context, role Role, text string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "intake.ledger.seen")
	defer span.End()

	ok, err := l.rdb.SIsMember(ctx, ledgerKey(l.sessionID), Fingerprint(role, text)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return false, fmt.Errorf("intake: ledger seen: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Record(ctx context.Context, role Role, text string) error {
	_, err := l.Admit(ctx, role, text)
	return err
}

// Admit relies on SADD returning 1 only for a new member, so concurrent
// deliveries of the same utterance cannot both be admitted.
func (l *RedisLedger) Admit(ctx context.Context, role Role, text string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "intake.ledger.admit")
	defer span.End()
	span.SetAttributes(attribute.String("intake.role", string(role)))

	key := ledgerKey(l.sessionID)
	pipe := l.rdb.TxPipeline()
	added := pipe.SAdd(ctx, key, Fingerprint(role, text))
	pipe.Expire(ctx, key, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("intake: ledger admit: %w", err)
	}
	return added.Val() == 1, nil
}

func (l *RedisLedger) Reset(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "intake.ledger.reset")
	defer span.End()

	if err := l.rdb.Del(ctx, ledgerKey(l.sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: ledger reset: %w", err)
	}
	return nil
}
