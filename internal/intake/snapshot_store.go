package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

const (
	snapshotKeyPrefix  = "intake:snapshot:"
	defaultSnapshotTTL = 24 * time.Hour
	// observerSaveTimeout bounds the write made while a session is locked.
	observerSaveTimeout = 2 * time.Second
)

// SnapshotStore keeps the latest snapshot of each session in Redis so a
// reconnecting call, or a restarted process, can resume its context.
type SnapshotStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	logger *logging.Logger
}

// NewSnapshotStore returns nil when rdb is nil; all methods are no-ops on a
// nil store.
func NewSnapshotStore(rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *SnapshotStore {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SnapshotStore{
		rdb:    rdb,
		ttl:    ttl,
		tracer: otel.Tracer("physio.internal.intake.snapshot"),
		logger: logger,
	}
}

func snapshotKey(sessionID string) string {
	return snapshotKeyPrefix + sessionID
}

func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil {
		return nil
	}
	if snap.SessionID == "" {
		return errors.New("intake: snapshot session id required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("intake: marshal snapshot: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "intake.snapshot.save")
	defer span.End()
	span.SetAttributes(attribute.String("intake.session_id", snap.SessionID))

	if err := s.rdb.Set(ctx, snapshotKey(snap.SessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: save snapshot: %w", err)
	}
	return nil
}

// Load returns nil, nil when no snapshot is stored for sessionID.
func (s *SnapshotStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if s == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "intake.snapshot.load")
	defer span.End()

	data, err := s.rdb.Get(ctx, snapshotKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("intake: load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("intake: decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	if s == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "intake.snapshot.delete")
	defer span.End()

	if err := s.rdb.Del(ctx, snapshotKey(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: delete snapshot: %w", err)
	}
	return nil
}

// SessionChanged lets the store observe a session directly. A failed save is
// logged and the next change retries; the registry saves again on end.
func (s *SnapshotStore) SessionChanged(ctx context.Context, snap Snapshot) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, observerSaveTimeout)
	defer cancel()
	if err := s.Save(ctx, snap); err != nil {
		s.logger.Warn("intake: snapshot save failed", "session_id", snap.SessionID, "error", err)
	}
}
