// Package desk runs the concurrent sessions of the intake desk. Each call
// gets its own intake.Session with a private ledger, topic tracker and
// records; nothing is shared between sessions except read-only rules.
package desk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/internal/observability/metrics"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// ErrSessionNotFound is returned when a session is neither live nor stored.
var ErrSessionNotFound = errors.New("desk: session not found")

// LedgerFactory builds the dedup ledger of a new session.
type LedgerFactory func(sessionID string) intake.Ledger

// MemoryLedgers gives every session its own in-process ledger.
func MemoryLedgers() LedgerFactory {
	return func(string) intake.Ledger { return intake.NewMemoryLedger() }
}

// RedisLedgers keys each session's ledger by its id.
func RedisLedgers(rdb *redis.Client, ttl time.Duration) LedgerFactory {
	return func(sessionID string) intake.Ledger { return intake.NewRedisLedger(rdb, sessionID, ttl) }
}

// Archiver stores the final record of a session.
type Archiver interface {
	Upsert(ctx context.Context, rec intake.ArchivedSession) error
}

// sessionForgetter is implemented by observers that keep per-session state.
type sessionForgetter interface {
	Forget(sessionID string)
}

// Options configures a Registry. Zero values fall back to in-memory
// collaborators.
type Options struct {
	NewLedger    LedgerFactory
	Normalizer   *intake.Normalizer
	Symptoms     *intake.SymptomExtractor
	Appointments *intake.AppointmentExtractor

	WelcomeMessage      string
	ClearRecordsOnReset bool

	Snapshots *intake.SnapshotStore
	Archive   Archiver
	Hub       *Hub
	// Observers are attached to every session, after the hub and the
	// snapshot store.
	Observers []intake.Observer

	Metrics *metrics.IntakeMetrics
	Logger  *logging.Logger
	Now     func() time.Time
}

// Registry owns the live sessions.
type Registry struct {
	opts   Options
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*intake.Session
}

func NewRegistry(opts Options) *Registry {
	if opts.NewLedger == nil {
		opts.NewLedger = MemoryLedgers()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = intake.NewNormalizer()
	}
	if opts.Symptoms == nil {
		opts.Symptoms = intake.NewSymptomExtractor()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Appointments == nil {
		opts.Appointments = intake.NewAppointmentExtractor(intake.AppointmentConfig{Now: opts.Now})
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Registry{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*intake.Session),
	}
}

func (r *Registry) Hub() *Hub { return r.opts.Hub }

// Start opens a new session for patient.
func (r *Registry) Start(ctx context.Context, patient intake.Patient) *intake.Session {
	s := r.build(uuid.NewString(), patient)
	r.add(ctx, s)
	r.logger.Info("desk: session started", "session_id", s.ID())
	return s
}

// Resume returns the live session for id, or rebuilds it from its stored
// snapshot so a reconnecting call keeps its log and records.
func (r *Registry) Resume(ctx context.Context, id string) (*intake.Session, error) {
	if s, ok := r.Get(id); ok {
		return s, nil
	}
	snap, err := r.opts.Snapshots.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("desk: resume %s: %w", id, err)
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}

	s := r.build(id, snap.Patient)
	s.Restore(*snap)

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.opts.Metrics.SessionStarted()
	r.logger.Info("desk: session resumed", "session_id", id, "messages", len(snap.Messages))
	return s, nil
}

func (r *Registry) Get(id string) (*intake.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns snapshots of the live sessions, most recently updated first.
func (r *Registry) List() []intake.Snapshot {
	r.mu.RLock()
	sessions := make([]*intake.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]intake.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// End disconnects the session, archives its final state and drops it. The
// session is removed even when archiving fails; the error is returned.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.HandleLifecycle(ctx, intake.Lifecycle{State: intake.StateDisconnected})
	// The bot goroutine may still deliver a final signal; a closed session
	// drops it instead of re-saving or re-notifying.
	snap := s.Close()
	r.opts.Hub.CloseSession(id)
	for _, o := range r.opts.Observers {
		if f, ok := o.(sessionForgetter); ok {
			f.Forget(id)
		}
	}
	r.opts.Metrics.SessionEnded()

	var archiveErr error
	if r.opts.Archive != nil {
		if err := r.opts.Archive.Upsert(ctx, intake.ArchiveFromSnapshot(snap, r.opts.Now())); err != nil {
			archiveErr = fmt.Errorf("desk: archive %s: %w", id, err)
			r.logger.Error("desk: archive failed", "session_id", id, "error", err)
		}
	}
	if archiveErr == nil {
		if err := r.opts.Snapshots.Delete(ctx, id); err != nil {
			r.logger.Warn("desk: snapshot cleanup failed", "session_id", id, "error", err)
		}
	} else if err := r.opts.Snapshots.Save(ctx, snap); err != nil {
		r.logger.Warn("desk: snapshot save failed", "session_id", id, "error", err)
	}

	r.logger.Info("desk: session ended",
		"session_id", id,
		"messages", len(snap.Messages),
		"symptoms", len(snap.Symptoms),
		"appointment", snap.Appointment != nil,
	)
	return archiveErr
}

// Shutdown ends every live session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.End(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			r.logger.Error("desk: shutdown end failed", "session_id", id, "error", err)
		}
	}
}

func (r *Registry) build(id string, patient intake.Patient) *intake.Session {
	s := intake.NewSession(intake.SessionConfig{
		ID:                  id,
		Patient:             patient,
		Normalizer:          r.opts.Normalizer,
		Ledger:              r.opts.NewLedger(id),
		Symptoms:            r.opts.Symptoms,
		Appointments:        r.opts.Appointments,
		WelcomeMessage:      r.opts.WelcomeMessage,
		ClearRecordsOnReset: r.opts.ClearRecordsOnReset,
		Metrics:             r.opts.Metrics,
		Logger:              r.logger,
		Now:                 r.opts.Now,
	})
	s.AddObserver(r.opts.Hub)
	if r.opts.Snapshots != nil {
		s.AddObserver(r.opts.Snapshots)
	}
	for _, o := range r.opts.Observers {
		s.AddObserver(o)
	}
	return s
}

func (r *Registry) add(ctx context.Context, s *intake.Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	r.opts.Metrics.SessionStarted()
	if err := r.opts.Snapshots.Save(ctx, s.Snapshot()); err != nil {
		r.logger.Warn("desk: initial snapshot save failed", "session_id", s.ID(), "error", err)
	}
}
