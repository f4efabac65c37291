package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchivedSession is the final record of a call.
type ArchivedSession struct {
	SessionID   string       `json:"session_id"`
	Patient     Patient      `json:"patient"`
	Messages    []Message    `json:"messages"`
	Symptoms    []Symptom    `json:"symptoms"`
	Appointment *Appointment `json:"appointment,omitempty"`
	ClosedAt    time.Time    `json:"closed_at"`
}

// ArchiveFromSnapshot builds the archive row for a finished session.
func ArchiveFromSnapshot(snap Snapshot, closedAt time.Time) ArchivedSession {
	return ArchivedSession{
		SessionID:   snap.SessionID,
		Patient:     snap.Patient,
		Messages:    snap.Messages,
		Symptoms:    snap.Symptoms,
		Appointment: snap.Appointment,
		ClosedAt:    closedAt.UTC(),
	}
}

type archiveQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ArchiveRepository stores finished sessions in Postgres.
type ArchiveRepository struct {
	db archiveQuerier
}

func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	if pool == nil {
		panic("intake: pgx pool required")
	}
	return &ArchiveRepository{db: pool}
}

func newArchiveRepositoryWithQuerier(db archiveQuerier) *ArchiveRepository {
	if db == nil {
		panic("intake: querier required")
	}
	return &ArchiveRepository{db: db}
}

// Upsert writes rec, replacing any earlier archive of the same session.
func (r *ArchiveRepository) Upsert(ctx context.Context, rec ArchivedSession) error {
	if rec.SessionID == "" {
		return errors.New("intake: archive session id required")
	}
	messages, err := json.Marshal(nonNilMessages(rec.Messages))
	if err != nil {
		return fmt.Errorf("intake: marshal archived messages: %w", err)
	}
	symptoms, err := json.Marshal(nonNilSymptoms(rec.Symptoms))
	if err != nil {
		return fmt.Errorf("intake: marshal archived symptoms: %w", err)
	}
	var appointment []byte
	if rec.Appointment != nil {
		appointment, err = json.Marshal(rec.Appointment)
		if err != nil {
			return fmt.Errorf("intake: marshal archived appointment: %w", err)
		}
	}

	query := `
		INSERT INTO intake_sessions (session_id, patient_name, patient_email, messages, symptoms, appointment, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			patient_name = EXCLUDED.patient_name,
			patient_email = EXCLUDED.patient_email,
			messages = EXCLUDED.messages,
			symptoms = EXCLUDED.symptoms,
			appointment = EXCLUDED.appointment,
			closed_at = EXCLUDED.closed_at
	`
	_, err = r.db.Exec(ctx, query,
		rec.SessionID,
		rec.Patient.Name,
		rec.Patient.Email,
		messages,
		symptoms,
		appointment,
		rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("intake: upsert archive: %w", err)
	}
	return nil
}

// Get returns nil, nil when the session was never archived.
func (r *ArchiveRepository) Get(ctx context.Context, sessionID string) (*ArchivedSession, error) {
	query := `
		SELECT session_id, patient_name, patient_email, messages, symptoms, appointment, closed_at
		FROM intake_sessions WHERE session_id = $1
	`
	rec, err := scanArchive(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("intake: get archive: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit archives, newest first.
func (r *ArchiveRepository) ListRecent(ctx context.Context, limit int) ([]ArchivedSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT session_id, patient_name, patient_email, messages, symptoms, appointment, closed_at
		FROM intake_sessions ORDER BY closed_at DESC LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("intake: list archives: %w", err)
	}
	defer rows.Close()

	out := make([]ArchivedSession, 0, limit)
	for rows.Next() {
		rec, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("intake: scan archive: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intake: list archives: %w", err)
	}
	return out, nil
}

func scanArchive(row pgx.Row) (*ArchivedSession, error) {
	var (
		rec         ArchivedSession
		messages    []byte
		symptoms    []byte
		appointment []byte
	)
	if err := row.Scan(
		&rec.SessionID,
		&rec.Patient.Name,
		&rec.Patient.Email,
		&messages,
		&symptoms,
		&appointment,
		&rec.ClosedAt,
	); err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &rec.Messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	}
	if len(symptoms) > 0 {
		if err := json.Unmarshal(symptoms, &rec.Symptoms); err != nil {
			return nil, fmt.Errorf("decode symptoms: %w", err)
		}
	}
	if len(appointment) > 0 {
		var appt Appointment
		if err := json.Unmarshal(appointment, &appt); err != nil {
			return nil, fmt.Errorf("decode appointment: %w", err)
		}
		rec.Appointment = &appt
	}
	return &rec, nil
}

func nonNilMessages(in []Message) []Message {
	if in == nil {
		return []Message{}
	}
	return in
}

func nonNilSymptoms(in []Symptom) []Symptom {
	if in == nil {
		return []Symptom{}
	}
	return in
}
