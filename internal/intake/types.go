// Package intake holds the conversation-state and entity-extraction core of
// the voice desk. It ingests transcript events from a live call, keeps a
// deduplicated ordered message log, tracks the active conversational topic
// from bot turns, and pulls symptom and appointment details out of patient
// turns with deterministic pattern rules.
//
// Extraction is best-effort. Nothing in this package fails a conversation:
// malformed payloads normalize to empty text and are dropped, and pattern
// misses simply leave fields unset.
package intake

import "time"

// Role identifies who authored an utterance.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// Topic is the inferred phase of the conversation. It selects which
// extractor runs on the next patient turn.
type Topic string

const (
	TopicInitial            Topic = "initial"
	TopicSymptomIntake      Topic = "symptom-intake"
	TopicAppointmentBooking Topic = "appointment-booking"
)

// AppointmentType is the consultation modality.
type AppointmentType string

const (
	AppointmentOnline   AppointmentType = "online"
	AppointmentInPerson AppointmentType = "in-person"
)

// TranscriptEvent is one raw event pushed by the transport. Payload may be a
// plain string, a JSON-encoded string, raw JSON bytes or any keyed object.
type TranscriptEvent struct {
	Role     Role  `json:"role"`
	Payload  any   `json:"payload"`
	Sequence int64 `json:"sequence"`
}

// NormalizedUtterance is the canonical text of a single event.
type NormalizedUtterance struct {
	Role     Role
	Text     string
	Sequence int64
}

// Message is one entry of the visible conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Symptom is keyed by Location. Optional fields are empty when not extracted.
type Symptom struct {
	Location string `json:"location"`
	Severity string `json:"severity,omitempty"`
	Duration string `json:"duration,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Triggers string `json:"triggers,omitempty"`
}

// Appointment is only produced when type, date and time were all resolved
// from a single utterance.
type Appointment struct {
	AppointmentType AppointmentType `json:"appointmentType"`
	Location        string          `json:"location,omitempty"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	Confirmed       bool            `json:"confirmed"`
	Fee             string          `json:"fee"`
}

// Key identifies the booking slot an appointment describes.
func (a Appointment) Key() string {
	return string(a.AppointmentType) + "|" + a.Location + "|" + a.Date + "|" + a.Time
}

// Patient carries the contact details collected before a call starts.
type Patient struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Outcome reports what the pipeline did with one event.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeEmpty       Outcome = "empty"
	OutcomeInvalidRole Outcome = "invalid_role"
	// OutcomeClosed is returned once the session has been ended.
	OutcomeClosed Outcome = "closed"
)
