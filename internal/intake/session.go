package intake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/physio-voice-intake/internal/observability/metrics"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// LifecycleState is a transport session signal.
type LifecycleState string

const (
	StateIdle         LifecycleState = "idle"
	StateConnecting   LifecycleState = "connecting"
	StateConnected    LifecycleState = "connected"
	StateDisconnected LifecycleState = "disconnected"
	StateError        LifecycleState = "error"
)

// Lifecycle is one signal from the transport. Message is only used with
// StateError and is shown to the operator verbatim.
type Lifecycle struct {
	State   LifecycleState `json:"state"`
	Message string         `json:"message,omitempty"`
}

// Status drives the connecting/listening indicators and the error slot.
type Status struct {
	State      LifecycleState `json:"state"`
	Connecting bool           `json:"connecting"`
	Listening  bool           `json:"listening"`
	Error      string         `json:"error,omitempty"`
}

// Recorder is the audio capture collaborator. Flush must release pending
// audio synchronously; it is called before the ledger is cleared.
type Recorder interface {
	Flush(ctx context.Context) error
}

// Observer is told about every state change. It runs while the session is
// locked, so it must not call back into the session.
type Observer interface {
	SessionChanged(ctx context.Context, snap Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, snap Snapshot)

func (f ObserverFunc) SessionChanged(ctx context.Context, snap Snapshot) { f(ctx, snap) }

// Snapshot is the read-model of a session for rendering and persistence.
type Snapshot struct {
	SessionID   string       `json:"session_id"`
	Patient     Patient      `json:"patient"`
	Status      Status       `json:"status"`
	Topic       Topic        `json:"topic"`
	Messages    []Message    `json:"messages"`
	Symptoms    []Symptom    `json:"symptoms"`
	Appointment *Appointment `json:"appointment,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SessionConfig wires a Session. Only ID is required; every other field has
// a working default.
type SessionConfig struct {
	ID      string
	Patient Patient

	Normalizer   *Normalizer
	Ledger       Ledger
	Symptoms     *SymptomExtractor
	Appointments *AppointmentExtractor
	Recorder     Recorder

	WelcomeMessage      string
	ClearRecordsOnReset bool

	Metrics *metrics.IntakeMetrics
	Logger  *logging.Logger
	Now     func() time.Time
}

// Session owns the per-call state: ledger, topic tracker, conversation log,
// symptom list and appointment slot. Each event is processed as one unit
// under the session lock, in the order the transport delivers them.
type Session struct {
	id      string
	patient Patient

	normalizer   *Normalizer
	ledger       Ledger
	topic        *TopicTracker
	symptomRules *SymptomExtractor
	apptRules    *AppointmentExtractor
	recorder     Recorder

	welcome      string
	clearOnReset bool

	metrics *metrics.IntakeMetrics
	logger  *logging.Logger
	now     func() time.Time

	mu          sync.Mutex
	log         *ConversationLog
	symptoms    []Symptom
	appointment *Appointment
	status      Status
	updatedAt   time.Time
	observers   []Observer
	closed      bool
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.ID == "" {
		panic("intake: session id required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = NewNormalizer()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = NewMemoryLedger()
	}
	if cfg.Symptoms == nil {
		cfg.Symptoms = NewSymptomExtractor()
	}
	if cfg.Appointments == nil {
		cfg.Appointments = NewAppointmentExtractor(AppointmentConfig{Now: cfg.Now})
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Session{
		id:           cfg.ID,
		patient:      cfg.Patient,
		normalizer:   cfg.Normalizer,
		ledger:       cfg.Ledger,
		topic:        NewTopicTracker(),
		symptomRules: cfg.Symptoms,
		apptRules:    cfg.Appointments,
		recorder:     cfg.Recorder,
		welcome:      cfg.WelcomeMessage,
		clearOnReset: cfg.ClearRecordsOnReset,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("session_id", cfg.ID),
		now:          cfg.Now,
		log:          NewConversationLog(NewIDGenerator(cfg.Now), cfg.Now),
		status:       Status{State: StateIdle},
	}
	s.log.Seed(s.welcome)
	s.updatedAt = s.now().UTC()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Patient() Patient { return s.patient }

// AddObserver registers o for future state changes.
func (s *Session) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.observers = append(s.observers, o)
}

// SubmitEvent runs one transcript event through the pipeline.
//
// Bot turns update the topic before the duplicate check, so a repeated bot
// prompt still steers extraction. Patient turns are checked for duplicates
// first and only new ones are extracted.
func (s *Session) SubmitEvent(ctx context.Context, ev TranscriptEvent) Outcome {
	start := time.Now()
	outcome := s.submit(ctx, ev)
	s.metrics.ObserveEvent(string(ev.Role), string(outcome), time.Since(start).Seconds())
	return outcome
}

func (s *Session) submit(ctx context.Context, ev TranscriptEvent) Outcome {
	if !ev.Role.Valid() {
		s.logger.Warn("intake: dropping event with unknown role", "role", ev.Role, "sequence", ev.Sequence)
		return OutcomeInvalidRole
	}
	utt := s.normalizer.NormalizeEvent(ev)
	text := strings.TrimSpace(utt.Text)
	if text == "" {
		s.logger.Debug("intake: dropping empty utterance", "role", utt.Role, "sequence", utt.Sequence)
		return OutcomeEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("intake: event after close ignored", "role", utt.Role, "sequence", utt.Sequence)
		return OutcomeClosed
	}

	if utt.Role == RoleBot {
		if topic, changed := s.topic.Observe(text); changed {
			s.metrics.ObserveTopic(string(topic))
			s.logger.Info("intake: topic changed", "topic", topic, "sequence", utt.Sequence)
		}
	}

	if !s.admit(ctx, utt.Role, text) {
		s.logger.Debug("intake: duplicate utterance suppressed", "role", utt.Role, "sequence", utt.Sequence)
		return OutcomeDuplicate
	}

	if utt.Role == RoleUser {
		s.extract(text)
	}

	msg := s.log.Append(utt.Role, text)
	s.logger.Debug("intake: message appended", "message_id", msg.ID, "role", msg.Role, "sequence", utt.Sequence)
	s.touchLocked(ctx)
	return OutcomeAccepted
}

// admit fails open: if the ledger backend errors the utterance is kept,
// since a repeated line is cheaper than a lost one.
func (s *Session) admit(ctx context.Context, role Role, text string) bool {
	ok, err := s.ledger.Admit(ctx, role, text)
	if err != nil {
		s.logger.Error("intake: ledger admit failed, accepting utterance", "error", err, "role", role)
		return true
	}
	return ok
}

func (s *Session) extract(text string) {
	switch s.topic.Current() {
	case TopicSymptomIntake:
		found := s.symptomRules.Extract(text)
		s.metrics.ObserveExtraction("symptom", len(found) > 0)
		if len(found) > 0 {
			s.symptoms = MergeSymptoms(s.symptoms, found)
			s.logger.Info("intake: symptoms extracted", "count", len(found), "total", len(s.symptoms))
		}
	case TopicAppointmentBooking:
		appt := s.apptRules.Extract(text)
		s.metrics.ObserveExtraction("appointment", appt != nil)
		if appt != nil {
			s.appointment = MergeAppointment(s.appointment, appt)
			s.logger.Info("intake: appointment extracted",
				"type", appt.AppointmentType,
				"date", appt.Date,
				"time", appt.Time,
				"confirmed", appt.Confirmed,
			)
		}
	}
}

// ResetSession flushes the recorder and clears the ledger and topic. The log
// and records are kept unless the session was configured to clear them.
func (s *Session) ResetSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.resetLocked(ctx)
	s.touchLocked(ctx)
}

func (s *Session) resetLocked(ctx context.Context) {
	if s.recorder != nil {
		if err := s.recorder.Flush(ctx); err != nil {
			s.logger.Error("intake: recorder flush failed", "error", err)
		}
	}
	if err := s.ledger.Reset(ctx); err != nil {
		s.logger.Error("intake: ledger reset failed", "error", err)
	}
	s.topic.Reset()
	if s.clearOnReset {
		s.log.clear()
		s.log.Seed(s.welcome)
		s.symptoms = nil
		s.appointment = nil
	}
	s.logger.Info("intake: session reset", "cleared_records", s.clearOnReset)
}

// HandleLifecycle applies a transport signal. Only a disconnect resets the
// session; an error is reported without touching the ledger.
func (s *Session) HandleLifecycle(ctx context.Context, lc Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("intake: lifecycle after close ignored", "state", lc.State)
		return
	}
	s.metrics.ObserveLifecycle(string(lc.State))

	switch lc.State {
	case StateConnecting:
		s.status = Status{State: StateConnecting, Connecting: true}
	case StateConnected:
		s.status = Status{State: StateConnected, Listening: true}
	case StateDisconnected, StateIdle:
		s.status.State = StateIdle
		s.status.Connecting = false
		s.status.Listening = false
		s.resetLocked(ctx)
	case StateError:
		s.status.State = StateError
		s.status.Connecting = false
		s.status.Listening = false
		s.status.Error = lc.Message
		s.logger.Warn("intake: transport error", "message", lc.Message)
	default:
		s.logger.Warn("intake: ignoring unknown lifecycle state", "state", lc.State)
		return
	}
	s.touchLocked(ctx)
}

// Close ends the session: observers are detached and later events, resets
// and lifecycle signals are ignored. It returns the final snapshot.
func (s *Session) Close() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observers = nil
	return s.snapshotLocked()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot returns a copy of the read-models.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: s.id,
		Patient:   s.patient,
		Status:    s.status,
		Topic:     s.topic.Current(),
		Messages:  s.log.Messages(),
		Symptoms:  append([]Symptom{}, s.symptoms...),
		UpdatedAt: s.updatedAt,
	}
	if s.appointment != nil {
		appt := *s.appointment
		snap.Appointment = &appt
	}
	return snap
}

// Restore reloads the log and records from a stored snapshot so a
// reconnecting call resumes its context. Ledger, topic and status start fresh.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(snap.Messages) > 0 {
		s.log.restore(snap.Messages)
	}
	s.symptoms = append([]Symptom(nil), snap.Symptoms...)
	s.appointment = nil
	if snap.Appointment != nil {
		appt := *snap.Appointment
		s.appointment = &appt
	}
	if snap.Patient != (Patient{}) {
		s.patient = snap.Patient
	}
	s.updatedAt = s.now().UTC()
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Messages()
}

func (s *Session) Symptoms() []Symptom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Symptom{}, s.symptoms...)
}

func (s *Session) Appointment() *Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appointment == nil {
		return nil
	}
	appt := *s.appointment
	return &appt
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) touchLocked(ctx context.Context) {
	s.updatedAt = s.now().UTC()
	if len(s.observers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, o := range s.observers {
		o.SessionChanged(ctx, snap)
	}
}
