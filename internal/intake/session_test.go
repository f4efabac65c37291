package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWelcome = "Hello, I'm Dr. Riya from Physiotattva. How can I help you today?"

type sessionFixture struct {
	session  *Session
	ledger   *callOrderLedger
	recorder *callOrderRecorder
	calls    *[]string
}

// callOrderLedger wraps a MemoryLedger and records Reset calls.
type callOrderLedger struct {
	*MemoryLedger
	calls   *[]string
	failing bool
}

func (l *callOrderLedger) Admit(ctx context.Context, role Role, text string) (bool, error) {
	if l.failing {
		return false, errors.New("ledger down")
	}
	return l.MemoryLedger.Admit(ctx, role, text)
}

func (l *callOrderLedger) Reset(ctx context.Context) error {
	*l.calls = append(*l.calls, "ledger.reset")
	return l.MemoryLedger.Reset(ctx)
}

type callOrderRecorder struct {
	calls *[]string
}

func (r *callOrderRecorder) Flush(context.Context) error {
	*r.calls = append(*r.calls, "recorder.flush")
	return nil
}

func newSessionFixture(t *testing.T, mutate func(*SessionConfig)) sessionFixture {
	t.Helper()
	calls := &[]string{}
	ledger := &callOrderLedger{MemoryLedger: NewMemoryLedger(), calls: calls}
	recorder := &callOrderRecorder{calls: calls}
	now := func() time.Time { return thursday }

	cfg := SessionConfig{
		ID:             "sess-test",
		Patient:        Patient{Name: "Asha", Email: "asha@example.com"},
		Ledger:         ledger,
		Recorder:       recorder,
		WelcomeMessage: testWelcome,
		Appointments: NewAppointmentExtractor(AppointmentConfig{
			Location: clinicZone,
			Now:      now,
		}),
		Now: now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return sessionFixture{session: NewSession(cfg), ledger: ledger, recorder: recorder, calls: calls}
}

func userEvent(payload any) TranscriptEvent { return TranscriptEvent{Role: RoleUser, Payload: payload} }
func botEvent(payload any) TranscriptEvent  { return TranscriptEvent{Role: RoleBot, Payload: payload} }

func TestSession_EndToEndIntake(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	assert.Equal(t, OutcomeAccepted, s.SubmitEvent(ctx, botEvent("Where do you feel the pain?")))
	assert.Equal(t, OutcomeAccepted, s.SubmitEvent(ctx, userEvent(map[string]any{
		"text": "I have pain in my lower back, it's an 8 out of 10 pain, for about 2 weeks",
	})))

	require.Equal(t, []Symptom{{Location: "lower back", Severity: "8/10", Duration: "for about 2 weeks"}}, s.Symptoms())
	assert.Nil(t, s.Appointment())

	assert.Equal(t, OutcomeAccepted, s.SubmitEvent(ctx, botEvent(`{"transcript":"Would you prefer an online consultation?"}`)))
	assert.Equal(t, OutcomeAccepted, s.SubmitEvent(ctx, userEvent("Online on Monday at 3 pm, please confirm")))

	appt := s.Appointment()
	require.NotNil(t, appt)
	assert.Equal(t, Appointment{
		AppointmentType: AppointmentOnline,
		Date:            "2024-01-08",
		Time:            "15:00",
		Confirmed:       true,
		Fee:             "99 INR",
	}, *appt)

	snap := s.Snapshot()
	assert.Equal(t, "sess-test", snap.SessionID)
	assert.Equal(t, TopicAppointmentBooking, snap.Topic)
	require.Len(t, snap.Messages, 5)
	assert.Equal(t, WelcomeMessageID, snap.Messages[0].ID)
	assert.Equal(t, "Would you prefer an online consultation?", snap.Messages[3].Content)
}

func TestSession_DuplicatesAreIgnored(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, botEvent("Tell me about the pain"))
	first := s.SubmitEvent(ctx, userEvent("pain in my knee for 3 days"))
	before := s.Snapshot()

	second := s.SubmitEvent(ctx, userEvent("  pain in my knee for 3 days  "))
	after := s.Snapshot()

	assert.Equal(t, OutcomeAccepted, first)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.Equal(t, before.Messages, after.Messages)
	assert.Equal(t, before.Symptoms, after.Symptoms)
}

func TestSession_EmptyAndInvalidEvents(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	assert.Equal(t, OutcomeEmpty, s.SubmitEvent(ctx, userEvent("   ")))
	assert.Equal(t, OutcomeEmpty, s.SubmitEvent(ctx, userEvent(map[string]any{})))
	assert.Equal(t, OutcomeEmpty, s.SubmitEvent(ctx, userEvent(nil)))
	assert.Equal(t, OutcomeInvalidRole, s.SubmitEvent(ctx, TranscriptEvent{Role: "system", Payload: "hi"}))
	assert.Len(t, s.Messages(), 1)
}

func TestSession_StoredContentIsTrimmed(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.SubmitEvent(context.Background(), userEvent("  hello  \n"))

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestSession_PartialAppointmentDoesNotOverwrite(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, botEvent("Shall we book an appointment?"))
	s.SubmitEvent(ctx, userEvent("In-person in Hyderabad on Tuesday at 11 am"))
	want := s.Appointment()
	require.NotNil(t, want)

	s.SubmitEvent(ctx, userEvent("Actually maybe online on Friday"))
	assert.Equal(t, want, s.Appointment())
}

func TestSession_ExtractorFollowsTopic(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, userEvent("pain in my neck, online Monday 3 pm"))
	assert.Empty(t, s.Symptoms(), "no extraction in the initial topic")
	assert.Nil(t, s.Appointment())

	s.SubmitEvent(ctx, botEvent("Is it an online appointment you want?"))
	s.SubmitEvent(ctx, userEvent("there is pain in my shoulder"))
	assert.Empty(t, s.Symptoms(), "symptoms are not extracted while booking")
}

func TestSession_DuplicateBotTurnStillSetsTopic(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, botEvent("Tell me about the pain"))
	s.SubmitEvent(ctx, botEvent("Let's set up a consultation"))
	require.Equal(t, TopicAppointmentBooking, s.Snapshot().Topic)

	assert.Equal(t, OutcomeDuplicate, s.SubmitEvent(ctx, botEvent("Tell me about the pain")))
	assert.Equal(t, TopicSymptomIntake, s.Snapshot().Topic)
}

func TestSession_ResetLaw(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, botEvent("Where is the pain?"))
	s.SubmitEvent(ctx, userEvent("pain in my hip"))
	require.Equal(t, OutcomeDuplicate, s.SubmitEvent(ctx, userEvent("pain in my hip")))

	s.ResetSession(ctx)

	assert.Equal(t, []string{"recorder.flush", "ledger.reset"}, *f.calls)
	assert.Equal(t, TopicInitial, s.Snapshot().Topic)
	assert.Len(t, s.Symptoms(), 1, "records survive a reset by default")
	assert.Len(t, s.Messages(), 3)

	assert.Equal(t, OutcomeAccepted, s.SubmitEvent(ctx, userEvent("pain in my hip")))
	assert.Len(t, s.Messages(), 4)
}

func TestSession_ResetClearsRecordsWhenConfigured(t *testing.T) {
	f := newSessionFixture(t, func(cfg *SessionConfig) { cfg.ClearRecordsOnReset = true })
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, botEvent("Where is the pain?"))
	s.SubmitEvent(ctx, userEvent("pain in my hip"))
	s.ResetSession(ctx)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, WelcomeMessageID, msgs[0].ID)
	assert.Empty(t, s.Symptoms())
	assert.Nil(t, s.Appointment())
}

func TestSession_Lifecycle(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	assert.Equal(t, Status{State: StateIdle}, s.Status())

	s.HandleLifecycle(ctx, Lifecycle{State: StateConnecting})
	assert.Equal(t, Status{State: StateConnecting, Connecting: true}, s.Status())

	s.HandleLifecycle(ctx, Lifecycle{State: StateConnected})
	assert.Equal(t, Status{State: StateConnected, Listening: true}, s.Status())

	s.SubmitEvent(ctx, userEvent("hello"))

	s.HandleLifecycle(ctx, Lifecycle{State: StateError, Message: "microphone unavailable"})
	st := s.Status()
	assert.Equal(t, "microphone unavailable", st.Error)
	assert.False(t, st.Listening)
	assert.Empty(t, *f.calls, "an error must not reset the session")
	assert.Equal(t, OutcomeDuplicate, s.SubmitEvent(ctx, userEvent("hello")))

	s.HandleLifecycle(ctx, Lifecycle{State: StateDisconnected})
	st = s.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "microphone unavailable", st.Error, "disconnect keeps the error slot")
	assert.Equal(t, []string{"recorder.flush", "ledger.reset"}, *f.calls)
	assert.Equal(t, OutcomeAccepted, s.SubmitEvent(ctx, userEvent("hello")))

	s.HandleLifecycle(ctx, Lifecycle{State: StateConnecting})
	assert.Empty(t, s.Status().Error, "a new connection clears the error")
}

func TestSession_LedgerFailureAdmitsUtterance(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.ledger.failing = true

	assert.Equal(t, OutcomeAccepted, f.session.SubmitEvent(context.Background(), userEvent("hello")))
	assert.Equal(t, OutcomeAccepted, f.session.SubmitEvent(context.Background(), userEvent("hello")))
	assert.Len(t, f.session.Messages(), 3)
}

func TestSession_ObserversSeeEveryChange(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	var snaps []Snapshot
	s.AddObserver(ObserverFunc(func(_ context.Context, snap Snapshot) {
		snaps = append(snaps, snap)
	}))
	s.AddObserver(nil)

	s.SubmitEvent(ctx, userEvent("hello"))
	s.SubmitEvent(ctx, userEvent("hello"))
	s.HandleLifecycle(ctx, Lifecycle{State: StateConnected})
	s.ResetSession(ctx)

	require.Len(t, snaps, 3, "duplicates do not notify")
	assert.Len(t, snaps[0].Messages, 2)
	assert.True(t, snaps[1].Status.Listening)
}

func TestSession_CloseDetachesObserversAndFreezesState(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	var notified int
	s.AddObserver(ObserverFunc(func(context.Context, Snapshot) { notified++ }))

	s.SubmitEvent(ctx, botEvent("Where is the pain?"))
	s.SubmitEvent(ctx, userEvent("pain in my knee"))
	require.Equal(t, 2, notified)

	final := s.Close()
	assert.True(t, s.Closed())
	assert.Len(t, final.Messages, 3)
	assert.Len(t, final.Symptoms, 1)

	assert.Equal(t, OutcomeClosed, s.SubmitEvent(ctx, userEvent("pain in my wrist")))
	s.HandleLifecycle(ctx, Lifecycle{State: StateDisconnected})
	s.HandleLifecycle(ctx, Lifecycle{State: StateError, Message: "late"})
	s.ResetSession(ctx)
	s.AddObserver(ObserverFunc(func(context.Context, Snapshot) { notified++ }))

	assert.Equal(t, 2, notified, "a closed session notifies nobody")
	assert.Empty(t, *f.calls, "a closed session is never reset")
	assert.Equal(t, final.Status, s.Status())
	assert.Len(t, s.Messages(), 3)
	assert.Len(t, s.Symptoms(), 1)
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	s.SubmitEvent(ctx, botEvent("Shall we book an appointment?"))
	s.SubmitEvent(ctx, userEvent("online Monday 3 pm"))

	snap := s.Snapshot()
	require.NotNil(t, snap.Appointment)
	snap.Appointment.Time = "09:00"
	snap.Messages[0].Content = "changed"

	assert.Equal(t, "15:00", s.Appointment().Time)
	assert.Equal(t, testWelcome, s.Messages()[0].Content)
}

func TestSession_Restore(t *testing.T) {
	src := newSessionFixture(t, nil).session
	ctx := context.Background()
	src.SubmitEvent(ctx, botEvent("Where is the pain?"))
	src.SubmitEvent(ctx, userEvent("pain in my elbow"))
	snap := src.Snapshot()

	dst := newSessionFixture(t, func(cfg *SessionConfig) { cfg.Patient = Patient{} }).session
	dst.Restore(snap)

	assert.Equal(t, snap.Messages, dst.Messages())
	assert.Equal(t, snap.Symptoms, dst.Symptoms())
	assert.Equal(t, snap.Patient, dst.Patient())
	assert.Equal(t, TopicInitial, dst.Snapshot().Topic, "topic is re-inferred after resume")
}

func TestNewSession_RequiresID(t *testing.T) {
	assert.Panics(t, func() { NewSession(SessionConfig{}) })
}
