package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// ConfirmationConfig configures a Confirmer.
type ConfirmationConfig struct {
	Sender     EmailSender
	ClinicName string
	// QueueSize bounds pending e-mails. Defaults to 64.
	QueueSize int
	// SendTimeout bounds one delivery. Defaults to 10s.
	SendTimeout time.Duration
	Logger      *logging.Logger
}

type confirmationJob struct {
	sessionID string
	msg       EmailMessage
}

// Confirmer e-mails the patient once per distinct confirmed appointment. It
// observes sessions and hands work to its own goroutine, since observers run
// while the session is locked.
type Confirmer struct {
	sender      EmailSender
	clinicName  string
	sendTimeout time.Duration
	logger      *logging.Logger
	queue       chan confirmationJob

	mu   sync.Mutex
	sent map[string]map[string]struct{} // session id -> appointment keys
}

func NewConfirmer(cfg ConfirmationConfig) *Confirmer {
	if cfg.Sender == nil {
		panic("notify: email sender required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "Physiotattva"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Confirmer{
		sender:      cfg.Sender,
		clinicName:  cfg.ClinicName,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		queue:       make(chan confirmationJob, cfg.QueueSize),
		sent:        make(map[string]map[string]struct{}),
	}
}

// SessionChanged implements intake.Observer.
func (c *Confirmer) SessionChanged(_ context.Context, snap intake.Snapshot) {
	appt := snap.Appointment
	if appt == nil || !appt.Confirmed {
		return
	}
	email := strings.TrimSpace(snap.Patient.Email)
	if email == "" {
		return
	}

	key := appt.Key()
	c.mu.Lock()
	keys, ok := c.sent[snap.SessionID]
	if !ok {
		keys = make(map[string]struct{})
		c.sent[snap.SessionID] = keys
	}
	if _, done := keys[key]; done {
		c.mu.Unlock()
		return
	}
	keys[key] = struct{}{}
	c.mu.Unlock()

	job := confirmationJob{
		sessionID: snap.SessionID,
		msg:       c.compose(snap.Patient, *appt),
	}
	select {
	case c.queue <- job:
	default:
		c.logger.Warn("notify: confirmation queue full, dropping", "session_id", snap.SessionID)
		c.mu.Lock()
		delete(keys, key)
		c.mu.Unlock()
	}
}

// Run delivers queued confirmations until ctx is done.
func (c *Confirmer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.queue:
			c.deliver(ctx, job)
		}
	}
}

func (c *Confirmer) deliver(ctx context.Context, job confirmationJob) {
	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.sender.Send(sendCtx, job.msg); err != nil {
		c.logger.Error("notify: appointment confirmation failed", "session_id", job.sessionID, "error", err)
		return
	}
	c.logger.Info("notify: appointment confirmation sent", "session_id", job.sessionID)
}

// Forget drops the delivery history of a finished session.
func (c *Confirmer) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.sent, sessionID)
	c.mu.Unlock()
}

func (c *Confirmer) compose(p intake.Patient, appt intake.Appointment) EmailMessage {
	name := p.Name
	if name == "" {
		name = "there"
	}
	kind := "online"
	if appt.AppointmentType == intake.AppointmentInPerson {
		kind = "in-person"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Your %s physiotherapy consultation with %s is confirmed.\n\n", kind, c.clinicName)
	fmt.Fprintf(&b, "Date: %s\n", appt.Date)
	fmt.Fprintf(&b, "Time: %s\n", appt.Time)
	if appt.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", appt.Location)
	}
	fmt.Fprintf(&b, "Consultation fee: %s\n", appt.Fee)
	b.WriteString("\nReply to this e-mail if you need to reschedule.\n")

	return EmailMessage{
		To:      p.Email,
		ToName:  p.Name,
		Subject: fmt.Sprintf("Your %s appointment on %s at %s", c.clinicName, appt.Date, appt.Time),
		Body:    b.String(),
	}
}
