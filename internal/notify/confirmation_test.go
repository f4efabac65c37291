package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
)

func confirmedSnapshot(id string, appt intake.Appointment) intake.Snapshot {
	return intake.Snapshot{
		SessionID:   id,
		Patient:     intake.Patient{Name: "Asha", Email: "asha@example.com"},
		Appointment: &appt,
	}
}

var mondayOnline = intake.Appointment{
	AppointmentType: intake.AppointmentOnline,
	Date:            "2024-01-08",
	Time:            "15:00",
	Confirmed:       true,
	Fee:             "99 INR",
}

func runConfirmer(t *testing.T, c *Confirmer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestConfirmer_SendsOncePerAppointment(t *testing.T) {
	stub := NewStubEmailSender(nil)
	c := NewConfirmer(ConfirmationConfig{Sender: stub})
	runConfirmer(t, c)

	ctx := context.Background()
	c.SessionChanged(ctx, confirmedSnapshot("s1", mondayOnline))
	c.SessionChanged(ctx, confirmedSnapshot("s1", mondayOnline))

	moved := mondayOnline
	moved.Time = "16:30"
	c.SessionChanged(ctx, confirmedSnapshot("s1", moved))

	require.Eventually(t, func() bool { return len(stub.Sent()) == 2 }, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	sent := stub.Sent()
	require.Len(t, sent, 2)

	first := sent[0]
	assert.Equal(t, "asha@example.com", first.To)
	assert.Equal(t, "Asha", first.ToName)
	assert.Contains(t, first.Subject, "2024-01-08")
	assert.Contains(t, first.Subject, "15:00")
	assert.Contains(t, first.Body, "online physiotherapy consultation")
	assert.Contains(t, first.Body, "Consultation fee: 99 INR")
	assert.NotContains(t, first.Body, "Location:")
	assert.Contains(t, sent[1].Subject, "16:30")
}

func TestConfirmer_InPersonIncludesLocation(t *testing.T) {
	stub := NewStubEmailSender(nil)
	c := NewConfirmer(ConfirmationConfig{Sender: stub, ClinicName: "Test Clinic"})
	runConfirmer(t, c)

	c.SessionChanged(context.Background(), confirmedSnapshot("s1", intake.Appointment{
		AppointmentType: intake.AppointmentInPerson,
		Location:        "Bangalore",
		Date:            "2024-01-05",
		Time:            "10:30",
		Confirmed:       true,
		Fee:             "499 INR",
	}))

	require.Eventually(t, func() bool { return len(stub.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	msg := stub.Sent()[0]
	assert.True(t, strings.HasPrefix(msg.Subject, "Your Test Clinic appointment"))
	assert.Contains(t, msg.Body, "in-person")
	assert.Contains(t, msg.Body, "Location: Bangalore")
}

func TestConfirmer_SkipsUnconfirmedAndAnonymous(t *testing.T) {
	stub := NewStubEmailSender(nil)
	c := NewConfirmer(ConfirmationConfig{Sender: stub})
	runConfirmer(t, c)
	ctx := context.Background()

	pending := mondayOnline
	pending.Confirmed = false
	c.SessionChanged(ctx, confirmedSnapshot("s1", pending))

	noEmail := confirmedSnapshot("s2", mondayOnline)
	noEmail.Patient.Email = "  "
	c.SessionChanged(ctx, noEmail)

	c.SessionChanged(ctx, intake.Snapshot{SessionID: "s3", Patient: intake.Patient{Email: "x@example.com"}})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, stub.Sent())
}

func TestConfirmer_SessionsAreIndependent(t *testing.T) {
	stub := NewStubEmailSender(nil)
	c := NewConfirmer(ConfirmationConfig{Sender: stub})
	runConfirmer(t, c)
	ctx := context.Background()

	c.SessionChanged(ctx, confirmedSnapshot("s1", mondayOnline))
	c.SessionChanged(ctx, confirmedSnapshot("s2", mondayOnline))
	require.Eventually(t, func() bool { return len(stub.Sent()) == 2 }, time.Second, 10*time.Millisecond)

	c.Forget("s1")
	c.SessionChanged(ctx, confirmedSnapshot("s1", mondayOnline))
	require.Eventually(t, func() bool { return len(stub.Sent()) == 3 }, time.Second, 10*time.Millisecond)
}

func TestConfirmer_FullQueueDropsAndAllowsRetry(t *testing.T) {
	stub := NewStubEmailSender(nil)
	c := NewConfirmer(ConfirmationConfig{Sender: stub, QueueSize: 1})
	ctx := context.Background()

	c.SessionChanged(ctx, confirmedSnapshot("s1", mondayOnline))
	c.SessionChanged(ctx, confirmedSnapshot("s2", mondayOnline)) // dropped, queue holds s1

	runConfirmer(t, c)
	require.Eventually(t, func() bool { return len(stub.Sent()) == 1 }, time.Second, 10*time.Millisecond)

	c.SessionChanged(ctx, confirmedSnapshot("s2", mondayOnline))
	require.Eventually(t, func() bool { return len(stub.Sent()) == 2 }, time.Second, 10*time.Millisecond)
}

type failingSender struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSender) Send(context.Context, EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("smtp down")
}

func (f *failingSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestConfirmer_SendFailureDoesNotStopWorker(t *testing.T) {
	sender := &failingSender{}
	c := NewConfirmer(ConfirmationConfig{Sender: sender})
	runConfirmer(t, c)
	ctx := context.Background()

	c.SessionChanged(ctx, confirmedSnapshot("s1", mondayOnline))
	c.SessionChanged(ctx, confirmedSnapshot("s2", mondayOnline))
	require.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestNewConfirmer_RequiresSender(t *testing.T) {
	assert.Panics(t, func() { NewConfirmer(ConfirmationConfig{}) })
}
