package desk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
)

func TestHub_DeliversPerSession(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	defer a.Close()
	defer b.Close()

	h.SessionChanged(context.Background(), intake.Snapshot{SessionID: "a", Topic: intake.TopicSymptomIntake})

	select {
	case snap := <-a.C:
		assert.Equal(t, intake.TopicSymptomIntake, snap.Topic)
	default:
		t.Fatal("expected snapshot for a")
	}
	select {
	case snap := <-b.C:
		t.Fatalf("b should not receive a's snapshot: %+v", snap)
	default:
	}
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("s")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		h.SessionChanged(context.Background(), intake.Snapshot{
			SessionID: "s",
			Messages:  make([]intake.Message, i),
		})
	}

	var last intake.Snapshot
	count := 0
	for len(sub.C) > 0 {
		last = <-sub.C
		count++
	}
	assert.Equal(t, 2, count)
	assert.Len(t, last.Messages, 4)
}

func TestHub_CloseAndCloseSession(t *testing.T) {
	h := NewHub(0)
	a := h.Subscribe("s")
	b := h.Subscribe("s")
	require.Equal(t, 2, h.Subscribers("s"))

	a.Close()
	a.Close()
	assert.Equal(t, 1, h.Subscribers("s"))
	_, open := <-a.C
	assert.False(t, open)

	h.CloseSession("s")
	_, open = <-b.C
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("s"))

	b.Close()
}
