package intake

import "strings"

var (
	symptomKeywords     = []string{"discomfort", "pain", "severity", "scale"}
	appointmentKeywords = []string{"appointment", "consultation", "online", "in-person"}
)

// TopicTracker infers the current topic from bot turns. The symptom rule is
// checked before the appointment rule; a bot turn matching neither leaves the
// topic unchanged. It is owned by one session and is not safe for concurrent
// use on its own.
type TopicTracker struct {
	current Topic
}

func NewTopicTracker() *TopicTracker {
	return &TopicTracker{current: TopicInitial}
}

// Observe scans a bot utterance and returns the resulting topic and whether
// it differs from the previous one.
func (t *TopicTracker) Observe(botText string) (Topic, bool) {
	next := t.current
	lower := strings.ToLower(botText)
	switch {
	case containsAny(lower, symptomKeywords):
		next = TopicSymptomIntake
	case containsAny(lower, appointmentKeywords):
		next = TopicAppointmentBooking
	}
	changed := next != t.current
	t.current = next
	return next, changed
}

func (t *TopicTracker) Current() Topic {
	return t.current
}

func (t *TopicTracker) Reset() {
	t.current = TopicInitial
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
