package intake

import "testing"

func TestTopicTracker_Observe(t *testing.T) {
	tr := NewTopicTracker()
	if tr.Current() != TopicInitial {
		t.Fatalf("expected initial topic, got %s", tr.Current())
	}

	steps := []struct {
		text        string
		wantTopic   Topic
		wantChanged bool
	}{
		{"Hello, I'm Dr. Riya. How can I help?", TopicInitial, false},
		{"Where do you feel the pain?", TopicSymptomIntake, true},
		{"On a scale of 1 to 10, how bad is it?", TopicSymptomIntake, false},
		{"Thanks for sharing that.", TopicSymptomIntake, false},
		{"Would you prefer an online or in-person consultation?", TopicAppointmentBooking, true},
		{"Great, noted.", TopicAppointmentBooking, false},
		{"Does the Appointment time suit you?", TopicAppointmentBooking, false},
	}
	for i, s := range steps {
		got, changed := tr.Observe(s.text)
		if got != s.wantTopic || changed != s.wantChanged {
			t.Fatalf("step %d %q: got (%s, %v), want (%s, %v)", i, s.text, got, changed, s.wantTopic, s.wantChanged)
		}
	}
}

func TestTopicTracker_SymptomRuleWins(t *testing.T) {
	tr := NewTopicTracker()
	got, _ := tr.Observe("Before we book your appointment, any pain right now?")
	if got != TopicSymptomIntake {
		t.Fatalf("expected symptom rule to win, got %s", got)
	}
}

func TestTopicTracker_CaseInsensitive(t *testing.T) {
	tr := NewTopicTracker()
	if got, _ := tr.Observe("PAIN check"); got != TopicSymptomIntake {
		t.Fatalf("expected symptom-intake, got %s", got)
	}
}

func TestTopicTracker_Reset(t *testing.T) {
	tr := NewTopicTracker()
	tr.Observe("book an appointment")
	tr.Reset()
	if tr.Current() != TopicInitial {
		t.Fatalf("expected initial after reset, got %s", tr.Current())
	}
}
