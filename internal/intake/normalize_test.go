package intake

import (
	"encoding/json"
	"testing"
)

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name string
		role Role
		raw  any
		want string
	}{
		{name: "plain string", role: RoleUser, raw: "hello there", want: "hello there"},
		{name: "nil payload", role: RoleUser, raw: nil, want: ""},
		{name: "json string with text", role: RoleUser, raw: `{"text":"I have pain"}`, want: "I have pain"},
		{name: "json string with transcript", role: RoleBot, raw: `{"transcript":"How are you?"}`, want: "How are you?"},
		{name: "map with content", role: RoleUser, raw: map[string]any{"content": "from content"}, want: "from content"},
		{name: "text wins over content", role: RoleUser, raw: map[string]any{"content": "second", "text": "first"}, want: "first"},
		{name: "user alias", role: RoleUser, raw: map[string]any{"userText": "aliased"}, want: "aliased"},
		{name: "bot alias", role: RoleBot, raw: map[string]any{"botText": "bot aliased"}, want: "bot aliased"},
		{name: "alias of other role ignored", role: RoleUser, raw: map[string]any{"botText": "nope", "other": 1}, want: `{"botText":"nope","other":1}`},
		{name: "data string", role: RoleUser, raw: map[string]any{"data": "inside data"}, want: "inside data"},
		{name: "data text", role: RoleUser, raw: map[string]any{"data": map[string]any{"text": "nested"}}, want: "nested"},
		{name: "non string field skipped", role: RoleUser, raw: map[string]any{"text": 42, "message": "fallback"}, want: "fallback"},
		{name: "serialized fallback", role: RoleUser, raw: map[string]any{"foo": "bar"}, want: `{"foo":"bar"}`},
		{name: "empty object", role: RoleUser, raw: map[string]any{}, want: ""},
		{name: "empty json string", role: RoleUser, raw: "{}", want: ""},
		{name: "raw message", role: RoleUser, raw: json.RawMessage(`{"value":"raw"}`), want: "raw"},
		{name: "bytes", role: RoleUser, raw: []byte(`{"message":"bytes"}`), want: "bytes"},
		{name: "brace text that is not json", role: RoleUser, raw: "{not json", want: "{not json"},
		{name: "unmarshalable value", role: RoleUser, raw: make(chan int), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.role, tt.raw); got != tt.want {
				t.Fatalf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizer_CustomStrategies(t *testing.T) {
	n := NewNormalizer(FieldLookupStrategy{Paths: []string{"payload.words"}})

	if got := n.Normalize(RoleUser, `{"payload":{"words":"custom"}}`); got != "custom" {
		t.Fatalf("expected custom path to be used, got %q", got)
	}
	if got := n.Normalize(RoleUser, "plain"); got != "" {
		t.Fatalf("expected plain text to be ignored without verbatim strategy, got %q", got)
	}
}

type panickyStrategy struct{}

func (panickyStrategy) Name() string { return "panicky" }

func (panickyStrategy) Extract(Role, Payload) (string, bool) { panic("boom") }

func TestNormalizer_RecoversFromPanics(t *testing.T) {
	n := NewNormalizer(panickyStrategy{})
	if got := n.Normalize(RoleUser, "anything"); got != "" {
		t.Fatalf("expected empty text after panic, got %q", got)
	}
}

func TestNormalizeEvent_CarriesRoleAndSequence(t *testing.T) {
	utt := NewNormalizer().NormalizeEvent(TranscriptEvent{Role: RoleBot, Payload: "hi", Sequence: 7})
	if utt.Role != RoleBot || utt.Text != "hi" || utt.Sequence != 7 {
		t.Fatalf("unexpected utterance: %+v", utt)
	}
}

func TestClassifyPayload(t *testing.T) {
	if p := ClassifyPayload(`  {"a":1}  `); p.Kind != PayloadJSON || string(p.JSON) != `{"a":1}` {
		t.Fatalf("expected trimmed json payload, got %+v", p)
	}
	if p := ClassifyPayload(`[1,2]`); p.Kind != PayloadText {
		t.Fatalf("expected json array string to stay text, got %+v", p)
	}
	if p := ClassifyPayload(nil); p.Kind != PayloadEmpty {
		t.Fatalf("expected empty payload, got %+v", p)
	}
}
