package intake

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// PayloadKind tags the shape of a raw transcript payload after classification.
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadText
	PayloadJSON
)

// Payload is a classified raw payload. Text is set for PayloadText, JSON for
// PayloadJSON.
type Payload struct {
	Kind PayloadKind
	Text string
	JSON []byte
}

// ClassifyPayload turns an arbitrary transport payload into a Payload.
// Strings holding a JSON object are treated as JSON; any other string is text.
// Non-string values are marshalled, and values that cannot be marshalled are
// classified as empty.
func ClassifyPayload(raw any) Payload {
	switch v := raw.(type) {
	case nil:
		return Payload{Kind: PayloadEmpty}
	case string:
		return classifyString(v)
	case []byte:
		return classifyString(string(v))
	case json.RawMessage:
		return classifyString(string(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Payload{Kind: PayloadEmpty}
		}
		return Payload{Kind: PayloadJSON, JSON: data}
	}
}

func classifyString(s string) Payload {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		return Payload{Kind: PayloadJSON, JSON: []byte(trimmed)}
	}
	return Payload{Kind: PayloadText, Text: s}
}

// Strategy is one named way of pulling text out of a payload. Extract reports
// false when the strategy does not apply, letting the next one try.
type Strategy interface {
	Name() string
	Extract(role Role, p Payload) (string, bool)
}

// VerbatimStrategy returns plain text payloads unchanged.
type VerbatimStrategy struct{}

func (VerbatimStrategy) Name() string { return "verbatim" }

func (VerbatimStrategy) Extract(_ Role, p Payload) (string, bool) {
	if p.Kind != PayloadText {
		return "", false
	}
	return p.Text, true
}

// FieldLookupStrategy looks up well-known text fields of a JSON payload in
// priority order and returns the first string-typed value.
type FieldLookupStrategy struct {
	Paths   []string
	Aliases map[Role]string
}

// DefaultFieldLookup returns the lookup order used by transcript frames seen in
// the wild: direct text fields, the role alias, then the data envelope.
func DefaultFieldLookup() FieldLookupStrategy {
	return FieldLookupStrategy{
		Paths: []string{"text", "transcript", "content", "message", "value", "{alias}", "data", "data.text"},
		Aliases: map[Role]string{
			RoleUser: "userText",
			RoleBot:  "botText",
		},
	}
}

func (FieldLookupStrategy) Name() string { return "field-lookup" }

func (s FieldLookupStrategy) Extract(role Role, p Payload) (string, bool) {
	if p.Kind != PayloadJSON {
		return "", false
	}
	for _, path := range s.Paths {
		if path == "{alias}" {
			alias, ok := s.Aliases[role]
			if !ok {
				continue
			}
			path = alias
		}
		res := gjson.GetBytes(p.JSON, path)
		if res.Type == gjson.String {
			return res.Str, true
		}
	}
	return "", false
}

// SerializeStrategy is the last resort: the compact JSON of the payload, or
// empty text when the serialization carries nothing useful.
type SerializeStrategy struct{}

func (SerializeStrategy) Name() string { return "serialize" }

func (SerializeStrategy) Extract(_ Role, p Payload) (string, bool) {
	if p.Kind != PayloadJSON {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, p.JSON); err != nil {
		return "", true
	}
	out := buf.String()
	if isDegenerate(out) {
		return "", true
	}
	return out, true
}

func isDegenerate(s string) bool {
	switch s {
	case "", "{}", "[]", "null", `""`, "[object Object]", `"[object Object]"`:
		return true
	}
	return false
}

// Normalizer runs its strategies in order and returns the first result.
type Normalizer struct {
	strategies []Strategy
}

// NewNormalizer builds a normalizer. With no strategies the default chain
// (verbatim, field lookup, serialize) is used.
func NewNormalizer(strategies ...Strategy) *Normalizer {
	if len(strategies) == 0 {
		strategies = []Strategy{VerbatimStrategy{}, DefaultFieldLookup(), SerializeStrategy{}}
	}
	return &Normalizer{strategies: strategies}
}

// Normalize returns the canonical text of raw, or "" when nothing usable was
// found. It never panics.
func (n *Normalizer) Normalize(role Role, raw any) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()
	p := ClassifyPayload(raw)
	if p.Kind == PayloadEmpty {
		return ""
	}
	for _, s := range n.strategies {
		if out, ok := s.Extract(role, p); ok {
			return out
		}
	}
	return ""
}

// NormalizeEvent normalizes one transport event.
func (n *Normalizer) NormalizeEvent(ev TranscriptEvent) NormalizedUtterance {
	return NormalizedUtterance{
		Role:     ev.Role,
		Text:     n.Normalize(ev.Role, ev.Payload),
		Sequence: ev.Sequence,
	}
}
