package intake

import (
	"regexp"
	"strings"
)

var (
	symptomLocationRE = regexp.MustCompile(`(?i)pain in (?:my|the) ([a-z\s]+)`)
	symptomSeverityRE = regexp.MustCompile(`(?i)([0-9]|10)(?: out of 10)? (?:pain|severity)`)
	symptomDurationRE = regexp.MustCompile(`(?i)(for|since|about) ([a-z0-9\s]+) (days?|weeks?|months?|years?)`)
)

// SymptomExtractor pulls body locations, a severity and a duration out of a
// patient utterance.
//
// Severity and duration are scanned once per utterance and attached to the
// last location found. An utterance naming two locations with different
// severities therefore records only one severity, on the later location.
type SymptomExtractor struct{}

func NewSymptomExtractor() *SymptomExtractor {
	return &SymptomExtractor{}
}

// Extract returns one candidate per "pain in my/the <location>" mention, in
// order of appearance. The result is empty when no location was mentioned.
func (e *SymptomExtractor) Extract(text string) []Symptom {
	var out []Symptom
	for _, m := range symptomLocationRE.FindAllStringSubmatch(text, -1) {
		location := strings.TrimSpace(m[1])
		if location == "" {
			continue
		}
		out = append(out, Symptom{Location: location})
	}
	if len(out) == 0 {
		return nil
	}

	last := &out[len(out)-1]
	if m := symptomSeverityRE.FindStringSubmatch(text); m != nil {
		last.Severity = m[1] + "/10"
	}
	if m := symptomDurationRE.FindString(text); m != "" {
		last.Duration = m
	}
	return out
}
