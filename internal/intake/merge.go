package intake

import "strings"

// MergeSymptoms folds incoming candidates into existing and returns a new
// slice; neither input is modified. A candidate whose location matches an
// existing entry (ignoring case) overwrites only the fields it carries, and
// the entry keeps its first-seen spelling and position. Other candidates are
// appended in order.
func MergeSymptoms(existing, incoming []Symptom) []Symptom {
	out := make([]Symptom, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for _, s := range incoming {
		if strings.TrimSpace(s.Location) == "" {
			continue
		}
		if i := indexOfLocation(out, s.Location); i >= 0 {
			out[i] = mergeSymptom(out[i], s)
			continue
		}
		out = append(out, s)
	}
	return out
}

func indexOfLocation(list []Symptom, location string) int {
	for i := range list {
		if strings.EqualFold(list[i].Location, location) {
			return i
		}
	}
	return -1
}

func mergeSymptom(base, update Symptom) Symptom {
	if update.Severity != "" {
		base.Severity = update.Severity
	}
	if update.Duration != "" {
		base.Duration = update.Duration
	}
	if update.Pattern != "" {
		base.Pattern = update.Pattern
	}
	if update.Triggers != "" {
		base.Triggers = update.Triggers
	}
	return base
}

// MergeAppointment returns incoming when it is non-nil, replacing current in
// full. A nil extraction never clears or edits the current appointment.
func MergeAppointment(current, incoming *Appointment) *Appointment {
	if incoming == nil {
		return current
	}
	next := *incoming
	return &next
}
