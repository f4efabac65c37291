package intake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	onlineModalityRE   = regexp.MustCompile(`(?i)online|virtual|video`)
	inPersonModalityRE = regexp.MustCompile(`(?i)in[\s-]person|office|clinic|centre|center`)
	weekdayRE          = regexp.MustCompile(`(?i)(monday|tuesday|wednesday|thursday|friday|saturday)`)
	clockTimeRE        = regexp.MustCompile(`(?i)(\d{1,2})(?::(\d{2}))?\s*(am|pm)`)
)

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// AppointmentConfig configures an AppointmentExtractor.
type AppointmentConfig struct {
	// Cities is the whitelist searched after "in"/"at" for in-person visits.
	Cities      []string
	OnlineFee   string
	InPersonFee string
	// Location is the clinic time zone used to decide what "today" is.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// AppointmentExtractor turns one patient utterance into an Appointment, or
// nil when the modality, the day or the time is missing.
type AppointmentExtractor struct {
	cityRE      *regexp.Regexp
	onlineFee   string
	inPersonFee string
	loc         *time.Location
	now         func() time.Time
}

func NewAppointmentExtractor(cfg AppointmentConfig) *AppointmentExtractor {
	e := &AppointmentExtractor{
		onlineFee:   cfg.OnlineFee,
		inPersonFee: cfg.InPersonFee,
		loc:         cfg.Location,
		now:         cfg.Now,
	}
	if e.onlineFee == "" {
		e.onlineFee = "99 INR"
	}
	if e.inPersonFee == "" {
		e.inPersonFee = "499 INR"
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	cities := cfg.Cities
	if len(cities) == 0 {
		cities = []string{"bangalore", "hyderabad"}
	}
	quoted := make([]string, 0, len(cities))
	for _, c := range cities {
		if c = strings.TrimSpace(c); c != "" {
			quoted = append(quoted, regexp.QuoteMeta(c))
		}
	}
	e.cityRE = regexp.MustCompile(`(?i)(?:in|at) (` + strings.Join(quoted, "|") + `)`)
	return e
}

// Extract applies every rule to text. Partial results are discarded.
func (e *AppointmentExtractor) Extract(text string) *Appointment {
	kind, ok := classifyModality(text)
	if !ok {
		return nil
	}
	date, ok := e.resolveWeekday(text)
	if !ok {
		return nil
	}
	clock, ok := parseClockTime(text)
	if !ok {
		return nil
	}

	appt := &Appointment{
		AppointmentType: kind,
		Date:            date,
		Time:            clock,
		Confirmed:       strings.Contains(text, "confirm") || strings.Contains(text, "book"),
		Fee:             e.onlineFee,
	}
	if kind == AppointmentInPerson {
		appt.Fee = e.inPersonFee
		if m := e.cityRE.FindStringSubmatch(text); m != nil {
			appt.Location = m[1]
		}
	}
	return appt
}

func classifyModality(text string) (AppointmentType, bool) {
	switch {
	case onlineModalityRE.MatchString(text):
		return AppointmentOnline, true
	case inPersonModalityRE.MatchString(text):
		return AppointmentInPerson, true
	}
	return "", false
}

// resolveWeekday maps the first weekday name to its next occurrence strictly
// after today. Naming today's weekday means one week out.
func (e *AppointmentExtractor) resolveWeekday(text string) (string, bool) {
	m := weekdayRE.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	target, ok := weekdayByName[strings.ToLower(m[1])]
	if !ok {
		return "", false
	}
	return NextWeekday(e.now().In(e.loc), target).Format("2006-01-02"), true
}

// NextWeekday returns the calendar date of the next target weekday after
// from, never from itself.
func NextWeekday(from time.Time, target time.Weekday) time.Time {
	days := (int(target) - int(from.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	y, mo, d := from.Date()
	return time.Date(y, mo, d+days, 0, 0, 0, 0, from.Location())
}

// parseClockTime converts the first "H[:MM] am|pm" expression to "HH:MM".
func parseClockTime(text string) (string, bool) {
	m := clockTimeRE.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return to24Hour(m[1], m[2], strings.ToLower(m[3]))
}

func to24Hour(hourStr, minStr, meridiem string) (string, bool) {
	h, err := strconv.Atoi(hourStr)
	if err != nil || h < 1 || h > 12 {
		return "", false
	}
	mins := 0
	if minStr != "" {
		mins, err = strconv.Atoi(minStr)
		if err != nil || mins > 59 {
			return "", false
		}
	}
	if meridiem == "pm" && h != 12 {
		h += 12
	} else if meridiem == "am" && h == 12 {
		h = 0
	}
	return fmt.Sprintf("%02d:%02d", h, mins), true
}
