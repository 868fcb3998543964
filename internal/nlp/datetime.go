package nlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateTimeParser turns Spanish natural-language datetime phrases into
// concrete instants. Resolution is relative to Now in Loc, and ambiguous
// expressions prefer the future: "el lunes a las 3pm" said on a Tuesday
// means next Monday, never yesterday.
//
// An input must carry an explicit clock time to parse; a bare date like
// "mañana" is treated as incomplete so the dialog can re-prompt instead of
// inventing an hour.
type DateTimeParser struct {
	Now func() time.Time
	Loc *time.Location
}

func NewDateTimeParser(loc *time.Location) *DateTimeParser {
	if loc == nil {
		loc = time.UTC
	}
	return &DateTimeParser{Now: time.Now, Loc: loc}
}

var monthNames = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

var weekdayNames = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miercoles": time.Wednesday, "jueves": time.Thursday,
	"viernes": time.Friday, "sabado": time.Saturday,
}

var (
	isoRe      = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[T ](\d{2}):(\d{2})`)
	dmyRe      = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	dayMonthRe = regexp.MustCompile(`\b(\d{1,2})\s+de\s+([a-z]+)(?:\s+de[l]?\s+(\d{4}))?\b`)
	clockRe    = regexp.MustCompile(`\b(?:a\s+las?\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?\b`)
	explicitRe = regexp.MustCompile(`\ba\s+las?\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`)
)

// Parse extracts a date and a clock time from raw. ok is false when either
// component is missing or the combination is invalid.
func (p *DateTimeParser) Parse(raw string) (time.Time, bool) {
	if t, ok := p.parseISO(raw); ok {
		return t, true
	}

	text := Normalize(raw)
	if text == "" {
		return time.Time{}, false
	}
	now := p.now()

	hour, minute, hasTime := p.parseClock(text)
	if !hasTime {
		return time.Time{}, false
	}

	day, month, year, dateKind := p.parseDate(text, now)
	switch dateKind {
	case dateNone:
		// Time only: today, or tomorrow if the moment already passed.
		t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, p.Loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	case dateRelative, dateWeekday:
		t := time.Date(year, month, day, hour, minute, 0, 0, p.Loc)
		if dateKind == dateWeekday && !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
		return t, true
	case dateExplicitNoYear:
		t := time.Date(year, month, day, hour, minute, 0, 0, p.Loc)
		if t.Month() != month || t.Day() != day {
			return time.Time{}, false
		}
		if !t.After(now) {
			t = t.AddDate(1, 0, 0)
		}
		return t, true
	case dateExplicit:
		t := time.Date(year, month, day, hour, minute, 0, 0, p.Loc)
		if t.Month() != month || t.Day() != day {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// ParseISO accepts the constrained "YYYY-MM-DDTHH:MM" shape the extraction
// model is instructed to emit, interpreted in the parser's location.
func (p *DateTimeParser) ParseISO(raw string) (time.Time, bool) {
	return p.parseISO(raw)
}

func (p *DateTimeParser) parseISO(raw string) (time.Time, bool) {
	m := isoRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, p.Loc)
	if int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

type dateKind int

const (
	dateNone dateKind = iota
	dateRelative
	dateWeekday
	dateExplicitNoYear
	dateExplicit
)

func (p *DateTimeParser) parseDate(text string, now time.Time) (day int, month time.Month, year int, kind dateKind) {
	if strings.Contains(text, "pasado manana") {
		d := now.AddDate(0, 0, 2)
		return d.Day(), d.Month(), d.Year(), dateRelative
	}
	if mentionsTomorrow(text) {
		d := now.AddDate(0, 0, 1)
		return d.Day(), d.Month(), d.Year(), dateRelative
	}
	if containsWord(text, "hoy") {
		return now.Day(), now.Month(), now.Year(), dateRelative
	}

	for name, wd := range weekdayNames {
		if containsWord(text, name) {
			delta := (int(wd) - int(now.Weekday()) + 7) % 7
			d := now.AddDate(0, 0, delta)
			return d.Day(), d.Month(), d.Year(), dateWeekday
		}
	}

	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		if mo, ok := monthNames[m[2]]; ok {
			d, _ := strconv.Atoi(m[1])
			if m[3] != "" {
				y, _ := strconv.Atoi(m[3])
				return d, mo, y, dateExplicit
			}
			return d, mo, now.Year(), dateExplicitNoYear
		}
	}

	if m := dmyRe.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			if m[3] != "" {
				y, _ := strconv.Atoi(m[3])
				if y < 100 {
					y += 2000
				}
				return d, time.Month(mo), y, dateExplicit
			}
			return d, time.Month(mo), now.Year(), dateExplicitNoYear
		}
	}

	return 0, 0, 0, dateNone
}

// mentionsTomorrow distinguishes "mañana" the day from "mañana" the time of
// day ("por la mañana").
func mentionsTomorrow(text string) bool {
	toks := strings.Fields(text)
	for i, tok := range toks {
		if tok != "manana" {
			continue
		}
		if i > 0 && (toks[i-1] == "la" || toks[i-1] == "esta") {
			continue
		}
		return true
	}
	return false
}

func (p *DateTimeParser) parseClock(text string) (hour, minute int, ok bool) {
	if containsWord(text, "mediodia") {
		return 12, 0, true
	}
	if containsWord(text, "medianoche") {
		return 0, 0, true
	}

	m := explicitRe.FindStringSubmatch(text)
	if m == nil {
		// Without an "a las" marker only unambiguous forms count:
		// a meridiem suffix or a minutes component.
		for _, cand := range clockRe.FindAllStringSubmatch(text, -1) {
			if cand[2] != "" || cand[3] != "" {
				m = cand
				break
			}
		}
	}
	if m == nil {
		return 0, 0, false
	}

	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}

	meridiem := strings.ReplaceAll(m[3], ".", "")
	switch {
	case meridiem == "pm" && hour < 12:
		hour += 12
	case meridiem == "am" && hour == 12:
		hour = 0
	case meridiem == "":
		switch {
		case strings.Contains(text, "de la tarde") || strings.Contains(text, "de la noche") || strings.Contains(text, "por la tarde") || strings.Contains(text, "por la noche"):
			if hour < 12 {
				hour += 12
			}
		case strings.Contains(text, "de la manana") || strings.Contains(text, "por la manana"):
			// already morning
		case hour >= 1 && hour <= 7:
			// Bare small hours read as afternoon: "a las 3" means 15:00
			// for appointment booking.
			hour += 12
		}
	}
	return hour, minute, true
}

func (p *DateTimeParser) now() time.Time {
	if p.Now != nil {
		return p.Now().In(p.Loc)
	}
	return time.Now().In(p.Loc)
}

var spanishWeekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var spanishMonths = [...]string{"", "enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// FormatSpanish renders an instant the way confirmations show it:
// "el lunes 15 de junio de 2026 a las 15:00".
func FormatSpanish(t time.Time) string {
	return fmt.Sprintf("el %s %d de %s de %d a las %02d:%02d",
		spanishWeekdays[int(t.Weekday())], t.Day(), spanishMonths[int(t.Month())],
		t.Year(), t.Hour(), t.Minute())
}
