package nlp

import (
	"testing"
	"time"
)

// Reference "now" for every parser test: Tuesday June 2 2026, 10:00 Bogota.
func testParser(t *testing.T) *DateTimeParser {
	t.Helper()
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	p := NewDateTimeParser(loc)
	p.Now = func() time.Time {
		return time.Date(2026, time.June, 2, 10, 0, 0, 0, loc)
	}
	return p
}

func TestParseDateTime(t *testing.T) {
	p := testParser(t)
	loc := p.Loc

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"tomorrow afternoon", "mañana a las 3pm", time.Date(2026, time.June, 3, 15, 0, 0, 0, loc)},
		{"tomorrow bare hour reads pm", "mañana a las 3", time.Date(2026, time.June, 3, 15, 0, 0, 0, loc)},
		{"day after tomorrow", "pasado mañana a las 10am", time.Date(2026, time.June, 4, 10, 0, 0, 0, loc)},
		{"today later", "hoy a las 4 de la tarde", time.Date(2026, time.June, 2, 16, 0, 0, 0, loc)},
		{"weekday prefers future", "el lunes a las 3pm", time.Date(2026, time.June, 8, 15, 0, 0, 0, loc)},
		{"same weekday later today", "el martes a las 18:00", time.Date(2026, time.June, 2, 18, 0, 0, 0, loc)},
		{"same weekday earlier rolls a week", "el martes a las 9:00", time.Date(2026, time.June, 9, 9, 0, 0, 0, loc)},
		{"day of month", "el 15 de junio a las 10:30", time.Date(2026, time.June, 15, 10, 30, 0, 0, loc)},
		{"past day-month rolls a year", "el 1 de enero a las 10:00", time.Date(2027, time.January, 1, 10, 0, 0, 0, loc)},
		{"numeric dmy", "15/06 a las 10:00", time.Date(2026, time.June, 15, 10, 0, 0, 0, loc)},
		{"numeric dmy with year", "15/06/2027 a las 10:00", time.Date(2027, time.June, 15, 10, 0, 0, 0, loc)},
		{"explicit year with month name", "el 15 de junio de 2027 a las 9:00", time.Date(2027, time.June, 15, 9, 0, 0, 0, loc)},
		{"time only past rolls to tomorrow", "a las 9:00", time.Date(2026, time.June, 3, 9, 0, 0, 0, loc)},
		{"time only future stays today", "a las 11:30", time.Date(2026, time.June, 2, 11, 30, 0, 0, loc)},
		{"noon", "mañana al mediodía", time.Date(2026, time.June, 3, 12, 0, 0, 0, loc)},
		{"evening qualifier", "el viernes a las 8 de la noche", time.Date(2026, time.June, 5, 20, 0, 0, 0, loc)},
		{"morning qualifier", "el viernes a las 8 de la mañana", time.Date(2026, time.June, 5, 8, 0, 0, 0, loc)},
		{"iso passthrough", "2026-06-15T14:00", time.Date(2026, time.June, 15, 14, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Parse(tt.in)
			if !ok {
				t.Fatalf("Parse(%q) did not parse", tt.in)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDateTimeRejectsIncomplete(t *testing.T) {
	p := testParser(t)

	tests := []string{
		"mañana",                       // date without time
		"el lunes",                     // weekday without time
		"quiero una cita",              // nothing to parse
		"el 31 de febrero a las 10:00", // impossible date
		"",
	}
	for _, in := range tests {
		if got, ok := p.Parse(in); ok {
			t.Fatalf("Parse(%q) = %v, expected no parse", in, got)
		}
	}
}

func TestParseISOValidation(t *testing.T) {
	p := testParser(t)

	if _, ok := p.ParseISO("2026-13-01T10:00"); ok {
		t.Fatalf("accepted impossible month")
	}
	if _, ok := p.ParseISO("NO"); ok {
		t.Fatalf("accepted refusal sentinel")
	}
	got, ok := p.ParseISO("2026-06-15 14:30")
	if !ok || got.Hour() != 14 || got.Minute() != 30 {
		t.Fatalf("space-separated ISO form: got %v ok=%v", got, ok)
	}
}

func TestMorningMananaIsNotTomorrow(t *testing.T) {
	p := testParser(t)

	// "por la mañana" qualifies the time of day, not the date.
	got, ok := p.Parse("el viernes a las 9 por la mañana")
	if !ok {
		t.Fatalf("did not parse")
	}
	want := time.Date(2026, time.June, 5, 9, 0, 0, 0, p.Loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFormatSpanish(t *testing.T) {
	loc, _ := time.LoadLocation("America/Bogota")
	got := FormatSpanish(time.Date(2026, time.June, 15, 15, 0, 0, 0, loc))
	want := "el lunes 15 de junio de 2026 a las 15:00"
	if got != want {
		t.Fatalf("FormatSpanish = %q, want %q", got, want)
	}
}
