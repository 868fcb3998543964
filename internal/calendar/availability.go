package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/citabot/citabot/internal/nlp"
)

// Checker answers whether a proposed slot is free on a tenant calendar.
type Checker struct {
	provider Provider
}

func NewChecker(provider Provider) *Checker {
	return &Checker{provider: provider}
}

// Query is a proposed appointment slot. Resource names the staff member or
// room the appointment occupies; it is only consulted when allowParallel is
// set.
type Query struct {
	CalendarID    string
	Start         time.Time
	Duration      time.Duration
	AllowParallel bool
	Resource      string
}

// IsAvailable reports whether the slot is free. With AllowParallel unset any
// overlapping event blocks the slot. With it set, only an overlapping event
// that mentions the same resource blocks; overlaps with other resources are
// allowed. A provider error is returned as an error, never as availability.
func (c *Checker) IsAvailable(ctx context.Context, q Query) (bool, error) {
	if q.Duration <= 0 {
		return false, fmt.Errorf("calendar: non-positive slot duration %v", q.Duration)
	}
	end := q.Start.Add(q.Duration)

	events, err := c.provider.ListEvents(ctx, q.CalendarID, q.Start, end)
	if err != nil {
		return false, fmt.Errorf("calendar: availability check: %w", err)
	}

	resource := nlp.Normalize(q.Resource)
	for _, ev := range events {
		if !overlaps(q.Start, end, ev.Start, ev.End) {
			continue
		}
		if !q.AllowParallel {
			return false, nil
		}
		if resource == "" || eventMentions(ev, resource) {
			return false, nil
		}
	}
	return true, nil
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func eventMentions(ev Event, resource string) bool {
	text := nlp.Normalize(ev.Summary + " " + ev.Description)
	return strings.Contains(text, resource)
}
