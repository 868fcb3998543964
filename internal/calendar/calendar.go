// Package calendar wraps the tenant's booking calendar. Availability is
// answered from calendar events, never from the database, so appointments
// created outside the bot still block their time.
package calendar

import (
	"context"
	"time"
)

// Event is a scheduled block on a tenant calendar.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// EventRequest describes an event to create.
type EventRequest struct {
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
}

// Provider is the calendar backend. Implementations must return an error
// rather than an empty list when the backend cannot be reached, so
// availability checks fail closed.
type Provider interface {
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, req EventRequest) (Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}
