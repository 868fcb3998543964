package appointments

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

// Appointment is a confirmed booking. IDs are sequential integers because
// users type them back when cancelling ("la cita 42"); everything else in
// the system uses uuids.
type Appointment struct {
	ID              int64
	TenantID        uuid.UUID
	ClientPhone     string
	ClientName      string
	ScheduledFor    time.Time
	Duration        time.Duration
	Status          Status
	SlotValues      map[string]string
	CalendarEventID string
	CreatedAt       time.Time
	CancelledAt     *time.Time
}

func (a *Appointment) End() time.Time {
	return a.ScheduledFor.Add(a.Duration)
}
