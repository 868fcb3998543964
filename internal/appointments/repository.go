package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/citabot/citabot/internal/storage"
)

var ErrNotFound = errors.New("appointments: not found")

// Repository persists appointments in Postgres. Every method takes the
// storage.Querier to run against, so the same repository serves reads on the
// pool and writes inside a transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const appointmentColumns = `id, tenant_id, client_phone, client_name, scheduled_for,
	duration_minutes, status, slot_values, calendar_event_id, created_at, cancelled_at`

// Create inserts a scheduled appointment and fills in its assigned id and
// creation time.
func (r *Repository) Create(ctx context.Context, q storage.Querier, appt *Appointment) error {
	slots, err := json.Marshal(appt.SlotValues)
	if err != nil {
		return fmt.Errorf("appointments: marshal slot values: %w", err)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO appointments
			(tenant_id, client_phone, client_name, scheduled_for, duration_minutes, status, slot_values, calendar_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		appt.TenantID, appt.ClientPhone, appt.ClientName, appt.ScheduledFor,
		int(appt.Duration.Minutes()), StatusScheduled, slots, appt.CalendarEventID,
	).Scan(&appt.ID, &appt.CreatedAt)
	if err != nil {
		return fmt.Errorf("appointments: create: %w", err)
	}
	appt.Status = StatusScheduled
	return nil
}

// GetByID fetches an appointment, scoped to the tenant and phone so one
// user can never address another user's booking by guessing ids.
func (r *Repository) GetByID(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, id int64) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2 AND client_phone = $3`,
		id, tenantID, clientPhone)
	return scanAppointment(row)
}

// FindScheduledAt finds the user's scheduled appointment at an exact
// instant. Cancellation looks bookings up with the stored timestamp, so the
// match is equality, not a range.
func (r *Repository) FindScheduledAt(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, at time.Time) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND client_phone = $2 AND scheduled_for = $3 AND status = $4
		ORDER BY id
		LIMIT 1`,
		tenantID, clientPhone, at, StatusScheduled)
	return scanAppointment(row)
}

// ListUpcoming returns the user's future scheduled appointments, soonest
// first.
func (r *Repository) ListUpcoming(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, now time.Time) ([]*Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND client_phone = $2 AND status = $3 AND scheduled_for > $4
		ORDER BY scheduled_for`,
		tenantID, clientPhone, StatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	return appts, nil
}

// Cancel marks a scheduled appointment cancelled. ErrNotFound means it does
// not exist, belongs to someone else, or was already cancelled.
func (r *Repository) Cancel(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, id int64, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET status = $1, cancelled_at = $2
		WHERE id = $3 AND tenant_id = $4 AND client_phone = $5 AND status = $6`,
		StatusCancelled, at, id, tenantID, clientPhone, StatusScheduled)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*Appointment, error) {
	var (
		appt     Appointment
		minutes  int
		slotsRaw []byte
	)
	err := row.Scan(&appt.ID, &appt.TenantID, &appt.ClientPhone, &appt.ClientName,
		&appt.ScheduledFor, &minutes, &appt.Status, &slotsRaw,
		&appt.CalendarEventID, &appt.CreatedAt, &appt.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: scan: %w", err)
	}
	appt.Duration = time.Duration(minutes) * time.Minute
	if len(slotsRaw) > 0 {
		if err := json.Unmarshal(slotsRaw, &appt.SlotValues); err != nil {
			return nil, fmt.Errorf("appointments: unmarshal slot values: %w", err)
		}
	}
	return &appt, nil
}
