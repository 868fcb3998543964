package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/citabot/citabot/internal/storage"
)

// ErrNotFound indicates no tenant matched the lookup.
var ErrNotFound = errors.New("tenants: not found")

// Repository provides persistence for tenants.
type Repository struct {
	db storage.Querier
}

// NewRepository creates a repository over a pgx pool or transaction.
func NewRepository(db storage.Querier) *Repository {
	if db == nil {
		panic("tenants: querier required")
	}
	return &Repository{db: db}
}

const tenantColumns = `id, name, industry, schedule, catalog_url, whatsapp_number,
	calendar_id, timezone, confirmation_template, allow_parallel_appointments,
	appointment_slots, created_at`

// GetByID loads a tenant by its primary key.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

// GetByWhatsAppNumber resolves the tenant owning the given inbound number.
// Every webhook delivery starts here.
func (r *Repository) GetByWhatsAppNumber(ctx context.Context, number string) (*Tenant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE whatsapp_number = $1`, number)
	return scanTenant(row)
}

// Create inserts a tenant. Used by seeding and tests.
func (r *Repository) Create(ctx context.Context, t *Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	slots, err := json.Marshal(t.SlotSpecs())
	if err != nil {
		return fmt.Errorf("tenants: encode slots: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO tenants (
			id, name, industry, schedule, catalog_url, whatsapp_number,
			calendar_id, timezone, confirmation_template,
			allow_parallel_appointments, appointment_slots
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.Name, t.Industry, t.Schedule, t.CatalogURL, t.WhatsAppNumber,
		t.CalendarID, t.Timezone, t.ConfirmationTemplate,
		t.AllowParallelAppointments, slots)
	if err != nil {
		return fmt.Errorf("tenants: insert: %w", err)
	}
	return nil
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	var slots []byte
	err := row.Scan(&t.ID, &t.Name, &t.Industry, &t.Schedule, &t.CatalogURL,
		&t.WhatsAppNumber, &t.CalendarID, &t.Timezone, &t.ConfirmationTemplate,
		&t.AllowParallelAppointments, &slots, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenants: scan: %w", err)
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &t.Slots); err != nil {
			return nil, fmt.Errorf("tenants: decode slots: %w", err)
		}
	}
	return &t, nil
}
