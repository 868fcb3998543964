package tenants

import (
	"time"

	"github.com/google/uuid"
)

// SlotKind determines how a slot value is extracted from user text.
type SlotKind string

const (
	SlotKindName     SlotKind = "name"
	SlotKindDateTime SlotKind = "datetime"
	SlotKindOption   SlotKind = "option"
	SlotKindText     SlotKind = "text"
)

// SlotSpec describes one piece of information a tenant collects before an
// appointment can be committed. Option slots carry the closed list of
// admissible values.
type SlotSpec struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Prompt   string   `json:"prompt,omitempty"`
	Kind     SlotKind `json:"kind"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Tenant is one business using the assistant: its messaging identity, its
// calendar, and the slot spec driving the scheduling flow.
type Tenant struct {
	ID                        uuid.UUID
	Name                      string
	Industry                  string
	Schedule                  string
	CatalogURL                string
	WhatsAppNumber            string
	CalendarID                string
	Timezone                  string
	ConfirmationTemplate      string
	AllowParallelAppointments bool
	Slots                     []SlotSpec
	CreatedAt                 time.Time
}

// defaultSlots is used when a tenant has not configured appointment slots.
var defaultSlots = []SlotSpec{
	{Key: "client_name", Label: "nombre completo", Kind: SlotKindName, Required: true},
	{Key: "appointment_datetime", Label: "fecha y hora", Kind: SlotKindDateTime, Required: true},
}

// SlotSpecs returns the tenant's ordered slot configuration, falling back to
// the default name + datetime pair.
func (t *Tenant) SlotSpecs() []SlotSpec {
	if len(t.Slots) == 0 {
		return defaultSlots
	}
	return t.Slots
}

// Slot looks up a slot spec by key.
func (t *Tenant) Slot(key string) (SlotSpec, bool) {
	for _, s := range t.SlotSpecs() {
		if s.Key == key {
			return s, true
		}
	}
	return SlotSpec{}, false
}

// DateTimeSlotKey returns the key of the tenant's datetime slot.
func (t *Tenant) DateTimeSlotKey() string {
	for _, s := range t.SlotSpecs() {
		if s.Kind == SlotKindDateTime {
			return s.Key
		}
	}
	return "appointment_datetime"
}

// Location resolves the tenant's IANA timezone, falling back to UTC when the
// zone is missing or invalid.
func (t *Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
