package tenants

import (
	"testing"
	"time"
)

func TestSlotSpecsDefaults(t *testing.T) {
	tenant := &Tenant{Name: "Clínica Dental Sonrisa"}

	slots := tenant.SlotSpecs()
	if len(slots) != 2 {
		t.Fatalf("expected 2 default slots, got %d", len(slots))
	}
	if slots[0].Kind != SlotKindName {
		t.Errorf("first default slot kind = %s, want name", slots[0].Kind)
	}
	if slots[1].Kind != SlotKindDateTime {
		t.Errorf("second default slot kind = %s, want datetime", slots[1].Kind)
	}
	for _, s := range slots {
		if !s.Required {
			t.Errorf("default slot %s should be required", s.Key)
		}
	}
}

func TestSlotSpecsConfigured(t *testing.T) {
	tenant := &Tenant{
		Slots: []SlotSpec{
			{Key: "client_name", Kind: SlotKindName, Required: true},
			{Key: "doctor", Kind: SlotKindOption, Required: true, Options: []string{"María Martinez", "Jorge Díaz"}},
			{Key: "cita", Kind: SlotKindDateTime, Required: true},
		},
	}

	if got := len(tenant.SlotSpecs()); got != 3 {
		t.Fatalf("expected 3 slots, got %d", got)
	}

	spec, ok := tenant.Slot("doctor")
	if !ok {
		t.Fatal("doctor slot not found")
	}
	if len(spec.Options) != 2 {
		t.Errorf("doctor options = %v", spec.Options)
	}

	if key := tenant.DateTimeSlotKey(); key != "cita" {
		t.Errorf("DateTimeSlotKey = %q, want cita", key)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	tests := []struct {
		tz   string
		want string
	}{
		{"", "UTC"},
		{"not-a-zone", "UTC"},
		{"America/Bogota", "America/Bogota"},
	}

	for _, tt := range tests {
		tenant := &Tenant{Timezone: tt.tz}
		if got := tenant.Location().String(); got != tt.want {
			t.Errorf("Location(%q) = %s, want %s", tt.tz, got, tt.want)
		}
	}
}

func TestLocationConvertsInstants(t *testing.T) {
	tenant := &Tenant{Timezone: "America/Bogota"}
	utc := time.Date(2026, 6, 15, 20, 0, 0, 0, time.UTC)
	local := utc.In(tenant.Location())
	if local.Hour() != 15 {
		t.Errorf("expected 15:00 local, got %d:00", local.Hour())
	}
}
