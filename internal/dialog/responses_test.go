package dialog

import (
	"strings"
	"testing"
)

func TestRenderInterpolatesPlaceholders(t *testing.T) {
	catalog := NewResponseCatalog(nil)

	out, err := catalog.Render(KindGreet, map[string]string{"company_name": "Clínica Sonrisa"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out, "Clínica Sonrisa") {
		t.Fatalf("placeholder not interpolated: %q", out)
	}
	if strings.Contains(out, "{") {
		t.Fatalf("reply still contains a placeholder: %q", out)
	}
}

func TestRenderUnresolvedPlaceholderIsAnError(t *testing.T) {
	catalog := NewResponseCatalog(nil)

	if _, err := catalog.Render(KindConfirmation, map[string]string{"client_name": "Ana"}); err == nil {
		t.Fatal("expected error for unresolved placeholder")
	}
}

func TestRenderUnknownKindIsAnError(t *testing.T) {
	catalog := NewResponseCatalog(nil)

	if _, err := catalog.Render(Kind("nope"), nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRenderOverrides(t *testing.T) {
	catalog := NewResponseCatalog(map[Kind]string{
		KindFarewell: "¡Chao pues!",
	})

	out, err := catalog.Render(KindFarewell, nil)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "¡Chao pues!" {
		t.Fatalf("override not applied, got %q", out)
	}
	// Untouched templates keep their defaults.
	if got := catalog.MustRender(KindGoodToGo); got != defaultTemplates[KindGoodToGo] {
		t.Fatalf("default template lost: %q", got)
	}
}

func TestMustRenderNeverReturnsEmpty(t *testing.T) {
	catalog := NewResponseCatalog(nil)

	// KindGreet declares a placeholder, so MustRender cannot resolve it and
	// must fall back to the generic error reply instead of an empty string.
	if got := catalog.MustRender(KindGreet); got == "" {
		t.Fatal("MustRender returned an empty reply")
	}
}

func TestInterpolateExtraDataIgnored(t *testing.T) {
	out, err := interpolate("Hola {name}", map[string]string{"name": "Ana", "unused": "x"})
	if err != nil {
		t.Fatalf("interpolate() error: %v", err)
	}
	if out != "Hola Ana" {
		t.Fatalf("got %q", out)
	}
}
