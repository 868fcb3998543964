package llm

import (
	"context"
	"errors"
	"testing"
)

type recordingObserver struct {
	providers []string
	statuses  []string
}

func (r *recordingObserver) ObserveLLMCall(provider, status string) {
	r.providers = append(r.providers, provider)
	r.statuses = append(r.statuses, status)
}

func TestInstrumentReportsSuccess(t *testing.T) {
	obs := &recordingObserver{}
	inner := &scriptedClient{resp: Response{Text: "hola"}}

	client := Instrument("gemini", inner, obs)
	resp, err := client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hola" {
		t.Errorf("Text = %q, want hola", resp.Text)
	}
	if len(obs.providers) != 1 || obs.providers[0] != "gemini" {
		t.Errorf("providers = %v, want [gemini]", obs.providers)
	}
	if obs.statuses[0] != "ok" {
		t.Errorf("status = %q, want ok", obs.statuses[0])
	}
}

func TestInstrumentReportsError(t *testing.T) {
	obs := &recordingObserver{}
	innerErr := errors.New("quota exceeded")
	inner := &scriptedClient{err: innerErr}

	client := Instrument("openai", inner, obs)
	_, err := client.Complete(context.Background(), Request{})
	if !errors.Is(err, innerErr) {
		t.Fatalf("err = %v, want inner error", err)
	}
	if len(obs.statuses) != 1 || obs.statuses[0] != "error" {
		t.Errorf("statuses = %v, want [error]", obs.statuses)
	}
}

func TestInstrumentNilClientPassesThrough(t *testing.T) {
	if got := Instrument("gemini", nil, &recordingObserver{}); got != nil {
		t.Errorf("Instrument(nil client) = %v, want nil", got)
	}
}
