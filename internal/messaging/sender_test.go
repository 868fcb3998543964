package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *TwilioSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewTwilioSender("AC123", "token", "+573000000000", nil, nil)
	s.baseURL = srv.URL
	return s
}

func TestSendSuccessReturnsSID(t *testing.T) {
	var gotTo, gotFrom string
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM123", "status": "queued"}`))
	})

	sid, err := s.Send(context.Background(), OutboundMessage{
		To:   "+573001234567",
		Body: "Recordatorio de tu cita.",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if sid != "SM123" {
		t.Fatalf("sid = %q, want SM123", sid)
	}
	if gotTo != "whatsapp:+573001234567" {
		t.Fatalf("To = %q, want whatsapp prefix", gotTo)
	}
	if gotFrom != "whatsapp:+573000000000" {
		t.Fatalf("From = %q, default sender not applied", gotFrom)
	}
}

func TestSendDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' phone number"}`))
	})

	_, err := s.Send(context.Background(), OutboundMessage{To: "bad", Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("4xx retried %d times, want 1 attempt", calls)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"sid": "SM9"}`))
	})

	sid, err := s.Send(context.Background(), OutboundMessage{To: "+57300", Body: "x"})
	if err != nil {
		t.Fatalf("Send() error after retries: %v", err)
	}
	if sid != "SM9" || calls != 3 {
		t.Fatalf("sid = %q calls = %d", sid, calls)
	}
}

func TestSendValidatesInput(t *testing.T) {
	s := NewTwilioSender("AC123", "token", "", nil, nil)

	if _, err := s.Send(context.Background(), OutboundMessage{Body: "x"}); err == nil {
		t.Fatal("missing To must error")
	}
	if _, err := s.Send(context.Background(), OutboundMessage{To: "+57300", Body: "x"}); err == nil {
		t.Fatal("missing From must error")
	}
	if _, err := s.Send(context.Background(), OutboundMessage{To: "+57300", From: "+57301", Body: "  "}); err == nil {
		t.Fatal("blank body must error")
	}
}
