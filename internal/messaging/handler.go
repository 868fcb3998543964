package messaging

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/citabot/citabot/internal/observability/metrics"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/pkg/logging"
)

// Dialog is the conversation entry point the webhook hands turns to.
// *dialog.Dispatcher satisfies it.
type Dialog interface {
	Dispatch(ctx context.Context, tenantID uuid.UUID, userID, body, providerSID string) (string, error)
}

// TenantResolver maps the webhook's To number to a tenant.
type TenantResolver interface {
	GetByWhatsAppNumber(ctx context.Context, number string) (*tenants.Tenant, error)
}

// WebhookHandler receives Twilio WhatsApp deliveries and answers with TwiML,
// so the reply rides back on the webhook response instead of a separate
// REST call.
type WebhookHandler struct {
	dialog    Dialog
	tenants   TenantResolver
	deduper   Deduper
	metrics   *metrics.Metrics
	logger    *logging.Logger
	authToken string
	publicURL string // full webhook URL as Twilio signs it

	turnTimeout time.Duration
}

type WebhookConfig struct {
	AuthToken   string
	PublicURL   string
	TurnTimeout time.Duration
}

func NewWebhookHandler(d Dialog, resolver TenantResolver, deduper Deduper, m *metrics.Metrics, logger *logging.Logger, cfg WebhookConfig) *WebhookHandler {
	if d == nil {
		panic("messaging: dialog cannot be nil")
	}
	if resolver == nil {
		panic("messaging: tenant resolver cannot be nil")
	}
	if deduper == nil {
		deduper = NoopDeduper{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 25 * time.Second
	}
	return &WebhookHandler{
		dialog:      d,
		tenants:     resolver,
		deduper:     deduper,
		metrics:     m,
		logger:      logger,
		authToken:   cfg.AuthToken,
		publicURL:   cfg.PublicURL,
		turnTimeout: cfg.TurnTimeout,
	}
}

// ServeHTTP implements POST /webhooks/twilio/whatsapp.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "ok"
	defer func() {
		h.metrics.ObserveInbound(status, time.Since(start).Seconds())
	}()

	if h.authToken != "" && !ValidateTwilioSignature(r, h.authToken, h.publicURL) {
		status = "bad_signature"
		h.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	in, err := ParseInbound(r)
	if err != nil {
		status = "bad_request"
		h.logger.Warn("webhook parse failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	fresh, err := h.deduper.Claim(r.Context(), in.MessageSID)
	if err != nil {
		// Dedupe store down. Process anyway; the engine tolerates duplicates.
		h.logger.Error("webhook dedupe failed", "error", err, "message_sid", in.MessageSID)
	} else if !fresh {
		status = "duplicate"
		h.logger.Info("duplicate webhook dropped", "message_sid", in.MessageSID)
		writeTwiML(w, "")
		return
	}

	tenant, err := h.tenants.GetByWhatsAppNumber(r.Context(), in.To)
	if err != nil {
		status = "unknown_tenant"
		h.logger.Warn("webhook for unknown number", "to", in.To, "error", err)
		// 200 so Twilio stops retrying a number we will never recognize.
		writeTwiML(w, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()

	reply, err := h.dialog.Dispatch(ctx, tenant.ID, in.From, in.Body, in.MessageSID)
	if err != nil {
		status = "dispatch_error"
		h.logger.Error("dialog dispatch failed",
			"tenant_id", tenant.ID, "user_id", in.From, "error", err)
		writeTwiML(w, errorReply)
		return
	}

	h.metrics.ObserveOutbound("ok")
	writeTwiML(w, reply)
}

const errorReply = "Lo siento, algo salió mal. Por favor, inténtalo de nuevo más tarde."

// twiML is the minimal messaging response document.
type twiML struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twiML{Message: message})
}
