package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/citabot/citabot/internal/observability/metrics"
	"github.com/citabot/citabot/pkg/logging"
)

// OutboundMessage is one WhatsApp message to push proactively (reminders,
// notifications). Replies to inbound webhooks ride on TwiML instead.
type OutboundMessage struct {
	To   string
	From string
	Body string
}

// Messenger sends WhatsApp messages.
type Messenger interface {
	Send(ctx context.Context, msg OutboundMessage) (sid string, err error)
}

// TwilioSender posts messages through Twilio's REST API, retrying transient
// failures. Non-429 4xx responses are permanent and not retried.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

func NewTwilioSender(accountSID, authToken, defaultFrom string, m *metrics.Metrics, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    "https://api.twilio.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		metrics:    m,
		logger:     logger,
	}
}

func (s *TwilioSender) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if s.accountSID == "" || s.authToken == "" {
		return "", errors.New("messaging: twilio credentials missing")
	}
	if msg.To == "" {
		return "", errors.New("messaging: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return "", errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", errors.New("messaging: body required")
	}

	payload := url.Values{}
	payload.Set("To", whatsAppAddress(msg.To))
	payload.Set("From", whatsAppAddress(msg.From))
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID string `json:"sid"`
				}
				_ = json.Unmarshal(body, &parsed)
				s.metrics.ObserveOutbound("ok")
				s.logger.Info("whatsapp message sent", "to", msg.To, "sid", parsed.SID)
				return parsed.SID, nil
			}
			lastErr = fmt.Errorf("messaging: twilio send: %s", formatTwilioError(resp.StatusCode, body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	s.metrics.ObserveOutbound("error")
	return "", lastErr
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
