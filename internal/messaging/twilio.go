// Package messaging is the WhatsApp transport: the Twilio webhook that
// receives user messages, delivery de-duplication, and the outbound sender.
package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// HMAC-SHA1 of the webhook URL plus the sorted form parameters.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	expected := ComputeTwilioSignature(authToken, webhookURL, r.PostForm)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ComputeTwilioSignature builds the signature Twilio would send for the
// given URL and form values. Exported so tests and local tooling can sign
// requests the same way.
func ComputeTwilioSignature(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// InboundWhatsApp is one parsed webhook delivery.
type InboundWhatsApp struct {
	MessageSID string
	AccountSID string
	From       string // user phone, whatsapp: prefix stripped
	To         string // tenant phone, whatsapp: prefix stripped
	Body       string
}

// ParseInbound reads the Twilio form fields. Twilio prefixes WhatsApp
// addresses with "whatsapp:"; the rest of the system works with bare E.164
// numbers.
func ParseInbound(r *http.Request) (*InboundWhatsApp, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse webhook form: %w", err)
	}

	in := &InboundWhatsApp{
		MessageSID: r.FormValue("MessageSid"),
		AccountSID: r.FormValue("AccountSid"),
		From:       StripWhatsAppPrefix(r.FormValue("From")),
		To:         StripWhatsAppPrefix(r.FormValue("To")),
		Body:       r.FormValue("Body"),
	}
	if in.From == "" || in.To == "" {
		return nil, fmt.Errorf("messaging: webhook missing From/To")
	}
	return in, nil
}

// StripWhatsAppPrefix removes the channel prefix from a Twilio address.
func StripWhatsAppPrefix(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), "whatsapp:")
}

// whatsAppAddress restores the prefix for outbound API calls.
func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
