package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/citabot/citabot/internal/llm"
	"github.com/citabot/citabot/internal/messages"
	"github.com/citabot/citabot/internal/nlp"
	"github.com/citabot/citabot/internal/session"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/pkg/logging"
)

// Responder produces the open-domain replies for messages no deterministic
// flow handles. The model may answer with plain text or with a JSON object
// {"text": ..., "conversation_state": ...}; the structured form lets it
// signal that the conversation should move into a flow.
type Responder struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

func NewResponder(client llm.Client, model string, logger *logging.Logger) *Responder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Responder{client: client, model: model, logger: logger}
}

// ModelReply is the parsed responder output.
type ModelReply struct {
	Text              string
	ConversationState string
}

// Reply sends the conversation context to the model and parses its answer
// defensively: code fences are stripped and a malformed JSON body degrades
// to plain text rather than an error.
func (r *Responder) Reply(ctx context.Context, t *tenants.Tenant, intent nlp.Intent, sess *session.Session, history []*messages.Message, userText string) (ModelReply, error) {
	if r.client == nil {
		return ModelReply{}, fmt.Errorf("dialog: no open-domain model configured")
	}

	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Direction == messages.DirectionOutbound {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.ChatMessage{Role: role, Content: m.Body})
	}
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: userText})

	resp, err := r.client.Complete(ctx, llm.Request{
		Model:       r.model,
		System:      []string{r.systemContext(t, intent, sess)},
		Messages:    msgs,
		MaxTokens:   512,
		Temperature: 0.7,
	})
	if err != nil {
		return ModelReply{}, fmt.Errorf("dialog: open-domain reply: %w", err)
	}
	return parseModelReply(resp.Text), nil
}

func (r *Responder) systemContext(t *tenants.Tenant, intent nlp.Intent, sess *session.Session) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Eres el asistente virtual de %s", t.Name)
	if t.Industry != "" {
		fmt.Fprintf(&sb, ", un negocio de %s", t.Industry)
	}
	sb.WriteString(". Respondes en español, de forma breve y amable.\n")
	if t.Schedule != "" {
		fmt.Fprintf(&sb, "Horario de atención: %s\n", t.Schedule)
	}
	if t.CatalogURL != "" {
		fmt.Fprintf(&sb, "Catálogo de servicios: %s\n", t.CatalogURL)
	}
	fmt.Fprintf(&sb, "Intención detectada del último mensaje: %s\n", intent)
	if facts := serializeFacts(sess); facts != "" {
		fmt.Fprintf(&sb, "Datos conocidos del usuario: %s\n", facts)
	}
	sb.WriteString("Puedes agendar y cancelar citas. Si el usuario quiere agendar o cancelar, " +
		"responde con un objeto JSON {\"text\": \"...\", \"conversation_state\": \"scheduling\"} " +
		"o {\"text\": \"...\", \"conversation_state\": \"cancelling\"}. " +
		"En cualquier otro caso responde solo con el texto de tu respuesta.")
	return sb.String()
}

func serializeFacts(sess *session.Session) string {
	if sess == nil || len(sess.Facts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(sess.Facts))
	for k := range sess.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+sess.Facts[k])
	}
	return strings.Join(parts, ", ")
}

// parseModelReply tolerates the model wrapping JSON in markdown code fences
// or ignoring the JSON contract entirely.
func parseModelReply(raw string) ModelReply {
	text := strings.TrimSpace(raw)
	stripped := stripCodeFences(text)

	var payload struct {
		Text              string `json:"text"`
		ConversationState string `json:"conversation_state"`
	}
	if strings.HasPrefix(stripped, "{") {
		if err := json.Unmarshal([]byte(stripped), &payload); err == nil && payload.Text != "" {
			return ModelReply{Text: payload.Text, ConversationState: payload.ConversationState}
		}
	}
	return ModelReply{Text: text}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.HasPrefix(s, "{") {
		// Drop a language tag like ```json.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
