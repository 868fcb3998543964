package nlp

import (
	"context"
	"fmt"
	"strings"

	"github.com/citabot/citabot/internal/llm"
	"github.com/citabot/citabot/pkg/logging"
)

// Intent is the closed set of conversational intents the dialog engine
// reacts to. The classifier never produces values outside this set.
type Intent string

const (
	IntentGreet               Intent = "greet"
	IntentFarewell            Intent = "farewell"
	IntentScheduleAppointment Intent = "schedule_appointment"
	IntentCancelAppointment   Intent = "cancel_appointment"
	IntentAskSchedule         Intent = "ask_schedule"
	IntentAskCatalog          Intent = "ask_catalog"
	IntentAskPricing          Intent = "ask_pricing"
	IntentAskBotIdentity      Intent = "ask_bot_identity"
	IntentAskBotCapabilities  Intent = "ask_bot_capabilities"
	IntentConfirm             Intent = "confirm"
	IntentDeny                Intent = "deny"
	IntentUnknown             Intent = "unknown"
)

var validIntents = map[Intent]bool{
	IntentGreet:               true,
	IntentFarewell:            true,
	IntentScheduleAppointment: true,
	IntentCancelAppointment:   true,
	IntentAskSchedule:         true,
	IntentAskCatalog:          true,
	IntentAskPricing:          true,
	IntentAskBotIdentity:      true,
	IntentAskBotCapabilities:  true,
	IntentConfirm:             true,
	IntentDeny:                true,
	IntentUnknown:             true,
}

// rule matches normalized input text. A rule fires when every `all` keyword
// is present and at least one `any` keyword is present (an empty list is
// vacuously satisfied). Single-word keywords match whole tokens only, so
// "si" cannot fire inside "siempre".
type rule struct {
	intent Intent
	all    []string
	any    []string
}

// spanishRules is evaluated top to bottom, first match wins. Cancellation
// sits above scheduling on purpose: "quiero cancelar mi cita" mentions
// "cita" and would otherwise be swallowed by the scheduling rule.
var spanishRules = []rule{
	{intent: IntentGreet, any: []string{"hola", "buenos dias", "buenas tardes", "buenas noches", "buen dia", "que tal", "saludos"}},
	{intent: IntentFarewell, any: []string{"adios", "hasta luego", "hasta pronto", "nos vemos", "chao", "bye"}},
	{intent: IntentAskSchedule, any: []string{"horario", "horarios", "a que hora abren", "a que hora cierran", "dias de atencion"}},
	{intent: IntentCancelAppointment, all: []string{"cancelar"}, any: []string{"cita", "reserva", "turno", "hora"}},
	{intent: IntentCancelAppointment, any: []string{"cancelar mi", "anular la cita", "anular mi"}},
	{intent: IntentScheduleAppointment, any: []string{"agendar", "agenda", "reservar", "cita", "turno", "sacar hora", "programar"}},
	{intent: IntentAskPricing, any: []string{"precio", "precios", "costo", "valor", "cuanto cuesta", "cuanto vale", "tarifa"}},
	{intent: IntentAskCatalog, any: []string{"catalogo", "servicios", "productos", "que ofrecen", "menu"}},
	{intent: IntentAskBotIdentity, any: []string{"quien eres", "eres un bot", "eres un robot", "como te llamas", "con quien hablo"}},
	{intent: IntentAskBotCapabilities, any: []string{"que puedes hacer", "en que me puedes ayudar", "ayuda", "como funciona"}},
	{intent: IntentConfirm, any: []string{"si", "claro", "confirmo", "de acuerdo", "dale", "correcto", "perfecto", "ok"}},
	{intent: IntentDeny, any: []string{"no", "mejor no", "negativo"}},
}

func (r rule) matches(text string, tokens map[string]bool) bool {
	for _, kw := range r.all {
		if !keywordPresent(kw, text, tokens) {
			return false
		}
	}
	if len(r.any) == 0 {
		return len(r.all) > 0
	}
	for _, kw := range r.any {
		if keywordPresent(kw, text, tokens) {
			return true
		}
	}
	return false
}

func keywordPresent(kw, text string, tokens map[string]bool) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(text, kw)
	}
	return tokens[kw]
}

// Classifier resolves the intent of an inbound message: deterministic
// keyword rules first, then a constrained LLM call for anything the rules
// do not cover. LLM output outside the closed label set, or any LLM error,
// degrades to IntentUnknown rather than guessing.
type Classifier struct {
	rules  []rule
	client llm.Client
	model  string
	logger *logging.Logger
}

func NewClassifier(client llm.Client, model string, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		rules:  spanishRules,
		client: client,
		model:  model,
		logger: logger,
	}
}

// Classify returns the intent for text. sessionFacts gives the model light
// conversational context (e.g. an active flow) without exposing history.
func (c *Classifier) Classify(ctx context.Context, text string, sessionFacts map[string]string) Intent {
	norm := Normalize(text)
	if norm == "" {
		return IntentUnknown
	}

	tokens := make(map[string]bool)
	for _, tok := range Tokens(norm) {
		tokens[tok] = true
	}
	for _, r := range c.rules {
		if r.matches(norm, tokens) {
			return r.intent
		}
	}

	if c.client == nil {
		return IntentUnknown
	}
	return c.classifyWithLLM(ctx, text, sessionFacts)
}

func (c *Classifier) classifyWithLLM(ctx context.Context, text string, sessionFacts map[string]string) Intent {
	labels := make([]string, 0, len(validIntents))
	for in := range validIntents {
		labels = append(labels, string(in))
	}

	var sb strings.Builder
	sb.WriteString("Clasifica el mensaje del usuario en exactamente una de estas etiquetas:\n")
	sb.WriteString(strings.Join(labels, ", "))
	sb.WriteString("\nResponde unicamente con la etiqueta, sin explicaciones.\n")
	if len(sessionFacts) > 0 {
		sb.WriteString("Contexto de la conversacion:\n")
		for k, v := range sessionFacts {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:  c.model,
		System: []string{sb.String()},
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("nlp: intent classification fell back to unknown", "error", err)
		return IntentUnknown
	}

	label := Intent(strings.TrimSpace(strings.ToLower(resp.Text)))
	if !validIntents[label] {
		c.logger.Warn("nlp: model returned out-of-set intent label", "label", string(label))
		return IntentUnknown
	}
	return label
}
