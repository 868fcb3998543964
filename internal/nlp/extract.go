package nlp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/citabot/citabot/internal/llm"
	"github.com/citabot/citabot/pkg/logging"
)

// Extractor pulls slot values out of free-form messages. Deterministic
// patterns run first; the LLM is a constrained fallback whose output is
// always re-validated before it is accepted, so a hallucinated value can
// never fill a slot.
type Extractor struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

func NewExtractor(client llm.Client, model string, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{client: client, model: model, logger: logger}
}

var namePatternRe = regexp.MustCompile(`(?i)(?:mi nombre es|me llamo|yo soy|soy)\s+([\p{L} ]{2,60})`)

// nameStopwords are tokens that disqualify a short message from being read
// as a bare name reply.
var nameStopwords = map[string]bool{
	"hola": true, "si": true, "no": true, "gracias": true, "quiero": true,
	"una": true, "cita": true, "agendar": true, "cancelar": true, "por": true,
	"favor": true, "buenas": true, "buenos": true, "dias": true, "tardes": true,
	"noches": true, "hoy": true, "manana": true, "que": true, "como": true,
	"cuando": true, "donde": true, "para": true, "con": true, "las": true,
	"los": true, "del": true, "adios": true, "ok": true, "claro": true,
}

// ExtractName looks for an introduction phrase first, then treats a short
// all-alphabetic message as a bare name reply. Returns the name in title
// case.
func (e *Extractor) ExtractName(ctx context.Context, text string) (string, bool) {
	if m := namePatternRe.FindStringSubmatch(text); m != nil {
		if name := titleCaseName(m[1]); name != "" {
			return name, true
		}
	}

	// A reply to "¿cuál es tu nombre?" is usually just the name.
	toks := Tokens(Normalize(text))
	if len(toks) >= 1 && len(toks) <= 4 {
		plausible := true
		for _, tok := range toks {
			if nameStopwords[tok] || !isAlphabetic(tok) {
				plausible = false
				break
			}
		}
		if plausible {
			return titleCaseName(text), true
		}
	}

	if e.client == nil {
		return "", false
	}
	resp, err := e.complete(ctx,
		"Extrae el nombre de la persona del mensaje. Responde solo con el nombre. Si no hay un nombre, responde exactamente NO.",
		text, 32)
	if err != nil {
		e.logger.Warn("nlp: name extraction model call failed", "error", err)
		return "", false
	}
	answer := strings.TrimSpace(resp)
	if answer == "" || strings.EqualFold(answer, "no") || len(strings.Fields(answer)) > 4 {
		return "", false
	}
	for _, tok := range strings.Fields(Normalize(answer)) {
		if !isAlphabetic(tok) {
			return "", false
		}
	}
	return titleCaseName(answer), true
}

// ExtractDateTime resolves a datetime mention using the rule-based parser,
// then a constrained model call whose ISO answer is re-parsed before being
// accepted.
func (e *Extractor) ExtractDateTime(ctx context.Context, text string, parser *DateTimeParser) (time.Time, bool) {
	if t, ok := parser.Parse(text); ok {
		return t, true
	}
	if e.client == nil {
		return time.Time{}, false
	}

	now := parser.now()
	system := fmt.Sprintf(
		"Hoy es %s (%s). Extrae la fecha y hora que menciona el mensaje y respondela en formato YYYY-MM-DDTHH:MM. "+
			"Si el mensaje no menciona una fecha y hora concretas, responde exactamente NO. "+
			"Las fechas ambiguas se interpretan hacia el futuro.",
		now.Format("2006-01-02 15:04"), spanishWeekdays[int(now.Weekday())])
	resp, err := e.complete(ctx, system, text, 24)
	if err != nil {
		e.logger.Warn("nlp: datetime extraction model call failed", "error", err)
		return time.Time{}, false
	}
	answer := strings.TrimSpace(resp)
	if strings.EqualFold(answer, "no") {
		return time.Time{}, false
	}
	return parser.ParseISO(answer)
}

// ExtractOption matches the message against a closed option list, falling
// back to a model call that may only answer with one of the listed options.
// The model answer is re-matched against the list, so the result is always
// one of options verbatim.
func (e *Extractor) ExtractOption(ctx context.Context, text string, options []string) (string, bool) {
	if len(options) == 0 {
		return "", false
	}
	if opt, ok := MatchOption(text, options); ok {
		return opt, true
	}
	if e.client == nil {
		return "", false
	}

	system := fmt.Sprintf(
		"El usuario debe elegir una de estas opciones:\n%s\n"+
			"Responde solo con la opcion elegida, escrita exactamente como aparece en la lista. "+
			"Si el mensaje no elige ninguna, responde exactamente NO.",
		strings.Join(options, "\n"))
	resp, err := e.complete(ctx, system, text, 48)
	if err != nil {
		e.logger.Warn("nlp: option extraction model call failed", "error", err)
		return "", false
	}
	answer := strings.TrimSpace(resp)
	if strings.EqualFold(answer, "no") {
		return "", false
	}
	return MatchOption(answer, options)
}

var appointmentIDRe = regexp.MustCompile(`\b(\d{1,18})\b`)

// ExtractAppointmentID pulls a numeric appointment id out of the message.
// Inputs that also parse as a clock time ("a las 3") are not ids.
func ExtractAppointmentID(text string) (int64, bool) {
	norm := Normalize(text)
	if strings.Contains(norm, "a las") || strings.Contains(norm, ":") || strings.Contains(norm, "/") {
		return 0, false
	}
	m := appointmentIDRe.FindStringSubmatch(norm)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var affirmativeWords = map[string]bool{
	"si": true, "claro": true, "confirmo": true, "dale": true, "correcto": true,
	"perfecto": true, "ok": true, "okay": true, "afirmativo": true, "exacto": true,
	"listo": true, "bueno": true,
}

var negativeWords = map[string]bool{
	"no": true, "nop": true, "negativo": true, "nunca": true, "tampoco": true,
}

// IsNegative reports whether the message is a refusal. Checked before
// IsAffirmative because "no, gracias" must read as a refusal.
func IsNegative(text string) bool {
	for _, tok := range Tokens(Normalize(text)) {
		if negativeWords[tok] {
			return true
		}
	}
	return false
}

func IsAffirmative(text string) bool {
	if IsNegative(text) {
		return false
	}
	norm := Normalize(text)
	if strings.Contains(norm, "de acuerdo") || strings.Contains(norm, "asi es") || strings.Contains(norm, "esta bien") {
		return true
	}
	for _, tok := range Tokens(norm) {
		if affirmativeWords[tok] {
			return true
		}
	}
	return false
}

func (e *Extractor) complete(ctx context.Context, system, user string, maxTokens int32) (string, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		Model:  e.model,
		System: []string{system},
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func isAlphabetic(tok string) bool {
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return len(tok) > 0
}

func titleCaseName(raw string) string {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}
