package dialog

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind names a deterministic reply template.
type Kind string

const (
	KindGreet                Kind = "greet"
	KindFarewell             Kind = "farewell"
	KindBotIdentity          Kind = "ask_bot_identity"
	KindBotCapabilities      Kind = "ask_bot_capabilities"
	KindNameRequest          Kind = "appointment_name_request"
	KindDateTimeRequest      Kind = "appointment_datetime_request"
	KindOptionRequest        Kind = "appointment_option_request"
	KindTextRequest          Kind = "appointment_text_request"
	KindConfirmation         Kind = "appointment_confirmation"
	KindUnavailable          Kind = "appointment_unavailable"
	KindCancelRequest        Kind = "cancel_appointment_request"
	KindCancelConfirmRequest Kind = "cancel_appointment_confirmation_request"
	KindCancelSuccess        Kind = "cancel_appointment_success"
	KindCancelNotFound       Kind = "cancel_appointment_not_found"
	KindCancelFlowExit       Kind = "cancel_appointment_flow_exit"
	KindNoCancellable        Kind = "no_cancellable_appointments"
	KindAskSchedule          Kind = "ask_schedule"
	KindAskCatalog           Kind = "ask_catalog"
	KindAskPricing           Kind = "ask_pricing"
	KindUnknown              Kind = "unknown"
	KindError                Kind = "error"
	KindGoodToGo             Kind = "good_to_go"
)

// defaultTemplates are the built-in Spanish replies. Placeholders use the
// same {name} shape tenant-configured confirmation templates use.
var defaultTemplates = map[Kind]string{
	KindGreet:                "¡Hola! Soy el asistente virtual de {company_name}. ¿En qué puedo ayudarte hoy?",
	KindFarewell:             "¡Adiós! Que tengas un excelente día.",
	KindBotIdentity:          "Soy un asistente virtual, diseñado para ayudarte con tus consultas y agendar citas para {company_name}.",
	KindBotCapabilities:      "Puedo proporcionarte información sobre nuestro horario, precios, ubicación, catálogo de servicios y agendar citas. ¿Qué necesitas?",
	KindNameRequest:          "Para agendar tu cita, necesito tu nombre completo, por favor.",
	KindDateTimeRequest:      "Necesito la fecha y hora para tu cita. ¿Podrías indicarme el día y la hora, por ejemplo: 'el lunes a las 3pm' o 'el 15 de junio a las 10:00'?",
	KindOptionRequest:        "Por favor, elige una opción para {slot_label}:\n{options}",
	KindTextRequest:          "Por favor, indícame {slot_label} para tu cita.",
	KindConfirmation:         "¡Perfecto! Tu cita ha sido programada para {appointment_datetime_display}. Te esperamos, {client_name}.",
	KindUnavailable:          "Lo siento, la fecha y hora solicitada no está disponible o ya ha pasado. Por favor, elige otra.",
	KindCancelRequest:        "Para cancelar tu cita, por favor, indícame la fecha y hora de la cita que deseas cancelar o su ID si lo tienes.",
	KindCancelConfirmRequest: "Estás a punto de cancelar tu cita de {appointment_datetime_display}. ¿Estás seguro? Responde 'sí' para confirmar o 'no' para mantenerla.",
	KindCancelSuccess:        "Tu cita de {appointment_datetime_display} ha sido cancelada exitosamente.",
	KindCancelNotFound:       "No encontré una cita con esa información. Por favor, verifica la fecha, hora o el ID de la cita.",
	KindCancelFlowExit:       "De acuerdo, tu cita no ha sido cancelada.",
	KindNoCancellable:        "No tienes citas próximas que puedan ser canceladas.",
	KindAskSchedule:          "Nuestro horario de atención es: {company_schedule}. ¡Te esperamos!",
	KindAskCatalog:           "Puedes ver nuestro catálogo de servicios aquí: {company_catalog_url}. ¡Cualquier otra duda me dices!",
	KindAskPricing:           "Nuestros precios varían según el servicio. Te invito a revisar nuestro catálogo en {company_catalog_url} o a consultarme por un servicio específico.",
	KindUnknown:              "Lo siento, no entendí tu solicitud. ¿Podrías ser más claro, por favor?",
	KindError:                "Lo siento, algo salió mal. Por favor, inténtalo de nuevo más tarde.",
	KindGoodToGo:             "Todo listo. ¿Hay algo más en lo que pueda ayudarte?",
}

// ResponseCatalog renders the deterministic reply templates. An explicit
// value injected into the engine rather than a package global, so tenants
// can override individual templates.
type ResponseCatalog struct {
	templates map[Kind]string
}

func NewResponseCatalog(overrides map[Kind]string) *ResponseCatalog {
	templates := make(map[Kind]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		templates[k] = v
	}
	for k, v := range overrides {
		templates[k] = v
	}
	return &ResponseCatalog{templates: templates}
}

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// Render interpolates {placeholder} values into the template for kind. An
// unknown kind or a placeholder left unresolved is an error, never a reply
// with a literal "{client_name}" in it.
func (c *ResponseCatalog) Render(kind Kind, data map[string]string) (string, error) {
	tmpl, ok := c.templates[kind]
	if !ok {
		return "", fmt.Errorf("dialog: no template for kind %q", kind)
	}
	return interpolate(tmpl, data)
}

// MustRender is Render for templates with no placeholders left to miss.
func (c *ResponseCatalog) MustRender(kind Kind) string {
	out, err := c.Render(kind, nil)
	if err != nil {
		// Only reachable for templates that declare placeholders.
		return defaultTemplates[KindError]
	}
	return out
}

// interpolate resolves {name} placeholders against data. Shared with
// tenant-configured confirmation templates, which use the same shape.
func interpolate(tmpl string, data map[string]string) (string, error) {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)
	if missing := placeholderRe.FindString(out); missing != "" {
		return "", fmt.Errorf("dialog: unresolved placeholder %s", missing)
	}
	return out, nil
}
