package orders

import "strings"

// Default customer-facing templates, used when the business has not
// configured its own. Placeholders use {name} syntax.
const (
	DefaultMissingInfoTemplate  = "Para completar tu pedido necesito: {missing}. ¿Me lo pasás?"
	DefaultOutOfZoneTemplate    = "Por ahora solo hacemos entregas en: {zones}."
	DefaultConfirmationTemplate = "¡Gracias! Registramos tu pedido {order_number}.\n{items}\nTotal: ${total}"
)

func templateOr(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// renderTemplate substitutes {key} placeholders. Unknown placeholders are
// left as-is.
func renderTemplate(tmpl string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
