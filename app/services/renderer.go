package services

import (
	"strings"

	"github.com/calliopehq/calliope/models"
)

// TemplateRenderer substitutes consumer variables into template bodies
type TemplateRenderer interface {
	Render(template *models.Template, consumer *models.Consumer) (subject, body string)
}

// PlaceholderRenderer replaces {{name}} markers with consumer variables.
// Unknown placeholders render as empty strings rather than leaking markers
// into consumer-facing text.
type PlaceholderRenderer struct{}

// NewPlaceholderRenderer creates a new placeholder renderer instance
func NewPlaceholderRenderer() TemplateRenderer {
	return &PlaceholderRenderer{}
}

// Render substitutes variables into the template subject and body
func (r *PlaceholderRenderer) Render(template *models.Template, consumer *models.Consumer) (string, string) {
	vars := r.variables(consumer)
	return substitute(template.Subject, vars), substitute(template.Body, vars)
}

// variables merges the consumer's built-in fields with its custom variables.
// Custom variables win on collision.
func (r *PlaceholderRenderer) variables(consumer *models.Consumer) map[string]string {
	vars := map[string]string{
		"firstName":   consumer.FirstName,
		"lastName":    consumer.LastName,
		"email":       consumer.Email,
		"phoneNumber": consumer.PhoneNumber,
	}
	for k, v := range consumer.Variables {
		vars[k] = v
	}
	return vars
}

func substitute(text string, vars map[string]string) string {
	var b strings.Builder
	for {
		start := strings.Index(text, "{{")
		if start < 0 {
			b.WriteString(text)
			break
		}
		end := strings.Index(text[start:], "}}")
		if end < 0 {
			b.WriteString(text)
			break
		}

		b.WriteString(text[:start])
		name := strings.TrimSpace(text[start+2 : start+end])
		b.WriteString(vars[name])
		text = text[start+end+2:]
	}
	return b.String()
}
