package email

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

const (
	TemplateConsultationAcceptedUser       = "consultation_accepted_user"
	TemplateConsultationAcceptedConsultant = "consultation_accepted_consultant"
	TemplateSweepReport                    = "sweep_report"
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.txt"))

// Render executes templateName. The first line of the output is the subject,
// prefixed with "Subject: ", and the rest is the body.
func Render(templateName string, data interface{}) (string, string, error) {
	var out bytes.Buffer
	if err := templates.ExecuteTemplate(&out, templateName+".txt", data); err != nil {
		return "", "", fmt.Errorf("failed to execute template: %w", err)
	}
	head, body, _ := strings.Cut(out.String(), "\n")
	subject, ok := strings.CutPrefix(head, "Subject: ")
	if !ok {
		return "", "", fmt.Errorf("template %s has no subject line", templateName)
	}
	return strings.TrimSpace(subject), strings.TrimLeft(body, "\n"), nil
}
