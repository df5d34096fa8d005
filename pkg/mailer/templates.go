package mailer

import (
	"bytes"
	"fmt"
	"text/template"
)

var welcomeText = template.Must(template.New("welcome").Parse(
	`Hi {{.FullName}},

Welcome to VidTube! Your account {{.Username}} is ready.

— The VidTube team
`))

var loginText = template.Must(template.New("login_notification").Parse(
	`Hi {{.FullName}},

A new login to your account {{.Username}} was detected{{if .IP}} from {{.IP}}{{end}}.
If this wasn't you, change your password right away.

— The VidTube team
`))

// Render produces subject and text body for a known template.
func Render(name string, data map[string]any) (subject, text string, err error) {
	var tpl *template.Template
	switch name {
	case TemplateWelcome:
		subject = "Welcome to VidTube"
		tpl = welcomeText
	case TemplateLoginNotification:
		subject = "New login to your account"
		tpl = loginText
	default:
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
