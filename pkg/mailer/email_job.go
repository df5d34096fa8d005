package mailer

// Job types understood by the email worker.
const (
	TemplateWelcome           = "welcome"
	TemplateLoginNotification = "login_notification"
)

// EmailJob is the JSON payload put on the RabbitMQ queue for sending email.
// Template selects a built-in template rendered with Data; Subject/Text
// are used as-is when Template is empty.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}
