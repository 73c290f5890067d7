package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// Message is a rendered outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a rendered message over some transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// SMTPSender delivers messages through a plain SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	payload := buildMIME(s.From, msg)

	if err := smtp.SendMail(addr, auth, s.From, []string{msg.To}, payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp delivery failed").
			WithMetadata(map[string]any{
				"relay": addr,
			})
	}

	return nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

type emailTemplate struct {
	subject string
	body    *template.Template
}

// Renderer turns outbox rows into messages using per-template bodies.
type Renderer struct {
	baseURL   string
	templates map[string]emailTemplate
}

const activationBody = `Hi {{or .first_name "there"}},

Welcome! Confirm your account by visiting:

{{.base_url}}/activate?code={{.code}}

If you did not create this account you can ignore this email.
`

const passwordResetBody = `Hi {{or .first_name "there"}},

We received a request to reset your password. Choose a new one here:

{{.base_url}}/reset-password/confirm?code={{.code}}

If you did not request this, no action is needed.
`

// NewRenderer builds the default renderer. baseURL is the public address
// links in the emails point at, without a trailing slash.
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		templates: map[string]emailTemplate{
			accounts.TemplateAccountActivation: {
				subject: "Activate your account",
				body:    template.Must(template.New(accounts.TemplateAccountActivation).Parse(activationBody)),
			},
			accounts.TemplatePasswordReset: {
				subject: "Reset your password",
				body:    template.Must(template.New(accounts.TemplatePasswordReset).Parse(passwordResetBody)),
			},
		},
	}
}

// Register adds or replaces a template.
func (r *Renderer) Register(templateID, subject, body string) error {
	tpl, err := template.New(templateID).Parse(body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid notification template").
			WithMetadata(map[string]any{
				"template_id": templateID,
			})
	}
	r.templates[templateID] = emailTemplate{subject: subject, body: tpl}
	return nil
}

// Render produces the message for an outbox row.
func (r *Renderer) Render(n *accounts.Notification) (Message, error) {
	tpl, ok := r.templates[n.TemplateID]
	if !ok {
		return Message{}, goerrors.New("unknown notification template", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{
				"template_id": n.TemplateID,
			})
	}

	params := map[string]string{
		"base_url": r.baseURL,
	}
	for k, v := range n.Params {
		params[k] = v
	}

	var body bytes.Buffer
	if err := tpl.body.Execute(&body, params); err != nil {
		return Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "notification template render failed")
	}

	return Message{
		To:      n.Recipient,
		Subject: tpl.subject,
		Body:    body.String(),
	}, nil
}
