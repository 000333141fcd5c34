package notification

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// FromAddress is the fixed sender for all pipeline email.
const FromAddress = "noreply@owasp.org"

// SMTPMailer sends plain-text email over authenticated SMTP.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
}

// NewSMTPMailer creates an SMTP transport. Credentials may be empty for
// unauthenticated relays.
func NewSMTPMailer(host string, port int, username, password string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, username: username, password: password}
}

// Send delivers one message. A fresh client per send keeps the transport
// stateless; the worker's volume does not justify connection pooling.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(FromAddress); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}

	client, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

var _ Mailer = (*SMTPMailer)(nil)
