package notify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP configuration. An empty host disables delivery.
type SMTPConfig struct {
	Host     string        `envconfig:"SMTP_HOST"`
	Port     int           `envconfig:"SMTP_PORT" default:"587"`
	Username string        `envconfig:"SMTP_USERNAME"`
	Password string        `envconfig:"SMTP_PASSWORD"`
	Timeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"15s"`
}

// SMTPMailer sends messages over SMTP.
type SMTPMailer struct {
	client *mail.Client
}

// NewSMTPMailer creates an SMTP mailer. No connection is opened until Send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return &SMTPMailer{client: client}, nil
}

// Send delivers msg.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	em, err := buildMessage(msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, em); err != nil {
		return fmt.Errorf("sending mail to %v: %w", msg.To, err)
	}
	return nil
}

func buildMessage(msg Message) (*mail.Msg, error) {
	em := mail.NewMsg()
	if err := em.From(msg.From); err != nil {
		return nil, fmt.Errorf("setting sender: %w", err)
	}
	if err := em.To(msg.To...); err != nil {
		return nil, fmt.Errorf("setting recipients: %w", err)
	}
	em.Subject(msg.Subject)
	em.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, a := range msg.Attachments {
		em.AttachReadSeeker(a.Name, bytes.NewReader(a.Data))
	}
	return em, nil
}
