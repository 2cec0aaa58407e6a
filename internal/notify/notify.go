// Package notify delivers receipts and operator alerts. Delivery is best effort:
// failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"payplatform/internal/common/events"
	"payplatform/internal/common/money"
	"payplatform/internal/qrcode"
)

// Config holds dispatcher configuration.
type Config struct {
	From     string        `envconfig:"NOTIFY_FROM" default:"no-reply@payplatform.ng"`
	OpsEmail string        `envconfig:"NOTIFY_OPS_EMAIL"`
	Timeout  time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"20s"`
}

// ReceiptKind selects the receipt template.
type ReceiptKind string

const (
	ReceiptTicket   ReceiptKind = "ticket"
	ReceiptScan2Pay ReceiptKind = "scan2pay"
	ReceiptTransfer ReceiptKind = "transfer"
)

// Receipt is a buyer receipt.
type Receipt struct {
	Kind           ReceiptKind
	To             string
	Name           string
	ReferenceID    string
	Title          string
	Label          string
	Copies         int
	Gross          money.Money
	PlatformCharge money.Money
	VendorAmount   money.Money
	// Caveat is shown when the payment was captured but the vendor is not yet paid.
	Caveat string
}

// Alert is an operator alert about a settlement that needs manual attention.
type Alert struct {
	Severity    string
	Summary     string
	ReferenceID string
	Fields      map[string]string
}

// Attachment is a file attached to a message.
type Attachment struct {
	Name string
	Data []byte
}

// Message is a rendered email.
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer sends rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher sends notifications in the background.
type Dispatcher struct {
	mailer    Mailer
	publisher events.Publisher
	config    Config
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(mailer Mailer, publisher events.Publisher, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Dispatcher{
		mailer:    mailer,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

// SendReceipt renders and mails a receipt without blocking the caller.
func (d *Dispatcher) SendReceipt(ctx context.Context, r Receipt) {
	if r.To == "" {
		d.logger.Warn("receipt has no recipient", "reference_id", r.ReferenceID)
		return
	}
	d.background(ctx, "receipt", func(ctx context.Context) error {
		msg, err := d.renderReceipt(r)
		if err != nil {
			return err
		}
		return d.mailer.Send(ctx, msg)
	})
}

// SendOperatorAlert publishes the alert and mails the ops mailbox when configured.
func (d *Dispatcher) SendOperatorAlert(ctx context.Context, a Alert) {
	if a.Severity == "" {
		a.Severity = "critical"
	}
	d.logger.Error("operator alert",
		"summary", a.Summary,
		"reference_id", a.ReferenceID,
		"severity", a.Severity,
	)

	d.background(ctx, "alert", func(ctx context.Context) error {
		if d.publisher != nil {
			event, err := events.NewEvent(events.OperatorAlert, events.AggregateAlert, a.ReferenceID, events.OperatorAlertData{
				Severity:    a.Severity,
				Summary:     a.Summary,
				ReferenceID: a.ReferenceID,
				Fields:      a.Fields,
			})
			if err != nil {
				return fmt.Errorf("building alert event: %w", err)
			}
			if err := d.publisher.Publish(ctx, event); err != nil {
				d.logger.Warn("failed to publish operator alert", "error", err, "reference_id", a.ReferenceID)
			}
		}
		if d.config.OpsEmail == "" {
			return nil
		}
		msg, err := d.renderAlert(a)
		if err != nil {
			return err
		}
		return d.mailer.Send(ctx, msg)
	})
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) background(ctx context.Context, kind string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.Timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Error("notification failed", "kind", kind, "error", err)
		}
	}()
}

func (d *Dispatcher) renderReceipt(r Receipt) (Message, error) {
	subject, body, err := renderReceipt(r)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		From:    d.config.From,
		To:      []string{r.To},
		Subject: subject,
		Body:    body,
	}

	if r.Kind == ReceiptTicket {
		copies := r.Copies
		if copies < 1 {
			copies = 1
		}
		for i := 1; i <= copies; i++ {
			png, err := qrcode.Render(qrcode.TicketPayload(r.To, r.ReferenceID, i), qrcode.DefaultSize)
			if err != nil {
				return Message{}, err
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Name: fmt.Sprintf("ticket-%s-%d.png", r.ReferenceID, i),
				Data: png,
			})
		}
	}
	return msg, nil
}

func (d *Dispatcher) renderAlert(a Alert) (Message, error) {
	body, err := renderAlert(a)
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    d.config.From,
		To:      []string{d.config.OpsEmail},
		Subject: fmt.Sprintf("[%s] %s", a.Severity, a.Summary),
		Body:    body,
	}, nil
}

// LogMailer logs messages instead of sending them. Used when no SMTP host is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs msg.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email not sent, smtp disabled",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}
