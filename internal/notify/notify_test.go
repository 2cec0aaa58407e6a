package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"payplatform/internal/common/events"
	"payplatform/internal/common/money"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *fakePublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendReceiptTicketAttachesQRPerCopy(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, nil, Config{From: "no-reply@example.com"}, testLogger())

	d.SendReceipt(context.Background(), Receipt{
		Kind:        ReceiptTicket,
		To:          "ada@example.com",
		Name:        "Ada",
		ReferenceID: "01HX",
		Title:       "Lagos Jazz Night",
		Label:       "VIP",
		Copies:      3,
		Gross:       money.Kobo(1500000),
	})
	d.Wait()

	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if len(msg.Attachments) != 3 {
		t.Errorf("attachments = %d, want 3", len(msg.Attachments))
	}
	if msg.Subject != "Your Ticket Receipt - Lagos Jazz Night" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "01HX") {
		t.Errorf("body missing reference: %s", msg.Body)
	}
}

func TestSendReceiptScan2PayShowsSplit(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, nil, Config{}, testLogger())

	d.SendReceipt(context.Background(), Receipt{
		Kind:           ReceiptScan2Pay,
		To:             "ada@example.com",
		ReferenceID:    "01HY",
		Title:          "Mama Put",
		Label:          "counter-1",
		Gross:          money.Kobo(8000),
		PlatformCharge: money.Kobo(150),
		VendorAmount:   money.Kobo(7850),
		Caveat:         "vendor payout pending",
	})
	d.Wait()

	body := mailer.sent[0].Body
	for _, want := range []string{"₦80.00", "₦1.50", "₦78.50", "vendor payout pending"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if len(mailer.sent[0].Attachments) != 0 {
		t.Error("scan2pay receipts carry no attachments")
	}
}

func TestSendReceiptTransfer(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, nil, Config{}, testLogger())

	d.SendReceipt(context.Background(), Receipt{
		Kind:           ReceiptTransfer,
		To:             "ada@example.com",
		ReferenceID:    "01HZ",
		Title:          "0123456789 (058)",
		Label:          "Rent",
		Gross:          money.Kobo(100000),
		PlatformCharge: money.Kobo(200),
		VendorAmount:   money.Kobo(99800),
	})
	d.Wait()

	if len(mailer.sent) != 1 {
		t.Fatalf("sent = %d", len(mailer.sent))
	}
	if got := mailer.sent[0].Subject; got != "Transfer Receipt - 01HZ" {
		t.Errorf("subject = %q", got)
	}
	for _, want := range []string{"0123456789 (058)", "Rent", "₦1000.00", "₦998.00"} {
		if !strings.Contains(mailer.sent[0].Body, want) {
			t.Errorf("body missing %q:\n%s", want, mailer.sent[0].Body)
		}
	}
}

func TestSendReceiptFailureIsSwallowed(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("connection refused")}
	d := NewDispatcher(mailer, nil, Config{}, testLogger())

	d.SendReceipt(context.Background(), Receipt{Kind: ReceiptScan2Pay, To: "ada@example.com"})
	d.Wait()

	if len(mailer.sent) != 1 {
		t.Fatalf("expected one attempt, got %d", len(mailer.sent))
	}
}

func TestSendReceiptCancelledContextStillDelivers(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, nil, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.SendReceipt(ctx, Receipt{Kind: ReceiptScan2Pay, To: "ada@example.com"})
	d.Wait()

	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages", len(mailer.sent))
	}
}

func TestSendOperatorAlert(t *testing.T) {
	tests := []struct {
		name     string
		opsEmail string
		wantMail int
	}{
		{name: "publish only", wantMail: 0},
		{name: "publish and mail", opsEmail: "ops@example.com", wantMail: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			pub := &fakePublisher{}
			d := NewDispatcher(mailer, pub, Config{OpsEmail: tt.opsEmail}, testLogger())

			d.SendOperatorAlert(context.Background(), Alert{
				Summary:     "vendor payout failed",
				ReferenceID: "01HZ",
				Fields:      map[string]string{"error_code": "51"},
			})
			d.Wait()

			if len(pub.events) != 1 || pub.events[0].Type != events.OperatorAlert {
				t.Fatalf("events = %+v", pub.events)
			}
			var data events.OperatorAlertData
			if err := pub.events[0].DecodeData(&data); err != nil {
				t.Fatal(err)
			}
			if data.Severity != "critical" || data.Fields["error_code"] != "51" {
				t.Errorf("data = %+v", data)
			}
			if len(mailer.sent) != tt.wantMail {
				t.Errorf("mails = %d, want %d", len(mailer.sent), tt.wantMail)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	_, err := buildMessage(Message{
		From:        "no-reply@example.com",
		To:          []string{"ada@example.com"},
		Subject:     "hi",
		Body:        "body",
		Attachments: []Attachment{{Name: "a.png", Data: []byte("png")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildMessage(Message{From: "not an address", To: []string{"ada@example.com"}}); err == nil {
		t.Error("expected invalid sender error")
	}
}
