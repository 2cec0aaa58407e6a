package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	SettlementCreated         = "settlement.created"
	SettlementDebitFailed     = "settlement.debit_failed"
	SettlementPayoutInitiated = "settlement.payout_initiated"
	SettlementSucceeded       = "settlement.succeeded"
	SettlementPayoutFailed    = "settlement.payout_failed"
	SettlementRecordedUnpaid  = "settlement.recorded_unpaid"

	WebhookReceived = "webhook.received"

	OperatorAlert = "ops.alert"
)

// Aggregate types
const (
	AggregateSettlement = "settlement"
	AggregateWebhook    = "webhook"
	AggregateAlert      = "alert"
)

// SettlementData is the payload of settlement.* events
type SettlementData struct {
	ReferenceID       string `json:"reference_id"`
	ExternalReference string `json:"external_reference"`
	Protocol          string `json:"protocol"`
	Provider          string `json:"provider"`
	Purpose           string `json:"purpose"`
	Status            string `json:"status"`
	GrossAmount       int64  `json:"gross_amount"`
	PlatformCharge    int64  `json:"platform_charge"`
	VendorAmount      int64  `json:"vendor_amount"`
	Currency          string `json:"currency"`
	VendorID          string `json:"vendor_id,omitempty"`
	PayoutReference   string `json:"payout_reference,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// WebhookReceivedData is the payload of webhook.received events
type WebhookReceivedData struct {
	Provider  string `json:"provider"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Reference string `json:"reference,omitempty"`
}

// OperatorAlertData is the payload of ops.alert events
type OperatorAlertData struct {
	Severity    string            `json:"severity"`
	Summary     string            `json:"summary"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}
