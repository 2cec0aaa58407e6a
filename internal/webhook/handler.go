package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payplatform/internal/common/api"
	"payplatform/internal/common/events"
	"payplatform/internal/common/middleware"
	"payplatform/internal/providers"
)

const maxBody = 1 << 20

// Settlements applies verified callbacks to settlement records.
type Settlements interface {
	ApplyChargeConfirmation(ctx context.Context, externalReference string) error
	ApplyTransferOutcome(ctx context.Context, payoutReference string, res providers.TransferResult) error
}

// Handler receives provider callbacks
type Handler struct {
	sources   map[string]Source
	store     Store
	service   Settlements
	publisher events.Publisher
	logger    *slog.Logger
}

// NewHandler creates a webhook handler. publisher may be nil.
func NewHandler(sources []Source, store Store, service Settlements, publisher events.Publisher, logger *slog.Logger) *Handler {
	h := &Handler{
		sources:   make(map[string]Source, len(sources)),
		store:     store,
		service:   service,
		publisher: publisher,
		logger:    logger.With("component", "webhook"),
	}
	for _, s := range sources {
		h.sources[s.Name()] = s
	}
	return h
}

// Routes returns the webhook routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Receive)
	return r
}

// Receive handles POST /{provider}. It answers 200 for every authentic callback,
// including duplicates, and 400 otherwise. An event that fails to apply is not kept
// as seen, so its redelivery is applied again.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	source, ok := h.sources[provider]
	if !ok {
		api.BadRequest(w, "unknown provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		api.BadRequest(w, "unreadable body")
		return
	}

	if err := source.Verify(r.Header, body); err != nil {
		h.logger.Warn("rejected webhook", "provider", provider, "error", err)
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInvalidSignature, "invalid signature")
		return
	}

	event, err := source.Parse(body)
	if err != nil {
		h.logger.Warn("unparseable webhook", "provider", provider, "error", err)
		api.BadRequest(w, "malformed payload")
		return
	}

	ctx := r.Context()
	fresh, err := h.store.Record(ctx, event)
	if err != nil {
		// Applying is idempotent, so an unrecorded event is still applied.
		h.logger.Error("failed to record webhook", "provider", provider, "event_id", event.ID, "error", err)
		fresh = true
	}
	if !fresh {
		h.logger.Info("duplicate webhook ignored", "provider", provider, "event_id", event.ID)
		api.WriteData(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	h.publish(ctx, event)
	if err := h.apply(ctx, event); err != nil {
		h.logger.Error("failed to apply webhook",
			"provider", provider,
			"event_id", event.ID,
			"type", event.Type,
			"reference", event.Reference,
			"error", err,
		)
		// The provider retries on its own schedule; let that retry through.
		if err := h.store.Forget(context.WithoutCancel(ctx), event); err != nil {
			h.logger.Error("failed to forget webhook", "provider", provider, "event_id", event.ID, "error", err)
		}
	}

	api.WriteData(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) apply(ctx context.Context, e *Event) error {
	switch e.Kind {
	case KindChargeSuccess:
		return h.service.ApplyChargeConfirmation(ctx, e.Reference)
	case KindTransferOutcome:
		return h.service.ApplyTransferOutcome(ctx, e.Transfer.Reference, e.Transfer)
	default:
		h.logger.Debug("webhook needs no action", "provider", e.Provider, "type", e.Type)
		return nil
	}
}

func (h *Handler) publish(ctx context.Context, e *Event) {
	if h.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.WebhookReceived, events.AggregateWebhook, e.ID, events.WebhookReceivedData{
		Provider:  e.Provider,
		EventID:   e.ID,
		EventType: e.Type,
		Reference: e.Reference,
	})
	if err != nil {
		h.logger.Error("failed to build webhook event", "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish webhook event", "event_id", e.ID, "error", err)
	}
}
