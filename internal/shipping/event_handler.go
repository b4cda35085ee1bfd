package shipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/core/events"
)

// EventHandler prepares the first shipping draft as soon as an order exists. Failures are only
// logged; operators can rebuild the draft later.
type EventHandler struct {
	service ServiceAPI
	logger  *slog.Logger
}

func NewEventHandler(service ServiceAPI, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		logger:  logger,
	}
}

func (h *EventHandler) HandleOrderCreated(ctx context.Context, event events.Event) error {
	orderEvent, ok := event.(*events.OrderCreatedEvent)
	if !ok {
		h.logger.Error("invalid event type for order created handler", "event_type", event.EventType())
		return fmt.Errorf("expected OrderCreatedEvent, got %T", event)
	}

	draft, err := h.service.CreateOrUpdateDraft(ctx, orderEvent.OrderID)
	if err != nil {
		var appErr *internal.AppError
		if errors.As(err, &appErr) && appErr.StatusCode < 500 {
			h.logger.Warn("shipping draft not ready for new order",
				"order_id", orderEvent.OrderID,
				"code", appErr.Code,
				"details", appErr.Details,
				"event_id", orderEvent.EventID())
			return nil
		}
		h.logger.Error("failed to build shipping draft for new order",
			"error", err,
			"order_id", orderEvent.OrderID,
			"event_id", orderEvent.EventID())
		return nil
	}

	h.logger.Info("shipping draft prepared for new order",
		"order_id", draft.OrderID,
		"parcels", len(draft.Parcels),
		"event_id", orderEvent.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeOrderCreated, h.HandleOrderCreated)

	h.logger.Info("shipping event handlers registered",
		"handlers", []string{events.EventTypeOrderCreated})
}
