package notification

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/shop-orders/internal/core/events"
)

// OrderSummary is what downstream consumers learn about a newly materialized order.
type OrderSummary struct {
	OrderID         string `json:"order_id"`
	Reference       string `json:"reference"`
	ProviderOrderID string `json:"provider_order_id"`
	Total           string `json:"total"`
	Currency        string `json:"currency"`
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	DeliveryType    string `json:"delivery_type"`
	ItemCount       int    `json:"item_count"`
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// BusNotifier announces new orders on the in-process event bus. Subscribers run on their own;
// Notify only fails when the event cannot be handed over.
type BusNotifier struct {
	bus    Publisher
	logger *slog.Logger
}

func NewBusNotifier(bus Publisher, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{
		bus:    bus,
		logger: logger,
	}
}

func (n *BusNotifier) Notify(ctx context.Context, s OrderSummary) error {
	event := events.NewOrderCreatedEvent(
		s.OrderID,
		s.Reference,
		s.ProviderOrderID,
		s.Total,
		s.Currency,
		s.CustomerName,
		s.CustomerEmail,
		s.DeliveryType,
		s.ItemCount,
	)

	if err := n.bus.Publish(ctx, event); err != nil {
		return err
	}

	n.logger.Info("order created event published",
		"order_id", s.OrderID,
		"reference", s.Reference,
		"event_id", event.EventID())
	return nil
}
