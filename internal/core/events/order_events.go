package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderCreated = "order.created"
)

type OrderCreatedEvent struct {
	BaseEvent
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

func NewOrderCreatedEvent(orderID, reference, providerOrderID, total, currency, customerName, customerEmail, deliveryType string, itemCount int) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCreated,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"order_id":          orderID,
				"reference":         reference,
				"provider_order_id": providerOrderID,
				"total":             total,
				"currency":          currency,
				"delivery_type":     deliveryType,
				"item_count":        itemCount,
			},
		},
		OrderID:         orderID,
		Reference:       reference,
		ProviderOrderID: providerOrderID,
		Total:           total,
		Currency:        currency,
		CustomerName:    customerName,
		CustomerEmail:   customerEmail,
		DeliveryType:    deliveryType,
		ItemCount:       itemCount,
	}
}
