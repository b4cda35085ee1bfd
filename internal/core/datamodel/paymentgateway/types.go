package paymentgateway

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	ProviderPayPal = "paypal"
	ProviderStripe = "stripe"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

var (
	ErrUnknownOrder = errors.New("processor does not know this order")
	ErrUnavailable  = errors.New("processor unavailable")
)

// Confirmation is what a processor reports about one of its orders.
type Confirmation struct {
	Provider        string          `json:"provider"`
	ProviderOrderID string          `json:"provider_order_id"`
	Status          PaymentStatus   `json:"status"`
	RawStatus       string          `json:"raw_status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CaptureID       string          `json:"capture_id,omitempty"`
}

func (c Confirmation) Completed() bool {
	return c.Status == PaymentStatusCompleted
}
