package paymentintent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
)

const PayloadVersion = 1

// Payload is the snapshot taken when checkout starts; it holds everything needed to
// materialize the order later without asking the client again.
type Payload struct {
	Version        int             `json:"version"`
	Reference      string          `json:"reference"`
	Items          []LineItem      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Delivery       Delivery        `json:"delivery"`
	UserID         *string         `json:"user_id,omitempty"`
	Comment        string          `json:"comment,omitempty"`
	Customer       Customer        `json:"customer"`
	BillingAddress json.RawMessage `json:"billing_address,omitempty"`
}

type LineItem struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Variant     string          `json:"variant,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitWeightG float64         `json:"unit_weight_g"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Delivery is a tagged union on Type: "home" carries nothing, "relay" carries the pickup point.
type Delivery struct {
	Type        string             `json:"type"`
	PickupPoint *order.PickupPoint `json:"pickup_point,omitempty"`
}

var (
	ErrUnknownDeliveryType = errors.New("unknown delivery type")
	ErrMissingPickupPoint  = errors.New("relay delivery requires a pickup point")
	ErrMissingReference    = errors.New("payload has no reference")
	ErrNoItems             = errors.New("payload has no items")
)

func (d *Delivery) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type        string             `json:"type"`
		PickupPoint *order.PickupPoint `json:"pickup_point"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case order.DeliveryHome:
		*d = Delivery{Type: order.DeliveryHome}
	case order.DeliveryRelay:
		if raw.PickupPoint == nil {
			return ErrMissingPickupPoint
		}
		*d = Delivery{Type: order.DeliveryRelay, PickupPoint: raw.PickupPoint}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDeliveryType, raw.Type)
	}
	return nil
}

// TotalWeightG is the sum of unit weight times quantity over all lines.
func (p Payload) TotalWeightG() float64 {
	var total float64
	for _, item := range p.Items {
		total += item.UnitWeightG * float64(item.Quantity)
	}
	return total
}

// Validate checks what materialization cannot do without: a reference and at least one line.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Reference) == "" {
		return ErrMissingReference
	}
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	for i, item := range p.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("item %d has no product_id", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d has quantity %d", i, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("item %d has a negative unit price", i)
		}
	}
	return nil
}

// DecodePayload turns a stored snapshot back into a Payload. Any decoding or shape failure is
// reported as a single error so callers can map it to an invalid payload.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return p, errors.New("payload is empty")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func EncodePayload(p Payload) ([]byte, error) {
	if p.Version == 0 {
		p.Version = PayloadVersion
	}
	return json.Marshal(p)
}
