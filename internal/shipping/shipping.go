package shipping

import (
	"context"
	"time"

	ordermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
	shippingmodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/shipping"
)

type (
	Recipient   = shippingmodel.Recipient
	Parcel      = shippingmodel.Parcel
	PickupPoint = ordermodel.PickupPoint
)

const (
	DeliveryHome  = ordermodel.DeliveryHome
	DeliveryRelay = ordermodel.DeliveryRelay
)

type Draft struct {
	OrderID      string       `json:"order_id"`
	Status       string       `json:"status"`
	TotalWeightG int64        `json:"total_weight_g"`
	CountryCode  string       `json:"country_code"`
	DeliveryType string       `json:"delivery_type"`
	Recipient    Recipient    `json:"recipient"`
	Parcels      []Parcel     `json:"parcels"`
	PickupPoint  *PickupPoint `json:"pickup_point"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// OrderReader loads orders; a missing order is reported as internal.ErrOrderNotFound.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*ordermodel.Order, error)
}

// DraftRepository stores one draft per order. GetByOrderID returns internal.ErrDraftNotFound when absent.
type DraftRepository interface {
	GetByOrderID(ctx context.Context, orderID string) (*Draft, error)
	Upsert(ctx context.Context, draft *Draft) (*Draft, error)
}

type ServiceAPI interface {
	CreateOrUpdateDraft(ctx context.Context, orderID string) (*Draft, error)
	GetDraft(ctx context.Context, orderID string) (*Draft, error)
}
