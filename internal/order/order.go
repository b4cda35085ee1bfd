package order

import (
	"context"
	"errors"

	ordermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
)

type (
	Order = ordermodel.Order
	Item  = ordermodel.Item
)

// ErrDuplicateOrder is returned by Repository.Create when a unique key (reference or
// provider order id) already belongs to another order.
var ErrDuplicateOrder = errors.New("order already exists")

// CreateRequest is everything needed to materialize a paid checkout.
type CreateRequest struct {
	ProviderOrderID string
	Payload         paymentintent.Payload
}

// Result reports the materialized order. Adopted is true when the order already existed for the
// same payment and was returned instead of being created again.
type Result struct {
	Order   *Order
	Adopted bool
}

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
}
