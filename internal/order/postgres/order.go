package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/order"
)

// OrderRepository implements order.Repository using GORM. The database must be opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create writes the order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(o).Error; err != nil {
			return err
		}
		if len(o.Items) == 0 {
			return nil
		}
		for i := range o.Items {
			o.Items[i].OrderID = o.ID
		}
		return tx.Create(&o.Items).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", order.ErrDuplicateOrder, err)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *OrderRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*order.Order, error) {
	return r.first(ctx, "provider_order_id = ?", providerOrderID)
}

func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.first(ctx, "reference = ?", reference)
}

// GetOrder satisfies the shipping order reader.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return r.GetByID(ctx, orderID)
}

func (r *OrderRepository) first(ctx context.Context, query string, arg interface{}) (*order.Order, error) {
	var o order.Order
	err := r.db.WithContext(ctx).Preload("Items").Where(query, arg).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}
