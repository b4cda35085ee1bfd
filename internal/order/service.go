package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"

	"github.com/frahmantamala/shop-orders/internal"
	ordermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
)

const maxCommentLength = 1000

// Service materializes paid checkouts into orders and serves them back.
type Service struct {
	repo     Repository
	sanitize *bluemonday.Policy
	logger   *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger,
	}
}

// CreateOrder persists the order described by the payload. The write is all or nothing. When an
// order for the same provider order id already exists it is returned with Adopted set.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Result, error) {
	providerOrderID := strings.TrimSpace(req.ProviderOrderID)
	if providerOrderID == "" {
		return nil, internal.ErrInvalidPayload.WithMessage("provider order id is required")
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, internal.ErrInvalidPayload.WithCause(err)
	}

	o, err := s.buildOrder(providerOrderID, req.Payload)
	if err != nil {
		return nil, err
	}

	err = s.repo.Create(ctx, o)
	if err == nil {
		s.logger.Info("order created",
			"order_id", o.ID,
			"reference", o.Reference,
			"provider_order_id", providerOrderID,
			"total", o.Total.StringFixed(2),
			"items", len(o.Items))
		return &Result{Order: o}, nil
	}
	if !errors.Is(err, ErrDuplicateOrder) {
		s.logger.Error("failed to create order", "error", err, "provider_order_id", providerOrderID)
		return nil, err
	}

	return s.adopt(ctx, providerOrderID, o.Reference)
}

// adopt resolves a unique-key collision. An order already recorded for this payment is reused;
// a reference owned by another payment is a conflict.
func (s *Service) adopt(ctx context.Context, providerOrderID, reference string) (*Result, error) {
	existing, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	if err == nil {
		s.logger.Warn("order already materialized for payment, adopting it",
			"order_id", existing.ID,
			"provider_order_id", providerOrderID)
		return &Result{Order: existing, Adopted: true}, nil
	}
	if !errors.Is(err, internal.ErrOrderNotFound) {
		return nil, err
	}

	byRef, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("resolve duplicate order: %w", err)
	}
	if byRef.ProviderOrderID == nil || *byRef.ProviderOrderID == "" {
		s.logger.Warn("order reference exists without payment link, adopting it",
			"order_id", byRef.ID,
			"reference", reference,
			"provider_order_id", providerOrderID)
		return &Result{Order: byRef, Adopted: true}, nil
	}

	s.logger.Error("order reference belongs to another payment",
		"reference", reference,
		"provider_order_id", providerOrderID,
		"existing_provider_order_id", *byRef.ProviderOrderID)
	return nil, internal.NewConflictError(
		fmt.Sprintf("order reference %s is already used by another payment", reference),
		internal.ErrCodeMaterializationFailed,
	)
}

// GetOrder loads an order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		if !errors.Is(err, internal.ErrOrderNotFound) {
			s.logger.Error("failed to load order", "error", err, "order_id", orderID)
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) buildOrder(providerOrderID string, p paymentintent.Payload) (*Order, error) {
	now := time.Now().UTC()
	id := ulid.Make().String()

	deliveryType := ordermodel.DeliveryHome
	var pickup datatypes.JSON
	if p.Delivery.Type == ordermodel.DeliveryRelay {
		deliveryType = ordermodel.DeliveryRelay
		if p.Delivery.PickupPoint != nil {
			b, err := json.Marshal(p.Delivery.PickupPoint)
			if err != nil {
				return nil, internal.ErrInvalidPayload.WithCause(err)
			}
			pickup = datatypes.JSON(b)
		}
	}

	var billing datatypes.JSON
	if len(p.BillingAddress) > 0 {
		billing = datatypes.JSON(p.BillingAddress)
	}

	items := make([]Item, 0, len(p.Items))
	for _, li := range p.Items {
		items = append(items, Item{
			OrderID:     id,
			ProductID:   strings.TrimSpace(li.ProductID),
			Name:        strings.TrimSpace(li.Name),
			Variant:     strings.TrimSpace(li.Variant),
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice.Round(2),
			UnitWeightG: li.UnitWeightG,
		})
	}

	pid := providerOrderID
	return &Order{
		ID:              id,
		Reference:       strings.TrimSpace(p.Reference),
		ProviderOrderID: &pid,
		UserID:          p.UserID,
		Status:          ordermodel.StatusPaid,
		CustomerName:    strings.TrimSpace(p.Customer.Name),
		CustomerEmail:   strings.TrimSpace(p.Customer.Email),
		TotalWeightG:    p.TotalWeightG(),
		DeliveryType:    deliveryType,
		PickupPoint:     pickup,
		BillingAddress:  billing,
		Subtotal:        p.Subtotal.Round(2),
		ShippingCost:    p.ShippingCost.Round(2),
		Total:           p.Total.Round(2),
		Currency:        strings.ToUpper(strings.TrimSpace(p.Currency)),
		Comment:         s.cleanComment(p.Comment),
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *Service) cleanComment(comment string) string {
	c := strings.TrimSpace(s.sanitize.Sanitize(comment))
	if len(c) > maxCommentLength {
		c = strings.ToValidUTF8(c[:maxCommentLength], "")
	}
	return c
}
