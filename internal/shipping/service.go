package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/core/common/validation"
	ordermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
	shippingmodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/shipping"
)

var pickupPointFields = []string{"id", "network", "name", "address1", "zip", "city", "country_code"}

// Service builds carrier-ready shipping drafts from persisted orders.
type Service struct {
	orders     OrderReader
	drafts     DraftRepository
	recipients *RecipientResolver
	cfg        internal.ShippingConfig
	logger     *slog.Logger
}

func NewService(orders OrderReader, drafts DraftRepository, recipients *RecipientResolver, cfg internal.ShippingConfig, logger *slog.Logger) *Service {
	return &Service{
		orders:     orders,
		drafts:     drafts,
		recipients: recipients,
		cfg:        cfg,
		logger:     logger,
	}
}

// CreateOrUpdateDraft computes the draft for an order and stores it unless the stored draft
// already has the same content.
func (s *Service) CreateOrUpdateDraft(ctx context.Context, orderID string) (*Draft, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, internal.ErrOrderNotFound
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, internal.ErrOrderNotFound) {
			s.logger.Error("failed to load order for shipping draft", "error", err, "order_id", orderID)
		}
		return nil, err
	}

	if !validWeight(order.TotalWeightG) {
		s.logger.Warn("order has no usable weight", "order_id", orderID, "total_weight_g", order.TotalWeightG)
		return nil, missingWeight()
	}

	deliveryType := NormalizeDeliveryType(order.DeliveryType)

	recipient := s.recipients.Resolve(ctx, OrderRef{
		UserID:         order.UserID,
		BillingAddress: json.RawMessage(order.BillingAddress),
		FallbackEmail:  order.CustomerEmail,
	})
	recipient.CountryCode = s.resolveCountry(recipient, order)

	if missing := missingRecipientFields(recipient, deliveryType); len(missing) > 0 {
		s.logger.Warn("recipient incomplete for shipping draft", "order_id", orderID, "missing_fields", missing)
		return nil, internal.ErrMissingRecipientFields.WithDetails(internal.MissingFields{Fields: missing})
	}

	var pickup *PickupPoint
	if deliveryType == DeliveryRelay {
		pp, missing := decodePickupPoint(order.PickupPoint)
		if len(missing) > 0 {
			s.logger.Warn("pickup point incomplete for shipping draft", "order_id", orderID, "missing_fields", missing)
			return nil, internal.ErrMissingPickupPointFields.WithDetails(internal.MissingFields{Fields: missing})
		}
		pickup = pp
	}

	parcels, err := buildParcels(order.TotalWeightG, s.cfg.ParcelCeilingG)
	if err != nil {
		return nil, missingWeight()
	}

	candidate := &Draft{
		OrderID:      order.ID,
		Status:       shippingmodel.StatusDraft,
		TotalWeightG: sumParcels(parcels),
		CountryCode:  recipient.CountryCode,
		DeliveryType: deliveryType,
		Recipient:    recipient,
		Parcels:      parcels,
		PickupPoint:  pickup,
	}

	existing, err := s.drafts.GetByOrderID(ctx, order.ID)
	switch {
	case err == nil:
		if draftUnchanged(existing, candidate) {
			s.logger.Debug("shipping draft unchanged", "order_id", order.ID)
			return existing, nil
		}
	case errors.Is(err, internal.ErrDraftNotFound):
	default:
		s.logger.Error("failed to load shipping draft", "error", err, "order_id", order.ID)
		return nil, err
	}

	stored, err := s.drafts.Upsert(ctx, candidate)
	if err != nil {
		s.logger.Error("failed to store shipping draft", "error", err, "order_id", order.ID)
		return nil, err
	}

	s.logger.Info("shipping draft stored",
		"order_id", order.ID,
		"delivery_type", deliveryType,
		"parcels", len(parcels),
		"total_weight_g", stored.TotalWeightG)

	return stored, nil
}

func (s *Service) GetDraft(ctx context.Context, orderID string) (*Draft, error) {
	draft, err := s.drafts.GetByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		if !errors.Is(err, internal.ErrDraftNotFound) {
			s.logger.Error("failed to load shipping draft", "error", err, "order_id", orderID)
		}
		return nil, err
	}
	return draft, nil
}

// resolveCountry prefers the recipient, then the billing snapshot, then the configured default.
func (s *Service) resolveCountry(recipient Recipient, order *ordermodel.Order) string {
	if recipient.CountryCode != "" {
		return recipient.CountryCode
	}
	if cc := recipientFromBilling(json.RawMessage(order.BillingAddress)).CountryCode; cc != "" {
		return cc
	}
	if s.cfg.StrictCountry || strings.TrimSpace(s.cfg.DefaultCountry) == "" {
		return ""
	}

	fallback := strings.ToUpper(strings.TrimSpace(s.cfg.DefaultCountry))
	s.logger.Warn("recipient country unknown, using default country",
		"order_id", order.ID,
		"country_code", fallback)
	return fallback
}

// NormalizeDeliveryType maps anything other than relay to home.
func NormalizeDeliveryType(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), DeliveryRelay) {
		return DeliveryRelay
	}
	return DeliveryHome
}

func missingRecipientFields(r Recipient, deliveryType string) []string {
	pairs := []validation.Pair{
		{Name: "full_name", Value: r.FullName},
		{Name: "email", Value: r.Email},
		{Name: "phone", Value: r.Phone},
		{Name: "country_code", Value: r.CountryCode},
	}
	if deliveryType == DeliveryHome {
		pairs = append(pairs,
			validation.Pair{Name: "address1", Value: r.Address1},
			validation.Pair{Name: "zip", Value: r.Zip},
			validation.Pair{Name: "city", Value: r.City},
		)
	}
	return validation.MissingFields(pairs...)
}

// decodePickupPoint returns the trimmed pickup point, or every missing required field.
// An absent or unreadable pickup point is missing all of them.
func decodePickupPoint(raw []byte) (*PickupPoint, []string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, append([]string(nil), pickupPointFields...)
	}

	var pp PickupPoint
	if err := json.Unmarshal(raw, &pp); err != nil {
		return nil, append([]string(nil), pickupPointFields...)
	}

	pp = PickupPoint{
		ID:          clean(pp.ID),
		Network:     clean(pp.Network),
		Name:        clean(pp.Name),
		Address1:    clean(pp.Address1),
		Address2:    clean(pp.Address2),
		Zip:         clean(pp.Zip),
		City:        clean(pp.City),
		CountryCode: strings.ToUpper(clean(pp.CountryCode)),
	}

	missing := validation.MissingFields(
		validation.Pair{Name: "id", Value: pp.ID},
		validation.Pair{Name: "network", Value: pp.Network},
		validation.Pair{Name: "name", Value: pp.Name},
		validation.Pair{Name: "address1", Value: pp.Address1},
		validation.Pair{Name: "zip", Value: pp.Zip},
		validation.Pair{Name: "city", Value: pp.City},
		validation.Pair{Name: "country_code", Value: pp.CountryCode},
	)
	if len(missing) > 0 {
		return nil, missing
	}
	return &pp, nil
}

func draftUnchanged(existing, candidate *Draft) bool {
	if existing == nil {
		return false
	}
	return cmp.Equal(existing, candidate,
		cmpopts.IgnoreFields(Draft{}, "CreatedAt", "UpdatedAt", "Status"),
		cmpopts.EquateEmpty(),
	)
}

func validWeight(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0) && w > 0
}

func missingWeight() error {
	return internal.ErrInvalidWeight.
		WithMessage("order total_weight_g must be a finite number of grams greater than zero").
		WithDetails(internal.MissingFields{Fields: []string{"total_weight_g"}})
}

func sumParcels(parcels []Parcel) int64 {
	var total int64
	for _, p := range parcels {
		total += p.WeightG
	}
	return total
}
