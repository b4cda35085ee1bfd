package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/shop-orders/internal"
	shippingmodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/shipping"
	"github.com/frahmantamala/shop-orders/internal/shipping"
)

// DraftRepository implements shipping.DraftRepository using GORM
type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

func (r *DraftRepository) GetByOrderID(ctx context.Context, orderID string) (*shipping.Draft, error) {
	var row shippingmodel.ShippingDraft
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrDraftNotFound
		}
		return nil, err
	}
	return toDraft(&row)
}

// Upsert inserts the draft or replaces the content of the one already stored for its order.
func (r *DraftRepository) Upsert(ctx context.Context, draft *shipping.Draft) (*shipping.Draft, error) {
	row, err := toModel(draft)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "total_weight_g", "country_code", "delivery_type",
			"recipient", "parcels", "pickup_point", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert shipping draft: %w", err)
	}

	return r.GetByOrderID(ctx, draft.OrderID)
}

func toModel(d *shipping.Draft) (*shippingmodel.ShippingDraft, error) {
	var pickup datatypes.JSON
	if d.PickupPoint != nil {
		b, err := json.Marshal(d.PickupPoint)
		if err != nil {
			return nil, fmt.Errorf("encode pickup point: %w", err)
		}
		pickup = datatypes.JSON(b)
	}

	parcels := d.Parcels
	if parcels == nil {
		parcels = []shipping.Parcel{}
	}

	status := d.Status
	if status == "" {
		status = shippingmodel.StatusDraft
	}

	return &shippingmodel.ShippingDraft{
		OrderID:      d.OrderID,
		Status:       status,
		TotalWeightG: d.TotalWeightG,
		CountryCode:  d.CountryCode,
		DeliveryType: d.DeliveryType,
		Recipient:    datatypes.NewJSONType(d.Recipient),
		Parcels:      datatypes.NewJSONType(parcels),
		PickupPoint:  pickup,
	}, nil
}

func toDraft(row *shippingmodel.ShippingDraft) (*shipping.Draft, error) {
	d := &shipping.Draft{
		OrderID:      row.OrderID,
		Status:       row.Status,
		TotalWeightG: row.TotalWeightG,
		CountryCode:  row.CountryCode,
		DeliveryType: row.DeliveryType,
		Recipient:    row.Recipient.Data(),
		Parcels:      row.Parcels.Data(),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	raw := bytes.TrimSpace(row.PickupPoint)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var pp shipping.PickupPoint
		if err := json.Unmarshal(raw, &pp); err != nil {
			return nil, fmt.Errorf("decode stored pickup point: %w", err)
		}
		d.PickupPoint = &pp
	}
	return d, nil
}
