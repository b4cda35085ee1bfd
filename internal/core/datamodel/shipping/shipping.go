package shipping

import (
	"time"

	"gorm.io/datatypes"
)

const StatusDraft = "draft"

// ShippingDraft is the carrier-ready plan for one order. Its content is derived from the order
// and the resolved recipient, so rebuilding it with unchanged inputs must not write.
type ShippingDraft struct {
	ID           int64                         `gorm:"primaryKey"`
	OrderID      string                        `gorm:"column:order_id;not null;uniqueIndex"`
	Status       string                        `gorm:"column:status;not null;default:draft"`
	TotalWeightG int64                         `gorm:"column:total_weight_g;not null"`
	CountryCode  string                        `gorm:"column:country_code"`
	DeliveryType string                        `gorm:"column:delivery_type;not null"`
	Recipient    datatypes.JSONType[Recipient] `gorm:"column:recipient;not null"`
	Parcels      datatypes.JSONType[[]Parcel]  `gorm:"column:parcels;not null"`
	PickupPoint  datatypes.JSON                `gorm:"column:pickup_point"`
	CreatedAt    time.Time                     `gorm:"column:created_at"`
	UpdatedAt    time.Time                     `gorm:"column:updated_at"`
}

func (ShippingDraft) TableName() string {
	return "shipping_drafts"
}

type Recipient struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	Zip         string `json:"zip,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
}

type Parcel struct {
	WeightG int64 `json:"weight_g"`
}
