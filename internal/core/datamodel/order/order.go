package order

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	DeliveryHome  = "home"
	DeliveryRelay = "relay"

	StatusPaid = "paid"
)

type Order struct {
	ID              string          `gorm:"primaryKey;type:varchar(26)"`
	Reference       string          `gorm:"column:reference;not null;uniqueIndex"`
	ProviderOrderID *string         `gorm:"column:provider_order_id;uniqueIndex"`
	UserID          *string         `gorm:"column:user_id;index"`
	Status          string          `gorm:"column:status;not null;default:paid"`
	CustomerName    string          `gorm:"column:customer_name"`
	CustomerEmail   string          `gorm:"column:customer_email"`
	TotalWeightG    float64         `gorm:"column:total_weight_g"`
	DeliveryType    string          `gorm:"column:delivery_type"`
	PickupPoint     datatypes.JSON  `gorm:"column:pickup_point"`
	BillingAddress  datatypes.JSON  `gorm:"column:billing_address"`
	Subtotal        decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2)"`
	ShippingCost    decimal.Decimal `gorm:"column:shipping_cost;type:numeric(12,2)"`
	Total           decimal.Decimal `gorm:"column:total;type:numeric(12,2)"`
	Currency        string          `gorm:"column:currency"`
	Comment         string          `gorm:"column:comment"`
	Items           []Item          `gorm:"foreignKey:OrderID"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

type Item struct {
	ID          int64           `gorm:"primaryKey"`
	OrderID     string          `gorm:"column:order_id;not null;index"`
	ProductID   string          `gorm:"column:product_id;not null"`
	Name        string          `gorm:"column:name"`
	Variant     string          `gorm:"column:variant"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2)"`
	UnitWeightG float64         `gorm:"column:unit_weight_g"`
}

func (Item) TableName() string {
	return "order_items"
}

// PickupPoint is the relay location chosen at checkout, stored as JSON on the order.
type PickupPoint struct {
	ID          string `json:"id"`
	Network     string `json:"network"`
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	Zip         string `json:"zip"`
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
}
