package paymentintent

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusCreated  = "created"
	StatusCaptured = "captured"
	StatusFailed   = "failed"
	// StatusAborted marks a payment the processor declined or cancelled.
	StatusAborted  = "aborted"
)

// PaymentIntent is the ledger row for one external processor order. A non-null OrderID means
// the payment has been materialized and nothing may create another order for it.
type PaymentIntent struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)"`
	Provider        string         `gorm:"column:provider;not null"`
	ProviderOrderID string         `gorm:"column:provider_order_id;not null;uniqueIndex"`
	Status          string         `gorm:"column:status;not null;default:created;index"`
	OrderID         *string        `gorm:"column:order_id;uniqueIndex"`
	Payload         datatypes.JSON `gorm:"column:payload;not null"`
	LastError       *string        `gorm:"column:last_error"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
	ClaimToken      *string        `gorm:"column:claim_token"`
	ClaimedUntil    *time.Time     `gorm:"column:claimed_until"`
	Attempts        int            `gorm:"column:attempts;not null;default:0"`
	LastCheckedAt   *time.Time     `gorm:"column:last_checked_at"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

func (p *PaymentIntent) IsMaterialized() bool {
	return p.OrderID != nil && *p.OrderID != ""
}
