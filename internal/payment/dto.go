package payment

import (
	"strings"
	"time"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/core/common/validation"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
)

// CreateIntentRequest records a checkout before the buyer is sent to the processor.
type CreateIntentRequest struct {
	Provider        string                `json:"provider"`
	ProviderOrderID string                `json:"provider_order_id"`
	Payload         paymentintent.Payload `json:"payload"`
}

func (r *CreateIntentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("provider", strings.ToLower(r.Provider)).OneOf(paymentgatewaytypes.ProviderPayPal, paymentgatewaytypes.ProviderStripe)
	validator.Field("provider_order_id", r.ProviderOrderID).Required().MaxLength(128)
	validator.Field("payload.reference", r.Payload.Reference).Required().MaxLength(64)
	validator.Field("payload.total", r.Payload.Total).NonNegativeAmount()
	validator.Field("payload.shipping_cost", r.Payload.ShippingCost).NonNegativeAmount()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	if err := r.Payload.Validate(); err != nil {
		return internal.ErrInvalidPayload.WithCause(err)
	}
	return nil
}

// CaptureRequest may carry the payload inline when the intent was never recorded.
type CaptureRequest struct {
	Provider        string                 `json:"provider"`
	ProviderOrderID string                 `json:"-"`
	Payload         *paymentintent.Payload `json:"payload,omitempty"`
}

func (r *CaptureRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("provider_order_id", r.ProviderOrderID).Required().MaxLength(128)
	validator.Field("provider", strings.ToLower(r.Provider)).OneOf(paymentgatewaytypes.ProviderPayPal, paymentgatewaytypes.ProviderStripe)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type EnsureRequest struct {
	ProviderOrderID string
	// Provider, when set, must be the provider the intent was recorded for.
	Provider string
	// SkipCache forces a processor lookup even when a recent answer was "not paid".
	SkipCache bool
}

// ReplayRequest identifies the intent either by its own id or by the processor's order id.
type ReplayRequest struct {
	IntentID        string `json:"intent_id"`
	ProviderOrderID string `json:"provider_order_id"`
}

func (r *ReplayRequest) Validate() error {
	if strings.TrimSpace(r.IntentID) == "" && strings.TrimSpace(r.ProviderOrderID) == "" {
		return internal.NewValidationFieldError("intent_id", "intent_id or provider_order_id is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

type IntentResponse struct {
	ID              string     `json:"id"`
	Provider        string     `json:"provider"`
	ProviderOrderID string     `json:"provider_order_id"`
	Status          string     `json:"status"`
	OrderID         *string    `json:"order_id"`
	LastError       *string    `json:"last_error,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func NewIntentResponse(i *Intent) IntentResponse {
	return IntentResponse{
		ID:              i.ID,
		Provider:        i.Provider,
		ProviderOrderID: i.ProviderOrderID,
		Status:          i.Status,
		OrderID:         i.OrderID,
		LastError:       i.LastError,
		ProcessedAt:     i.ProcessedAt,
		Attempts:        i.Attempts,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}
