package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"golang.org/x/text/currency"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
)

type stripePaymentIntentAPI interface {
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeClient treats a Stripe PaymentIntent id as the provider order id.
type StripeClient struct {
	intents stripePaymentIntentAPI
	account string
	logger  *slog.Logger
}

func NewStripeClient(cfg internal.StripeConfig, backends *stripe.Backends, logger *slog.Logger) (*StripeClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, backends)
	return newStripeClient(sc.PaymentIntents, cfg.AccountID, logger), nil
}

func newStripeClient(intents stripePaymentIntentAPI, account string, logger *slog.Logger) *StripeClient {
	return &StripeClient{
		intents: intents,
		account: strings.TrimSpace(account),
		logger:  logger,
	}
}

func (c *StripeClient) Name() string {
	return paymentgatewaytypes.ProviderStripe
}

// Capture captures a PaymentIntent in requires_capture. Intents in any other state are reported
// as they are, so a second capture of a succeeded intent is not an error.
func (c *StripeClient) Capture(ctx context.Context, providerOrderID string) (*paymentgatewaytypes.Confirmation, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + providerOrderID)
	if c.account != "" {
		params.SetStripeAccount(c.account)
	}

	intent, err := c.intents.Capture(providerOrderID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			c.logger.Info("stripe intent not capturable, reading its state",
				"provider_order_id", providerOrderID,
				"message", serr.Msg)
			return c.Lookup(ctx, providerOrderID)
		}
		return nil, c.mapError(err, providerOrderID)
	}

	c.logger.Info("stripe intent captured",
		"provider_order_id", intent.ID,
		"amount_received", intent.AmountReceived)
	return stripeConfirmation(intent), nil
}

func (c *StripeClient) Lookup(ctx context.Context, providerOrderID string) (*paymentgatewaytypes.Confirmation, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if c.account != "" {
		params.SetStripeAccount(c.account)
	}

	intent, err := c.intents.Get(providerOrderID, params)
	if err != nil {
		return nil, c.mapError(err, providerOrderID)
	}
	return stripeConfirmation(intent), nil
}

func (c *StripeClient) mapError(err error, providerOrderID string) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.Code == stripe.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound {
			return paymentgatewaytypes.ErrUnknownOrder
		}
	}
	c.logger.Error("stripe request failed", "error", err, "provider_order_id", providerOrderID)
	return fmt.Errorf("%w: stripe: %v", paymentgatewaytypes.ErrUnavailable, err)
}

func stripeConfirmation(intent *stripe.PaymentIntent) *paymentgatewaytypes.Confirmation {
	conf := &paymentgatewaytypes.Confirmation{
		Provider:        paymentgatewaytypes.ProviderStripe,
		ProviderOrderID: intent.ID,
		RawStatus:       string(intent.Status),
		Status:          paymentgatewaytypes.PaymentStatusPending,
		Currency:        strings.ToUpper(string(intent.Currency)),
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		conf.Status = paymentgatewaytypes.PaymentStatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		conf.Status = paymentgatewaytypes.PaymentStatusFailed
	}

	received := intent.AmountReceived
	if received == 0 {
		received = intent.Amount
	}
	conf.Amount = decimal.New(received, -minorUnitScale(conf.Currency))

	if intent.LatestCharge != nil {
		conf.CaptureID = intent.LatestCharge.ID
	}
	return conf
}

// minorUnitScale is the number of decimals in the currency's minor unit: 0 for JPY, 3 for KWD.
// Stripe amounts are integers in that unit.
func minorUnitScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}
