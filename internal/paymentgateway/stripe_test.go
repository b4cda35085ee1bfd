package paymentgateway

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stripe/stripe-go/v78"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
)

type fakeIntents struct {
	intent     *stripe.PaymentIntent
	captureErr error
	getErr     error

	captures int
	gets     int
	accounts []string
}

func (f *fakeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.captures++
	if params.StripeAccount != nil {
		f.accounts = append(f.accounts, *params.StripeAccount)
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.intent.Status = stripe.PaymentIntentStatusSucceeded
	f.intent.AmountReceived = f.intent.Amount
	return f.intent, nil
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.intent, nil
}

var _ = Describe("StripeClient", func() {
	var (
		api    *fakeIntents
		client *StripeClient
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeIntents{intent: &stripe.PaymentIntent{
			ID:       "pi_1",
			Amount:   2990,
			Currency: stripe.CurrencyEUR,
			Status:   stripe.PaymentIntentStatusRequiresCapture,
		}}
		client = newStripeClient(api, "acct_1", testLogger())
	})

	It("should require an api key", func() {
		_, err := NewStripeClient(internal.StripeConfig{}, nil, testLogger())
		Expect(err).To(HaveOccurred())
	})

	It("should capture an intent and report it completed", func() {
		conf, err := client.Capture(ctx, "pi_1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Completed()).To(BeTrue())
		Expect(conf.Provider).To(Equal(paymentgatewaytypes.ProviderStripe))
		Expect(conf.Currency).To(Equal("EUR"))
		Expect(conf.Amount.StringFixed(2)).To(Equal("29.90"))
		Expect(api.accounts).To(ConsistOf("acct_1"))
	})

	It("should scale amounts by the currency's minor unit", func() {
		api.intent.Status = stripe.PaymentIntentStatusSucceeded
		api.intent.Currency = stripe.CurrencyJPY
		api.intent.Amount = 3500
		api.intent.AmountReceived = 3500

		conf, err := client.Lookup(ctx, "pi_1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Currency).To(Equal("JPY"))
		Expect(conf.Amount.String()).To(Equal("3500"))

		api.intent.Currency = stripe.Currency("kwd")
		api.intent.AmountReceived = 12500

		conf, err = client.Lookup(ctx, "pi_1")
		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Amount.StringFixed(3)).To(Equal("12.500"))
	})

	It("should read the intent when it is not capturable", func() {
		api.intent.Status = stripe.PaymentIntentStatusRequiresPaymentMethod
		api.captureErr = &stripe.Error{Code: stripe.ErrorCodePaymentIntentUnexpectedState, HTTPStatusCode: http.StatusBadRequest}

		conf, err := client.Capture(ctx, "pi_1")

		Expect(err).ToNot(HaveOccurred())
		Expect(api.gets).To(Equal(1))
		Expect(conf.Status).To(Equal(paymentgatewaytypes.PaymentStatusPending))
		Expect(conf.RawStatus).To(Equal("requires_payment_method"))
	})

	It("should report a canceled intent as failed", func() {
		api.intent.Status = stripe.PaymentIntentStatusCanceled

		conf, err := client.Lookup(ctx, "pi_1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Status).To(Equal(paymentgatewaytypes.PaymentStatusFailed))
	})

	It("should map a missing intent", func() {
		api.getErr = &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound}

		_, err := client.Lookup(ctx, "pi_missing")
		Expect(errors.Is(err, paymentgatewaytypes.ErrUnknownOrder)).To(BeTrue())
	})

	It("should treat other errors as unavailability", func() {
		api.captureErr = &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusBadGateway}

		_, err := client.Capture(ctx, "pi_1")
		Expect(errors.Is(err, paymentgatewaytypes.ErrUnavailable)).To(BeTrue())
	})
})
