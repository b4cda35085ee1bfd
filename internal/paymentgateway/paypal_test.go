package paymentgateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
)

const completedOrder = `{
	"id": "PAY-1",
	"status": "COMPLETED",
	"purchase_units": [{
		"reference_id": "default",
		"amount": {"currency_code": "EUR", "value": "29.90"},
		"payments": {"captures": [{"id": "CAP-1", "status": "COMPLETED", "amount": {"currency_code": "eur", "value": "29.90"}}]}
	}]
}`

const approvedOrder = `{
	"id": "PAY-1",
	"status": "APPROVED",
	"purchase_units": [{"amount": {"currency_code": "EUR", "value": "29.90"}}]
}`

type fakePayPal struct {
	mu          sync.Mutex
	tokens      int
	captureCode int
	captureBody string
	orderCode   int
	orderBody   string
	authHeaders []string
}

func (f *fakePayPal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/oauth2/token":
		f.tokens++
		_, _ = w.Write([]byte(`{"access_token":"token-1","token_type":"Bearer","expires_in":3600}`))
	case strings.HasSuffix(r.URL.Path, "/capture") && r.Method == http.MethodPost:
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(f.captureCode)
		_, _ = w.Write([]byte(f.captureBody))
	case strings.HasPrefix(r.URL.Path, "/v2/checkout/orders/") && r.Method == http.MethodGet:
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(f.orderCode)
		_, _ = w.Write([]byte(f.orderBody))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var _ = Describe("PayPalClient", func() {
	var (
		fake   *fakePayPal
		server *httptest.Server
		client *PayPalClient
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakePayPal{captureCode: http.StatusCreated, captureBody: completedOrder, orderCode: http.StatusOK, orderBody: completedOrder}
		server = httptest.NewServer(fake)
		client = NewPayPalClient(internal.PayPalConfig{
			BaseURL:      server.URL + "/",
			ClientID:     "client",
			ClientSecret: "secret",
		}, time.Second, testLogger())
	})

	AfterEach(func() {
		server.Close()
	})

	It("should report a completed capture with the captured amount", func() {
		conf, err := client.Capture(ctx, "PAY-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Completed()).To(BeTrue())
		Expect(conf.Provider).To(Equal(paymentgatewaytypes.ProviderPayPal))
		Expect(conf.CaptureID).To(Equal("CAP-1"))
		Expect(conf.Currency).To(Equal("EUR"))
		Expect(conf.Amount.String()).To(Equal("29.9"))
		Expect(fake.authHeaders).To(ConsistOf("Bearer token-1"))
	})

	It("should reuse the access token across calls", func() {
		_, err := client.Capture(ctx, "PAY-1")
		Expect(err).ToNot(HaveOccurred())
		_, err = client.Lookup(ctx, "PAY-1")
		Expect(err).ToNot(HaveOccurred())

		Expect(fake.tokens).To(Equal(1))
	})

	It("should read the order state when it was already captured", func() {
		fake.captureCode = http.StatusUnprocessableEntity
		fake.captureBody = `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`

		conf, err := client.Capture(ctx, "PAY-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Completed()).To(BeTrue())
	})

	It("should report an order that is approved but not captured as pending", func() {
		fake.captureCode = http.StatusUnprocessableEntity
		fake.captureBody = `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`
		fake.orderBody = approvedOrder

		conf, err := client.Capture(ctx, "PAY-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Status).To(Equal(paymentgatewaytypes.PaymentStatusPending))
		Expect(conf.RawStatus).To(Equal("APPROVED"))
	})

	It("should report a declined capture as failed", func() {
		fake.orderBody = `{"id":"PAY-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"DECLINED","amount":{"currency_code":"EUR","value":"29.90"}}]}}]}`

		conf, err := client.Lookup(ctx, "PAY-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(conf.Status).To(Equal(paymentgatewaytypes.PaymentStatusFailed))
		Expect(conf.RawStatus).To(Equal("COMPLETED/DECLINED"))
	})

	It("should map an unknown order", func() {
		fake.captureCode = http.StatusNotFound
		fake.captureBody = `{"name":"RESOURCE_NOT_FOUND"}`

		_, err := client.Capture(ctx, "PAY-404")
		Expect(errors.Is(err, paymentgatewaytypes.ErrUnknownOrder)).To(BeTrue())
	})

	It("should treat server errors as unavailability", func() {
		fake.orderCode = http.StatusInternalServerError
		fake.orderBody = `{}`

		_, err := client.Lookup(ctx, "PAY-1")
		Expect(errors.Is(err, paymentgatewaytypes.ErrUnavailable)).To(BeTrue())
	})

	It("should treat an unreachable API as unavailability", func() {
		server.Close()

		_, err := client.Lookup(ctx, "PAY-1")
		Expect(errors.Is(err, paymentgatewaytypes.ErrUnavailable)).To(BeTrue())
	})
})
