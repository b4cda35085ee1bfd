package shipping_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/core/events"
	"github.com/frahmantamala/shop-orders/internal/shipping"
)

type mockShippingService struct {
	draft    *shipping.Draft
	err      error
	built    []string
	requests int
}

func (m *mockShippingService) CreateOrUpdateDraft(ctx context.Context, orderID string) (*shipping.Draft, error) {
	m.requests++
	m.built = append(m.built, orderID)
	if m.err != nil {
		return nil, m.err
	}
	return m.draft, nil
}

func (m *mockShippingService) GetDraft(ctx context.Context, orderID string) (*shipping.Draft, error) {
	m.requests++
	if m.err != nil {
		return nil, m.err
	}
	return m.draft, nil
}

var _ = Describe("Handler", func() {
	var (
		svc    *mockShippingService
		router chi.Router
	)

	BeforeEach(func() {
		svc = &mockShippingService{
			draft: &shipping.Draft{
				OrderID:      "o-1",
				Status:       "draft",
				TotalWeightG: 15000,
				DeliveryType: shipping.DeliveryHome,
				Parcels:      []shipping.Parcel{{WeightG: 15000}},
			},
		}
		h := shipping.NewHandler(svc)
		router = chi.NewRouter()
		router.Post("/orders/{orderID}/shipping-draft", h.BuildDraft)
		router.Get("/orders/{orderID}/shipping-draft", h.GetDraft)
	})

	It("should return the built draft", func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/o-1/shipping-draft", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(svc.built).To(Equal([]string{"o-1"}))

		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["order_id"]).To(Equal("o-1"))
		Expect(body["parcels"]).To(HaveLen(1))
		Expect(body).To(HaveKeyWithValue("pickup_point", BeNil()))
	})

	It("should return the missing fields as a 422", func() {
		svc.err = internal.ErrMissingRecipientFields.WithDetails(internal.MissingFields{Fields: []string{"address1", "zip"}})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/o-1/shipping-draft", nil))

		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))

		var body struct {
			Error struct {
				Code    string `json:"code"`
				Details struct {
					MissingFields []string `json:"missing_fields"`
				} `json:"details"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Error.Code).To(Equal("MISSING_RECIPIENT_FIELDS"))
		Expect(body.Error.Details.MissingFields).To(Equal([]string{"address1", "zip"}))
	})

	It("should return 404 for an unknown order", func() {
		svc.err = internal.ErrOrderNotFound

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/nope/shipping-draft", nil))

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should return 404 when no draft was stored", func() {
		svc.err = internal.ErrDraftNotFound

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/o-1/shipping-draft", nil))

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("EventHandler", func() {
	It("should build a draft when an order is created", func() {
		svc := &mockShippingService{draft: &shipping.Draft{OrderID: "o-9"}}
		bus := events.NewEventBus(testLogger())
		shipping.NewEventHandler(svc, testLogger()).RegisterEventHandlers(bus)

		event := events.NewOrderCreatedEvent("o-9", "CMD-9", "PAY-9", "42.00", "EUR", "Marie", "marie@example.com", "home", 2)
		Expect(bus.Publish(context.Background(), event)).To(Succeed())
		bus.Wait()

		Expect(svc.built).To(Equal([]string{"o-9"}))
	})

	It("should swallow validation failures", func() {
		svc := &mockShippingService{err: internal.ErrMissingRecipientFields}
		h := shipping.NewEventHandler(svc, testLogger())

		event := events.NewOrderCreatedEvent("o-9", "CMD-9", "PAY-9", "42.00", "EUR", "Marie", "marie@example.com", "home", 2)
		Expect(h.HandleOrderCreated(context.Background(), event)).To(Succeed())
	})

	It("should reject events of another type", func() {
		h := shipping.NewEventHandler(&mockShippingService{}, testLogger())

		err := h.HandleOrderCreated(context.Background(), events.BaseEvent{Type: "other"})
		Expect(err).To(HaveOccurred())
	})
})
