package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/payment"
	"github.com/frahmantamala/shop-orders/internal/transport"
)

type mockPaymentService struct {
	intent *payment.Intent
	result *payment.Result
	err    error

	captured []payment.CaptureRequest
	ensured  []payment.EnsureRequest
	replayed []payment.ReplayRequest
}

func (m *mockPaymentService) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.Intent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.intent, nil
}

func (m *mockPaymentService) Capture(ctx context.Context, req payment.CaptureRequest) (*payment.Result, error) {
	m.captured = append(m.captured, req)
	return m.result, m.err
}

func (m *mockPaymentService) Ensure(ctx context.Context, req payment.EnsureRequest) (*payment.Result, error) {
	m.ensured = append(m.ensured, req)
	return m.result, m.err
}

func (m *mockPaymentService) Replay(ctx context.Context, req payment.ReplayRequest) (*payment.Result, error) {
	m.replayed = append(m.replayed, req)
	return m.result, m.err
}

var _ = ginkgo.Describe("Handler", func() {
	var (
		svc    *mockPaymentService
		router chi.Router
	)

	serve := func(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]interface{} {
		var body map[string]interface{}
		gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
		return body
	}

	ginkgo.BeforeEach(func() {
		svc = &mockPaymentService{}
		h := payment.NewHandler(svc)
		wh := payment.NewWebhookHandler(transport.NewBaseHandler(testLogger()), svc, "s3cret", testLogger())

		router = chi.NewRouter()
		router.Post("/payments/intents", h.CreateIntent)
		router.Post("/payments/{providerOrderID}/capture", h.Capture)
		router.Get("/payments/{providerOrderID}/ensure", h.Ensure)
		router.Post("/admin/payments/replay", h.Replay)
		router.Post("/payments/webhook/{provider}", wh.HandleWebhook)
	})

	ginkgo.Describe("CreateIntent", func() {
		ginkgo.It("should return 201 with the recorded intent", func() {
			svc.intent = &payment.Intent{ID: "i-1", Provider: "paypal", ProviderOrderID: "PAY-1", Status: "created"}

			rec := serve(http.MethodPost, "/payments/intents", []byte(`{"provider_order_id":"PAY-1"}`), nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			body := decode(rec)
			gomega.Expect(body["id"]).To(gomega.Equal("i-1"))
			gomega.Expect(body["order_id"]).To(gomega.BeNil())
		})

		ginkgo.It("should reject malformed JSON as an invalid payload", func() {
			rec := serve(http.MethodPost, "/payments/intents", []byte(`{`), nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnprocessableEntity))
			errBody := decode(rec)["error"].(map[string]interface{})
			gomega.Expect(errBody["code"]).To(gomega.Equal(string(internal.ErrCodeInvalidPayload)))
		})
	})

	ginkgo.Describe("Capture", func() {
		ginkgo.It("should pass the path id and accept an empty body", func() {
			svc.result = &payment.Result{Outcome: payment.OutcomeCreated, Paid: true, OrderID: "ORD-1"}

			rec := serve(http.MethodPost, "/payments/PAY-1/capture", nil, nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(svc.captured).To(gomega.HaveLen(1))
			gomega.Expect(svc.captured[0].ProviderOrderID).To(gomega.Equal("PAY-1"))
			gomega.Expect(svc.captured[0].Payload).To(gomega.BeNil())
		})

		ginkgo.It("should answer 202 with PAYMENT_NOT_COMPLETED when the payment is pending", func() {
			svc.result = &payment.Result{Outcome: payment.OutcomeNotPaid, ProcessorStatus: "APPROVED"}

			rec := serve(http.MethodPost, "/payments/PAY-1/capture", nil, nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusAccepted))
			body := decode(rec)
			gomega.Expect(body["code"]).To(gomega.Equal(string(internal.ErrCodePaymentNotCompleted)))
			gomega.Expect(body["outcome"]).To(gomega.Equal("not_paid"))
			gomega.Expect(body["paid"]).To(gomega.BeFalse())
		})

		ginkgo.It("should answer 402 with PAYMENT_FAILED when the processor declined", func() {
			svc.err = internal.ErrPaymentFailed

			rec := serve(http.MethodPost, "/payments/PAY-1/capture", nil, nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusPaymentRequired))
			errBody := decode(rec)["error"].(map[string]interface{})
			gomega.Expect(errBody["code"]).To(gomega.Equal(string(internal.ErrCodePaymentFailed)))
		})

		ginkgo.It("should map a failed materialization to 500 with its code", func() {
			svc.err = internal.ErrMaterializationFailed

			rec := serve(http.MethodPost, "/payments/PAY-1/capture", nil, nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusInternalServerError))
			errBody := decode(rec)["error"].(map[string]interface{})
			gomega.Expect(errBody["code"]).To(gomega.Equal(string(internal.ErrCodeMaterializationFailed)))
		})
	})

	ginkgo.Describe("Ensure", func() {
		ginkgo.It("should return 200 for an existing order", func() {
			svc.result = &payment.Result{Outcome: payment.OutcomeAlreadyExisted, Paid: true, OrderID: "ORD-1", Reference: "CMD-1"}

			rec := serve(http.MethodGet, "/payments/PAY-1/ensure", nil, nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(decode(rec)["reference"]).To(gomega.Equal("CMD-1"))
			gomega.Expect(svc.ensured[0].SkipCache).To(gomega.BeFalse())
		})

		ginkgo.It("should return 409 while another reconciliation holds the payment", func() {
			svc.err = internal.ErrReconcileBusy

			rec := serve(http.MethodGet, "/payments/PAY-1/ensure", nil, nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
		})
	})

	ginkgo.Describe("Replay", func() {
		ginkgo.It("should forward the replay request", func() {
			svc.result = &payment.Result{Outcome: payment.OutcomeCreated, Paid: true}

			rec := serve(http.MethodPost, "/admin/payments/replay", []byte(`{"intent_id":"i-1"}`), nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(svc.replayed).To(gomega.ConsistOf(payment.ReplayRequest{IntentID: "i-1"}))
		})

		ginkgo.It("should reject an unreadable body", func() {
			rec := serve(http.MethodPost, "/admin/payments/replay", []byte(`nope`), nil)
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("Webhook", func() {
		secret := map[string]string{payment.WebhookSecretHeader: "s3cret"}

		ginkgo.It("should reject a request without the shared secret", func() {
			rec := serve(http.MethodPost, "/payments/webhook/paypal", []byte(`{}`), map[string]string{payment.WebhookSecretHeader: "wrong"})

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(svc.ensured).To(gomega.BeEmpty())
		})

		ginkgo.It("should run ensure for a completed PayPal capture", func() {
			svc.result = &payment.Result{Outcome: payment.OutcomeCreated, Paid: true, OrderID: "ORD-1"}
			body := []byte(`{
				"event_type": "PAYMENT.CAPTURE.COMPLETED",
				"resource": {"id": "CAPTURE-9", "supplementary_data": {"related_ids": {"order_id": "PAY-1"}}}
			}`)

			rec := serve(http.MethodPost, "/payments/webhook/paypal", body, secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.ensured).To(gomega.ConsistOf(payment.EnsureRequest{ProviderOrderID: "PAY-1", Provider: "paypal", SkipCache: true}))
			gomega.Expect(decode(rec)["order_id"]).To(gomega.Equal("ORD-1"))
		})

		ginkgo.It("should run ensure for a succeeded Stripe payment intent", func() {
			svc.result = &payment.Result{Outcome: payment.OutcomeAlreadyExisted, Paid: true}
			body := []byte(`{"type": "payment_intent.succeeded", "data": {"object": {"id": "pi_123", "status": "succeeded"}}}`)

			rec := serve(http.MethodPost, "/payments/webhook/stripe", body, secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.ensured[0].ProviderOrderID).To(gomega.Equal("pi_123"))
		})

		ginkgo.It("should acknowledge events that do not complete a payment", func() {
			body := []byte(`{"type": "payment_intent.created", "data": {"object": {"id": "pi_123"}}}`)

			rec := serve(http.MethodPost, "/payments/webhook/stripe", body, secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(decode(rec)["status"]).To(gomega.Equal("ignored"))
			gomega.Expect(svc.ensured).To(gomega.BeEmpty())
		})

		ginkgo.It("should acknowledge a webhook for an unknown payment", func() {
			svc.err = internal.ErrIntentNotFound

			rec := serve(http.MethodPost, "/payments/webhook/paypal", []byte(`{"provider_order_id":"PAY-X","status":"COMPLETED"}`), secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(decode(rec)["status"]).To(gomega.Equal("ignored"))
		})

		ginkgo.It("should reject a PayPal event posted to the Stripe webhook", func() {
			body := []byte(`{"event_type": "PAYMENT.CAPTURE.COMPLETED", "resource": {"id": "CAPTURE-9"}}`)

			rec := serve(http.MethodPost, "/payments/webhook/stripe", body, secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
			errBody := decode(rec)["error"].(map[string]interface{})
			gomega.Expect(errBody["code"]).To(gomega.Equal(string(internal.ErrCodeProviderMismatch)))
			gomega.Expect(svc.ensured).To(gomega.BeEmpty())
		})

		ginkgo.It("should pass the path provider along for generic callbacks", func() {
			svc.err = internal.ErrProviderMismatch

			rec := serve(http.MethodPost, "/payments/webhook/stripe", []byte(`{"provider_order_id":"PAY-1","status":"COMPLETED"}`), secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
			gomega.Expect(svc.ensured).To(gomega.ConsistOf(payment.EnsureRequest{ProviderOrderID: "PAY-1", Provider: "stripe", SkipCache: true}))
		})

		ginkgo.It("should acknowledge a completion event for a declined payment", func() {
			svc.err = internal.ErrPaymentFailed

			rec := serve(http.MethodPost, "/payments/webhook/paypal", []byte(`{"provider_order_id":"PAY-1","status":"COMPLETED"}`), secret)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(decode(rec)["code"]).To(gomega.Equal(string(internal.ErrCodePaymentFailed)))
		})

		ginkgo.It("should reject a body that is not JSON", func() {
			rec := serve(http.MethodPost, "/payments/webhook/paypal", []byte(`<xml/>`), secret)
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})
})
