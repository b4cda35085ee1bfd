package payment_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/datatypes"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
	"github.com/frahmantamala/shop-orders/internal/payment"
	"github.com/frahmantamala/shop-orders/internal/payment/postgres"
)

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		ledger    *postgres.PaymentRepository
		processor *fakeProcessor
		orders    *countingMaterializer
		notifier  *recordingNotifier
		cache     *payment.MemoryStatusCache
		service   *payment.Service
		cfg       internal.ReconciliationConfig
	)

	build := func() {
		registry := payment.NewRegistry(paymentgatewaytypes.ProviderPayPal, processor)
		service = payment.NewService(ledger, registry, orders, notifier, cache, cfg, testLogger())
	}

	createIntent := func(providerOrderID, reference string) *payment.Intent {
		intent, err := service.CreateIntent(ctx, payment.CreateIntentRequest{
			Provider:        paymentgatewaytypes.ProviderPayPal,
			ProviderOrderID: providerOrderID,
			Payload:         samplePayload(reference),
		})
		Expect(err).ToNot(HaveOccurred())
		return intent
	}

	BeforeEach(func() {
		ctx = context.Background()
		ledger, _ = newLedger()
		processor = newFakeProcessor(paymentgatewaytypes.PaymentStatusCompleted)
		orders = newCountingMaterializer()
		notifier = &recordingNotifier{}
		cache = payment.NewMemoryStatusCache()
		cfg = internal.ReconciliationConfig{
			LeaseTTL:       5 * time.Second,
			WaitInterval:   5 * time.Millisecond,
			WaitAttempts:   200,
			EnsureCacheTTL: time.Minute,
		}
		build()
	})

	Describe("CreateIntent", func() {
		It("should record a created intent", func() {
			intent := createIntent("PAY-1", "CMD-1001")

			Expect(intent.Status).To(Equal(paymentintent.StatusCreated))
			Expect(intent.OrderID).To(BeNil())

			payload, err := paymentintent.DecodePayload(intent.Payload)
			Expect(err).ToNot(HaveOccurred())
			Expect(payload.Reference).To(Equal("CMD-1001"))
			Expect(payload.Version).To(Equal(paymentintent.PayloadVersion))
		})

		It("should reject a payload without items", func() {
			p := samplePayload("CMD-1001")
			p.Items = nil

			_, err := service.CreateIntent(ctx, payment.CreateIntentRequest{ProviderOrderID: "PAY-1", Payload: p})
			Expect(err).To(MatchError(internal.ErrInvalidPayload))
		})

		It("should reject a provider that is not configured", func() {
			_, err := service.CreateIntent(ctx, payment.CreateIntentRequest{
				Provider:        paymentgatewaytypes.ProviderStripe,
				ProviderOrderID: "PAY-1",
				Payload:         samplePayload("CMD-1001"),
			})
			Expect(err).To(MatchError(internal.ErrUnsupportedProvider))
		})

		It("should not reopen an intent that already has an order", func() {
			createIntent("PAY-1", "CMD-1001")
			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())

			again := createIntent("PAY-1", "CMD-2002")
			Expect(again.Status).To(Equal(paymentintent.StatusCaptured))
			Expect(again.IsMaterialized()).To(BeTrue())

			payload, err := paymentintent.DecodePayload(again.Payload)
			Expect(err).ToNot(HaveOccurred())
			Expect(payload.Reference).To(Equal("CMD-1001"))
		})
	})

	Describe("Capture", func() {
		It("should create the order once and then report it as already existing", func() {
			createIntent("PAY-1", "CMD-1001")

			first, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Outcome).To(Equal(payment.OutcomeCreated))
			Expect(first.Paid).To(BeTrue())
			Expect(first.Reference).To(Equal("CMD-1001"))

			second, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(second.Outcome).To(Equal(payment.OutcomeAlreadyExisted))
			Expect(second.OrderID).To(Equal(first.OrderID))
			Expect(second.Reference).To(Equal("CMD-1001"))

			captures, _ := processor.counts()
			Expect(captures).To(Equal(1))
			Expect(orders.count()).To(Equal(1))
			Expect(notifier.sent()).To(HaveLen(1))
			Expect(notifier.sent()[0].OrderID).To(Equal(first.OrderID))
			Expect(notifier.sent()[0].Total).To(Equal("29.90"))
		})

		It("should record the intent from an inline payload", func() {
			p := samplePayload("CMD-1001")
			res, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1", Payload: &p})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))

			intent, err := ledger.GetByProviderOrderID(ctx, "PAY-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(*intent.OrderID).To(Equal(res.OrderID))
		})

		It("should report not paid without touching orders", func() {
			processor.set(paymentgatewaytypes.PaymentStatusPending)
			createIntent("PAY-1", "CMD-1001")

			res, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeNotPaid))
			Expect(res.Paid).To(BeFalse())
			Expect(res.ProcessorStatus).To(Equal("PENDING"))
			Expect(orders.calls.Load()).To(BeZero())
		})

		It("should fail for an unknown intent", func() {
			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-404"})
			Expect(err).To(MatchError(internal.ErrIntentNotFound))
		})

		It("should map processor outages to PROCESSOR_UNAVAILABLE", func() {
			createIntent("PAY-1", "CMD-1001")
			processor.err = paymentgatewaytypes.ErrUnavailable

			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrProcessorUnavailable))
		})

		It("should map an order the processor does not know to not found", func() {
			createIntent("PAY-1", "CMD-1001")
			processor.err = paymentgatewaytypes.ErrUnknownOrder

			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrIntentNotFound))
		})

		It("should still create the order when the captured amount differs", func() {
			createIntent("PAY-1", "CMD-1001")
			processor.amount = processor.amount.Add(processor.amount)

			res, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))
		})
	})

	Describe("Ensure", func() {
		It("should answer from the status cache until it is bypassed", func() {
			processor.set(paymentgatewaytypes.PaymentStatusPending)
			createIntent("PAY-1", "CMD-1001")

			res, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeNotPaid))

			processor.set(paymentgatewaytypes.PaymentStatusCompleted)

			res, err = service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeNotPaid))
			_, lookups := processor.counts()
			Expect(lookups).To(Equal(1))

			res, err = service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", SkipCache: true})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))
		})

		It("should never let a cached not-paid answer hide an existing order", func() {
			createIntent("PAY-1", "CMD-1001")
			Expect(cache.Set(ctx, "ensure:paypal:PAY-1", "PENDING", time.Minute)).To(Succeed())

			created, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())

			res, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeAlreadyExisted))
			Expect(res.OrderID).To(Equal(created.OrderID))
		})

		It("should stamp the intent each time the processor says not paid", func() {
			processor.set(paymentgatewaytypes.PaymentStatusPending)
			intent := createIntent("PAY-1", "CMD-1001")
			Expect(intent.LastCheckedAt).To(BeNil())

			_, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", SkipCache: true})
			Expect(err).ToNot(HaveOccurred())

			stored, err := ledger.GetByID(ctx, intent.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.LastCheckedAt).ToNot(BeNil())
			Expect(stored.Status).To(Equal(paymentintent.StatusCreated))
		})

		It("should refuse a payment recorded for another provider", func() {
			createIntent("PAY-1", "CMD-1001")

			_, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", Provider: paymentgatewaytypes.ProviderStripe})
			Expect(err).To(MatchError(internal.ErrProviderMismatch))
			Expect(orders.count()).To(BeZero())
			_, lookups := processor.counts()
			Expect(lookups).To(BeZero())
		})

		It("should require a provider order id", func() {
			_, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "  "})
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})
	})

	Describe("declined payments", func() {
		It("should close the intent and stop asking the processor", func() {
			processor.set(paymentgatewaytypes.PaymentStatusFailed)
			intent := createIntent("PAY-1", "CMD-1001")

			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrPaymentFailed))
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(402))

			stored, err := ledger.GetByID(ctx, intent.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Status).To(Equal(paymentintent.StatusAborted))
			Expect(stored.LastError).ToNot(BeNil())

			_, err = service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", SkipCache: true})
			Expect(err).To(MatchError(internal.ErrPaymentFailed))
			captures, lookups := processor.counts()
			Expect(captures).To(Equal(1))
			Expect(lookups).To(BeZero())
			Expect(orders.count()).To(BeZero())
		})

		It("should report a declined payment from ensure and replay", func() {
			processor.set(paymentgatewaytypes.PaymentStatusFailed)
			intent := createIntent("PAY-1", "CMD-1001")

			_, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrPaymentFailed))

			_, err = service.Replay(ctx, payment.ReplayRequest{IntentID: intent.ID})
			Expect(err).To(MatchError(internal.ErrPaymentFailed))
		})

		It("should reopen the intent when checkout records it again", func() {
			processor.set(paymentgatewaytypes.PaymentStatusFailed)
			createIntent("PAY-1", "CMD-1001")
			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrPaymentFailed))

			reopened := createIntent("PAY-1", "CMD-1001")
			Expect(reopened.Status).To(Equal(paymentintent.StatusCreated))

			processor.set(paymentgatewaytypes.PaymentStatusCompleted)
			res, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))
		})
	})

	Describe("concurrent entry points", func() {
		It("should materialize exactly one order when capture, ensure and replay race", func() {
			orders.delay = 50 * time.Millisecond
			createIntent("PAY-1", "CMD-1001")

			const callers = 9
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				outcomes []payment.Outcome
				orderIDs = map[string]struct{}{}
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					var (
						res *payment.Result
						err error
					)
					switch i % 3 {
					case 0:
						res, err = service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
					case 1:
						res, err = service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", SkipCache: true})
					default:
						res, err = service.Replay(ctx, payment.ReplayRequest{ProviderOrderID: "PAY-1"})
					}
					Expect(err).ToNot(HaveOccurred())

					mu.Lock()
					defer mu.Unlock()
					outcomes = append(outcomes, res.Outcome)
					orderIDs[res.OrderID] = struct{}{}
				}(i)
			}
			wg.Wait()

			Expect(orders.calls.Load()).To(BeEquivalentTo(1))
			Expect(orders.count()).To(Equal(1))
			Expect(orderIDs).To(HaveLen(1))
			Expect(outcomes).To(HaveLen(callers))

			created := 0
			for _, o := range outcomes {
				if o == payment.OutcomeCreated {
					created++
				} else {
					Expect(o).To(Equal(payment.OutcomeAlreadyExisted))
				}
			}
			Expect(created).To(Equal(1))
			Expect(notifier.sent()).To(HaveLen(1))
		})

		It("should report busy when the winner outlives the wait budget", func() {
			orders.delay = 200 * time.Millisecond
			cfg.WaitAttempts = 2
			cfg.WaitInterval = time.Millisecond
			build()
			createIntent("PAY-1", "CMD-1001")

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
				Expect(err).ToNot(HaveOccurred())
			}()

			Eventually(func() int32 { return orders.calls.Load() }).Should(BeEquivalentTo(1))
			_, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", SkipCache: true})
			Expect(err).To(MatchError(internal.ErrReconcileBusy))

			<-done
			Expect(orders.count()).To(Equal(1))
		})
	})

	Describe("client disconnection", func() {
		It("should commit the order even when the caller goes away mid-materialization", func() {
			orders.delay = 100 * time.Millisecond
			createIntent("PAY-1", "CMD-1001")

			reqCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, _ = service.Capture(reqCtx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			}()

			Eventually(func() int32 { return orders.calls.Load() }).Should(BeEquivalentTo(1))
			cancel()
			<-done

			intent, err := ledger.GetByProviderOrderID(ctx, "PAY-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.IsMaterialized()).To(BeTrue())
			Expect(intent.Status).To(Equal(paymentintent.StatusCaptured))
			Expect(notifier.sent()).To(HaveLen(1))

			res, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeAlreadyExisted))
			Expect(orders.calls.Load()).To(BeEquivalentTo(1))
		})
	})

	Describe("materialization failure", func() {
		It("should mark the intent failed and only let replay retry it", func() {
			createIntent("PAY-1", "CMD-1001")
			orders.fail(errors.New("database is read-only"))

			_, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrMaterializationFailed))

			intent, err := ledger.GetByProviderOrderID(ctx, "PAY-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentintent.StatusFailed))
			Expect(intent.OrderID).To(BeNil())
			Expect(*intent.LastError).To(ContainSubstring("read-only"))

			orders.fail(nil)

			_, err = service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1", SkipCache: true})
			Expect(err).To(MatchError(internal.ErrMaterializationFailed))
			_, err = service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).To(MatchError(internal.ErrMaterializationFailed))
			Expect(orders.count()).To(BeZero())

			res, err := service.Replay(ctx, payment.ReplayRequest{IntentID: intent.ID})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))
			Expect(orders.count()).To(Equal(1))

			intent, err = ledger.GetByID(ctx, intent.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentintent.StatusCaptured))
			Expect(intent.LastError).To(BeNil())
			Expect(intent.Attempts).To(Equal(2))
		})

		It("should fail an intent whose stored payload cannot be decoded", func() {
			_, err := ledger.Upsert(ctx, &payment.Intent{
				Provider:        paymentgatewaytypes.ProviderPayPal,
				ProviderOrderID: "PAY-BAD",
				Payload:         datatypes.JSON(`{"reference":"CMD-1"}`),
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-BAD"})
			Expect(err).To(MatchError(internal.ErrInvalidPayload))
			Expect(orders.calls.Load()).To(BeZero())

			intent, err := ledger.GetByProviderOrderID(ctx, "PAY-BAD")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentintent.StatusFailed))
		})

		It("should adopt an order created by an attempt that never committed", func() {
			createIntent("PAY-1", "CMD-1001")
			_, err := orders.CreateOrder(ctx, orderRequest("PAY-1", "CMD-1001"))
			Expect(err).ToNot(HaveOccurred())

			res, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeAlreadyExisted))
			Expect(orders.count()).To(Equal(1))
			Expect(notifier.sent()).To(HaveLen(1))
		})
	})

	Describe("notification", func() {
		It("should not fail reconciliation when the notifier errors", func() {
			notifier.err = errors.New("broker down")
			createIntent("PAY-1", "CMD-1001")

			res, err := service.Capture(ctx, payment.CaptureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))
			Expect(notifier.sent()).To(HaveLen(1))
		})

		It("should work without a notifier", func() {
			registry := payment.NewRegistry(paymentgatewaytypes.ProviderPayPal, processor)
			service = payment.NewService(ledger, registry, orders, nil, nil, cfg, testLogger())
			createIntent("PAY-1", "CMD-1001")

			res, err := service.Ensure(ctx, payment.EnsureRequest{ProviderOrderID: "PAY-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Outcome).To(Equal(payment.OutcomeCreated))
		})
	})
})
