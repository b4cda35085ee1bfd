package payment_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
	"github.com/frahmantamala/shop-orders/internal/payment"
)

type recordingEnsurer struct {
	mu   sync.Mutex
	reqs []payment.EnsureRequest
}

func (e *recordingEnsurer) Ensure(ctx context.Context, req payment.EnsureRequest) (*payment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return &payment.Result{Outcome: payment.OutcomeNotPaid, ProviderOrderID: req.ProviderOrderID}, nil
}

func (e *recordingEnsurer) requests() []payment.EnsureRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]payment.EnsureRequest(nil), e.reqs...)
}

var _ = Describe("Sweeper", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		cfg    internal.ReconciliationConfig
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		cfg = internal.ReconciliationConfig{
			LeaseTTL:       5 * time.Second,
			WaitInterval:   5 * time.Millisecond,
			WaitAttempts:   50,
			SweepGrace:     time.Millisecond,
			SweepBatchSize: 10,
			SweepWorkers:   3,
		}
	})

	AfterEach(func() {
		cancel()
	})

	It("should materialize stale intents whose payment completed", func() {
		ledger, _ := newLedger()
		processor := newFakeProcessor(paymentgatewaytypes.PaymentStatusCompleted)
		orders := newCountingMaterializer()
		registry := payment.NewRegistry(paymentgatewaytypes.ProviderPayPal, processor)
		service := payment.NewService(ledger, registry, orders, nil, payment.NewMemoryStatusCache(), cfg, testLogger())

		for _, id := range []string{"PAY-1", "PAY-2", "PAY-3"} {
			_, err := service.CreateIntent(ctx, payment.CreateIntentRequest{ProviderOrderID: id, Payload: samplePayload("CMD-" + id)})
			Expect(err).ToNot(HaveOccurred())
		}
		time.Sleep(10 * time.Millisecond)

		sweeper := payment.NewSweeper(ledger, service, cfg, testLogger())

		examined, err := sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(Equal(3))
		Expect(orders.count()).To(Equal(3))
		Expect(sweeper.Materialized()).To(BeEquivalentTo(3))

		examined, err = sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(BeZero())
	})

	It("should reach a paid intent behind a full batch of unpaid ones", func() {
		cfg.SweepBatchSize = 2
		cfg.SweepWorkers = 1
		cfg.SweepGrace = 200 * time.Millisecond

		ledger, _ := newLedger()
		processor := newFakeProcessor(paymentgatewaytypes.PaymentStatusPending)
		orders := newCountingMaterializer()
		registry := payment.NewRegistry(paymentgatewaytypes.ProviderPayPal, processor)
		service := payment.NewService(ledger, registry, orders, nil, nil, cfg, testLogger())

		for _, id := range []string{"PAY-1", "PAY-2", "PAY-3", "PAY-PAID"} {
			_, err := service.CreateIntent(ctx, payment.CreateIntentRequest{ProviderOrderID: id, Payload: samplePayload("CMD-" + id)})
			Expect(err).ToNot(HaveOccurred())
			time.Sleep(2 * time.Millisecond)
		}
		processor.setFor("PAY-PAID", paymentgatewaytypes.PaymentStatusCompleted)
		time.Sleep(250 * time.Millisecond)

		sweeper := payment.NewSweeper(ledger, service, cfg, testLogger())

		examined, err := sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(Equal(2))
		Expect(orders.count()).To(BeZero())

		examined, err = sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(Equal(2))
		Expect(orders.count()).To(Equal(1))

		paid, err := ledger.GetByProviderOrderID(ctx, "PAY-PAID")
		Expect(err).ToNot(HaveOccurred())
		Expect(paid.IsMaterialized()).To(BeTrue())

		// everything left was checked moments ago and waits for the grace period
		examined, err = sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(BeZero())
	})

	It("should close declined intents so later sweeps skip them", func() {
		ledger, _ := newLedger()
		processor := newFakeProcessor(paymentgatewaytypes.PaymentStatusFailed)
		orders := newCountingMaterializer()
		registry := payment.NewRegistry(paymentgatewaytypes.ProviderPayPal, processor)
		service := payment.NewService(ledger, registry, orders, nil, nil, cfg, testLogger())

		_, err := service.CreateIntent(ctx, payment.CreateIntentRequest{ProviderOrderID: "PAY-1", Payload: samplePayload("CMD-1")})
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(10 * time.Millisecond)

		sweeper := payment.NewSweeper(ledger, service, cfg, testLogger())

		examined, err := sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(Equal(1))

		stored, err := ledger.GetByProviderOrderID(ctx, "PAY-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(paymentintent.StatusAborted))

		time.Sleep(10 * time.Millisecond)
		examined, err = sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(BeZero())
		Expect(orders.count()).To(BeZero())
	})

	It("should bypass the status cache", func() {
		ledger, _ := newLedger()
		ensurer := &recordingEnsurer{}
		registry := payment.NewRegistry(paymentgatewaytypes.ProviderPayPal, newFakeProcessor(paymentgatewaytypes.PaymentStatusPending))
		service := payment.NewService(ledger, registry, newCountingMaterializer(), nil, nil, cfg, testLogger())

		_, err := service.CreateIntent(ctx, payment.CreateIntentRequest{ProviderOrderID: "PAY-1", Payload: samplePayload("CMD-1")})
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(10 * time.Millisecond)

		sweeper := payment.NewSweeper(ledger, ensurer, cfg, testLogger())
		examined, err := sweeper.SweepOnce(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(examined).To(Equal(1))

		reqs := ensurer.requests()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].ProviderOrderID).To(Equal("PAY-1"))
		Expect(reqs[0].SkipCache).To(BeTrue())
	})

	It("should stop when its context is cancelled", func() {
		ledger, _ := newLedger()
		cfg.SweepInterval = 10 * time.Millisecond
		sweeper := payment.NewSweeper(ledger, &recordingEnsurer{}, cfg, testLogger())

		done := make(chan error, 1)
		go func() { done <- sweeper.Run(ctx) }()

		time.Sleep(30 * time.Millisecond)
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})

var _ = Describe("MemoryStatusCache", func() {
	It("should forget entries after their ttl", func() {
		cache := payment.NewMemoryStatusCache()
		ctx := context.Background()

		Expect(cache.Set(ctx, "ensure:paypal:PAY-1", "PENDING", 30*time.Millisecond)).To(Succeed())

		value, ok, err := cache.Get(ctx, "ensure:paypal:PAY-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("PENDING"))

		Eventually(func() bool {
			_, ok, _ := cache.Get(ctx, "ensure:paypal:PAY-1")
			return ok
		}).Should(BeFalse())
	})

	It("should report a miss for unknown keys", func() {
		_, ok, err := payment.NewMemoryStatusCache().Get(context.Background(), "nope")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
