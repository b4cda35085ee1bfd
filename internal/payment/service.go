package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/datatypes"

	"github.com/frahmantamala/shop-orders/internal"
	ordermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
	"github.com/frahmantamala/shop-orders/internal/notification"
	"github.com/frahmantamala/shop-orders/internal/order"
)

const maxWaitStep = 2 * time.Second

type ServiceAPI interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	Ensure(ctx context.Context, req EnsureRequest) (*Result, error)
	Replay(ctx context.Context, req ReplayRequest) (*Result, error)
}

// Service reconciles processor payments with orders. Capture, Ensure and Replay all end in the
// same reconcile step, which guarantees at most one order per payment intent.
type Service struct {
	repo     Repository
	registry *Registry
	orders   Materializer
	notifier Notifier
	cache    StatusCache
	cfg      internal.ReconciliationConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, registry *Registry, orders Materializer, notifier Notifier, cache StatusCache, cfg internal.ReconciliationConfig, logger *slog.Logger) *Service {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 100 * time.Millisecond
	}
	if cfg.WaitAttempts == 0 {
		cfg.WaitAttempts = 20
	}
	return &Service{
		repo:     repo,
		registry: registry,
		orders:   orders,
		notifier: notifier,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateIntent records or refreshes the ledger row for a checkout. A row that already points at
// an order is returned untouched.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = s.registry.Default()
	}
	if _, err := s.registry.Get(provider); err != nil {
		return nil, err
	}
	providerOrderID := strings.TrimSpace(req.ProviderOrderID)

	existing, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	switch {
	case err == nil && existing.Provider != provider:
		return nil, internal.ErrProviderMismatch.WithMessage(
			fmt.Sprintf("provider order %s is already recorded for %s", providerOrderID, existing.Provider))
	case err != nil && !errors.Is(err, internal.ErrIntentNotFound):
		s.logger.Error("failed to read payment intent", "error", err, "provider_order_id", providerOrderID)
		return nil, internal.NewInternalError("failed to read payment intent", err)
	}

	raw, err := paymentintent.EncodePayload(req.Payload)
	if err != nil {
		return nil, internal.ErrInvalidPayload.WithCause(err)
	}

	saved, err := s.repo.Upsert(ctx, &Intent{
		Provider:        provider,
		ProviderOrderID: providerOrderID,
		Payload:         datatypes.JSON(raw),
	})
	if err != nil {
		s.logger.Error("failed to record payment intent", "error", err, "provider_order_id", providerOrderID)
		return nil, internal.NewInternalError("failed to record payment intent", err)
	}

	s.logger.Info("payment intent recorded",
		"intent_id", saved.ID,
		"provider", saved.Provider,
		"provider_order_id", saved.ProviderOrderID,
		"status", saved.Status,
		"materialized", saved.IsMaterialized())
	return saved, nil
}

// Capture asks the processor to capture the payment and materializes the order once it is
// completed. An inline payload creates the ledger row first.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	providerOrderID := strings.TrimSpace(req.ProviderOrderID)

	if req.Payload != nil {
		_, err := s.CreateIntent(ctx, CreateIntentRequest{
			Provider:        req.Provider,
			ProviderOrderID: providerOrderID,
			Payload:         *req.Payload,
		})
		if err != nil {
			return nil, err
		}
	}

	intent, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return nil, s.ledgerError(err, providerOrderID)
	}
	if res, done, err := s.settled(ctx, intent, false); done {
		return res, err
	}

	proc, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	conf, err := proc.Capture(ctx, providerOrderID)
	if err != nil {
		return nil, s.processorError(ctx, err, intent)
	}
	if !conf.Completed() {
		return s.unpaid(ctx, intent, conf, true)
	}

	return s.reconcile(ctx, intent, conf, false)
}

// Ensure is the polling entry point: it asks the processor for the payment state without
// capturing and materializes the order when the payment is completed. A non-empty Provider must
// match the one the intent was recorded for.
func (s *Service) Ensure(ctx context.Context, req EnsureRequest) (*Result, error) {
	providerOrderID := strings.TrimSpace(req.ProviderOrderID)
	if providerOrderID == "" {
		return nil, internal.NewValidationFieldError("provider_order_id", "provider_order_id is required", internal.ErrCodeValidationFailed)
	}

	intent, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return nil, s.ledgerError(err, providerOrderID)
	}
	if provider := strings.ToLower(strings.TrimSpace(req.Provider)); provider != "" && provider != intent.Provider {
		s.logger.Warn("ensure for another provider's payment",
			"provider", provider,
			"intent_provider", intent.Provider,
			"provider_order_id", providerOrderID)
		return nil, internal.ErrProviderMismatch.WithMessage(
			fmt.Sprintf("provider order %s is recorded for %s, not %s", providerOrderID, intent.Provider, provider))
	}
	if res, done, err := s.settled(ctx, intent, false); done {
		return res, err
	}

	if !req.SkipCache && s.cache != nil {
		status, ok, err := s.cache.Get(ctx, cacheKey(intent))
		if err != nil {
			s.logger.Warn("ensure status cache unavailable", "error", err, "provider_order_id", providerOrderID)
		} else if ok {
			return &Result{
				Outcome:         OutcomeNotPaid,
				IntentID:        intent.ID,
				ProviderOrderID: intent.ProviderOrderID,
				ProcessorStatus: status,
			}, nil
		}
	}

	proc, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	conf, err := proc.Lookup(ctx, providerOrderID)
	if err != nil {
		return nil, s.processorError(ctx, err, intent)
	}
	if !conf.Completed() {
		return s.unpaid(ctx, intent, conf, true)
	}

	return s.reconcile(ctx, intent, conf, false)
}

// Replay is the operator entry point. Unlike Capture and Ensure it retries intents whose previous
// materialization failed.
func (s *Service) Replay(ctx context.Context, req ReplayRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		intent *Intent
		err    error
	)
	if id := strings.TrimSpace(req.IntentID); id != "" {
		intent, err = s.repo.GetByID(ctx, id)
	} else {
		intent, err = s.repo.GetByProviderOrderID(ctx, strings.TrimSpace(req.ProviderOrderID))
	}
	if err != nil {
		return nil, s.ledgerError(err, req.ProviderOrderID)
	}
	if res, done, err := s.settled(ctx, intent, true); done {
		return res, err
	}

	proc, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	conf, err := proc.Lookup(ctx, intent.ProviderOrderID)
	if err != nil {
		return nil, s.processorError(ctx, err, intent)
	}
	if !conf.Completed() {
		return s.unpaid(ctx, intent, conf, false)
	}

	s.logger.Info("replaying payment intent",
		"intent_id", intent.ID,
		"provider_order_id", intent.ProviderOrderID,
		"status", intent.Status,
		"attempts", intent.Attempts)
	return s.reconcile(ctx, intent, conf, true)
}

// reconcile makes sure the confirmed payment ends up with exactly one order. Callers race for
// the lease on the ledger row; the loser waits until the winner commits or gives up.
func (s *Service) reconcile(ctx context.Context, intent *Intent, conf *paymentgatewaytypes.Confirmation, allowFailed bool) (*Result, error) {
	token := uuid.NewString()
	backoff := retry.WithMaxRetries(s.cfg.WaitAttempts,
		retry.WithCappedDuration(maxWaitStep, retry.NewExponential(s.cfg.WaitInterval)))

	res, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*Result, error) {
		current, err := s.repo.GetByID(ctx, intent.ID)
		if err != nil {
			return nil, err
		}
		if res, done, err := s.settled(ctx, current, allowFailed); done {
			return res, err
		}

		now := s.now()
		won, err := s.repo.Claim(ctx, current.ID, token, now, now.Add(s.cfg.LeaseTTL), allowFailed)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, retry.RetryableError(errClaimLost)
		}
		return s.materialize(ctx, current, token, conf)
	})
	if errors.Is(err, errClaimLost) {
		s.logger.Warn("gave up waiting for concurrent reconciliation",
			"intent_id", intent.ID,
			"provider_order_id", intent.ProviderOrderID)
		return nil, internal.ErrReconcileBusy
	}
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		s.logger.Error("reconciliation failed", "error", err, "intent_id", intent.ID)
		return nil, internal.NewInternalError("reconciliation failed", err)
	}
	return res, nil
}

// materialize runs while the caller holds the lease. It survives the caller's cancellation so
// a client that disconnects cannot leave a created order without its ledger commit.
func (s *Service) materialize(ctx context.Context, intent *Intent, token string, conf *paymentgatewaytypes.Confirmation) (*Result, error) {
	mctx, cancel := internal.Detached(ctx, s.cfg.MaterializeTime)
	defer cancel()

	payload, err := paymentintent.DecodePayload(intent.Payload)
	if err != nil {
		s.markFailed(mctx, intent, token, "invalid payload: "+err.Error())
		return nil, internal.ErrInvalidPayload.WithCause(err)
	}
	s.checkAmount(intent, payload, conf)

	created, err := s.orders.CreateOrder(mctx, order.CreateRequest{
		ProviderOrderID: intent.ProviderOrderID,
		Payload:         payload,
	})
	if err != nil {
		s.markFailed(mctx, intent, token, err.Error())
		return nil, internal.ErrMaterializationFailed.WithCause(err)
	}

	committed, err := s.repo.MarkCaptured(mctx, intent.ID, token, created.Order.ID, s.now())
	if err != nil {
		s.logger.Error("order created but ledger commit failed",
			"error", err,
			"intent_id", intent.ID,
			"order_id", created.Order.ID)
		return nil, internal.NewInternalError("failed to record materialized order", err)
	}
	if !committed {
		// Lease expired while the order was being created and someone else took over.
		current, err := s.repo.GetByID(mctx, intent.ID)
		if err == nil && current.IsMaterialized() {
			return s.existing(mctx, current), nil
		}
		return nil, internal.ErrReconcileBusy
	}

	outcome := OutcomeCreated
	if created.Adopted {
		outcome = OutcomeAlreadyExisted
	}
	s.logger.Info("payment reconciled",
		"intent_id", intent.ID,
		"provider_order_id", intent.ProviderOrderID,
		"order_id", created.Order.ID,
		"reference", created.Order.Reference,
		"outcome", outcome)

	s.notify(ctx, intent, created.Order)

	return &Result{
		Outcome:         outcome,
		Paid:            true,
		IntentID:        intent.ID,
		ProviderOrderID: intent.ProviderOrderID,
		OrderID:         created.Order.ID,
		Reference:       created.Order.Reference,
		ProcessorStatus: processorStatus(conf),
	}, nil
}

// settled returns the final answer for intents that need no processor call: materialized rows,
// aborted rows, and failed rows unless the caller is allowed to retry them.
func (s *Service) settled(ctx context.Context, intent *Intent, allowFailed bool) (*Result, bool, error) {
	if intent.IsMaterialized() {
		return s.existing(ctx, intent), true, nil
	}
	if intent.Status == paymentintent.StatusAborted {
		appErr := internal.ErrPaymentFailed
		if intent.LastError != nil {
			appErr = appErr.WithDetails(map[string]string{"last_error": *intent.LastError})
		}
		return nil, true, appErr
	}
	if intent.Status == paymentintent.StatusFailed && !allowFailed {
		appErr := internal.ErrMaterializationFailed
		if intent.LastError != nil {
			appErr = appErr.WithDetails(map[string]string{"last_error": *intent.LastError})
		}
		return nil, true, appErr
	}
	return nil, false, nil
}

func (s *Service) existing(ctx context.Context, intent *Intent) *Result {
	res := &Result{
		Outcome:         OutcomeAlreadyExisted,
		Paid:            true,
		IntentID:        intent.ID,
		ProviderOrderID: intent.ProviderOrderID,
		OrderID:         *intent.OrderID,
	}
	o, err := s.orders.GetOrder(ctx, *intent.OrderID)
	if err != nil {
		s.logger.Warn("materialized order could not be read", "error", err, "order_id", *intent.OrderID)
		return res
	}
	res.Reference = o.Reference
	return res
}

func (s *Service) markFailed(ctx context.Context, intent *Intent, token, reason string) {
	s.logger.Error("order materialization failed",
		"intent_id", intent.ID,
		"provider_order_id", intent.ProviderOrderID,
		"reason", reason)

	ok, err := s.repo.MarkFailed(ctx, intent.ID, token, reason, s.now())
	if err != nil {
		s.logger.Error("failed to mark payment intent as failed", "error", err, "intent_id", intent.ID)
		return
	}
	if !ok {
		s.logger.Warn("lease lost before failure could be recorded", "intent_id", intent.ID)
	}
}

// checkAmount only logs: the processor already took the money, refusing the order would not
// give it back.
func (s *Service) checkAmount(intent *Intent, payload paymentintent.Payload, conf *paymentgatewaytypes.Confirmation) {
	if conf == nil || (conf.Amount.IsZero() && conf.Currency == "") {
		return
	}
	if conf.Amount.Equal(payload.Total) && strings.EqualFold(conf.Currency, payload.Currency) {
		return
	}
	s.logger.Warn("captured amount differs from checkout total",
		"intent_id", intent.ID,
		"provider_order_id", intent.ProviderOrderID,
		"captured_amount", conf.Amount.StringFixed(2),
		"captured_currency", conf.Currency,
		"expected_amount", payload.Total.StringFixed(2),
		"expected_currency", payload.Currency)
}

func (s *Service) notify(ctx context.Context, intent *Intent, o *ordermodel.Order) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := internal.Detached(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	summary := notification.OrderSummary{
		OrderID:         o.ID,
		Reference:       o.Reference,
		ProviderOrderID: intent.ProviderOrderID,
		Total:           o.Total.StringFixed(2),
		Currency:        o.Currency,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		DeliveryType:    o.DeliveryType,
		ItemCount:       len(o.Items),
	}
	if err := s.notifier.Notify(nctx, summary); err != nil {
		s.logger.Warn("order notification failed",
			"error", err,
			"order_id", o.ID,
			"intent_id", intent.ID)
	}
}

// unpaid answers a processor state that did not complete the payment. A declined or cancelled
// payment closes the intent. Anything else is stamped so the sweeper moves on to other rows.
func (s *Service) unpaid(ctx context.Context, intent *Intent, conf *paymentgatewaytypes.Confirmation, cache bool) (*Result, error) {
	now := s.now()
	status := processorStatus(conf)

	if conf.Status == paymentgatewaytypes.PaymentStatusFailed {
		aborted, err := s.repo.MarkAborted(ctx, intent.ID, "processor reported "+status, now)
		if err != nil {
			s.logger.Error("failed to abort payment intent", "error", err, "intent_id", intent.ID)
		}
		s.logger.Warn("payment declined by processor",
			"intent_id", intent.ID,
			"provider_order_id", intent.ProviderOrderID,
			"processor_status", status,
			"aborted", aborted)
		return nil, internal.ErrPaymentFailed.WithDetails(map[string]string{"processor_status": status})
	}

	s.checked(ctx, intent, now)
	if cache {
		s.remember(ctx, intent, conf)
	}
	return notPaid(intent, conf), nil
}

func (s *Service) checked(ctx context.Context, intent *Intent, now time.Time) {
	if err := s.repo.MarkChecked(ctx, intent.ID, now); err != nil {
		s.logger.Warn("failed to stamp payment intent check", "error", err, "intent_id", intent.ID)
	}
}

func (s *Service) remember(ctx context.Context, intent *Intent, conf *paymentgatewaytypes.Confirmation) {
	if s.cache == nil || s.cfg.EnsureCacheTTL <= 0 {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(intent), processorStatus(conf), s.cfg.EnsureCacheTTL); err != nil {
		s.logger.Warn("failed to cache processor status", "error", err, "provider_order_id", intent.ProviderOrderID)
	}
}

func (s *Service) ledgerError(err error, providerOrderID string) error {
	if errors.Is(err, internal.ErrIntentNotFound) {
		return err
	}
	s.logger.Error("failed to read payment intent", "error", err, "provider_order_id", providerOrderID)
	return internal.NewInternalError("failed to read payment intent", err)
}

func (s *Service) processorError(ctx context.Context, err error, intent *Intent) error {
	if errors.Is(err, paymentgatewaytypes.ErrUnknownOrder) {
		s.checked(ctx, intent, s.now())
		return internal.ErrIntentNotFound.
			WithMessage("payment processor has no order " + intent.ProviderOrderID).
			WithCause(err)
	}
	s.logger.Error("payment processor call failed",
		"error", err,
		"provider", intent.Provider,
		"provider_order_id", intent.ProviderOrderID)
	return internal.ErrProcessorUnavailable.WithCause(err)
}

func cacheKey(intent *Intent) string {
	return "ensure:" + intent.Provider + ":" + intent.ProviderOrderID
}

func processorStatus(conf *paymentgatewaytypes.Confirmation) string {
	if conf.RawStatus != "" {
		return conf.RawStatus
	}
	return string(conf.Status)
}

func notPaid(intent *Intent, conf *paymentgatewaytypes.Confirmation) *Result {
	return &Result{
		Outcome:         OutcomeNotPaid,
		IntentID:        intent.ID,
		ProviderOrderID: intent.ProviderOrderID,
		ProcessorStatus: processorStatus(conf),
	}
}
