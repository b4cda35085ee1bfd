package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/frahmantamala/shop-orders/internal"
	ordermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/order"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
	"github.com/frahmantamala/shop-orders/internal/notification"
	"github.com/frahmantamala/shop-orders/internal/order"
)

type Intent = paymentintent.PaymentIntent

// Outcome tells callers which of the three reconciliation results happened.
type Outcome string

const (
	OutcomeNotPaid        Outcome = "not_paid"
	OutcomeAlreadyExisted Outcome = "already_existed"
	OutcomeCreated        Outcome = "created"
)

type Result struct {
	Outcome         Outcome `json:"outcome"`
	Paid            bool    `json:"paid"`
	IntentID        string  `json:"intent_id"`
	ProviderOrderID string  `json:"provider_order_id"`
	OrderID         string  `json:"order_id,omitempty"`
	Reference       string  `json:"reference,omitempty"`
	ProcessorStatus string  `json:"processor_status,omitempty"`
}

// Repository is the payment intent ledger. Lookups return internal.ErrIntentNotFound when the
// row does not exist.
type Repository interface {
	Upsert(ctx context.Context, intent *Intent) (*Intent, error)
	GetByID(ctx context.Context, id string) (*Intent, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Intent, error)

	// Claim takes the materialization lease on an unmaterialized row. It reports true only for
	// the single caller whose conditional update matched.
	Claim(ctx context.Context, id, token string, now, until time.Time, allowFailed bool) (bool, error)
	// MarkCaptured and MarkFailed only apply while token still holds the lease.
	MarkCaptured(ctx context.Context, id, token, orderID string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, token, lastError string, now time.Time) (bool, error)

	// MarkChecked stamps a "not paid" answer; MarkAborted closes a created row the processor
	// declined, unless a lease is live.
	MarkChecked(ctx context.Context, id string, now time.Time) error
	MarkAborted(ctx context.Context, id, reason string, now time.Time) (bool, error)

	ListStale(ctx context.Context, dueBefore, now time.Time, limit int) ([]*Intent, error)
}

// Processor talks to one external payment processor.
type Processor interface {
	Name() string
	Capture(ctx context.Context, providerOrderID string) (*paymentgatewaytypes.Confirmation, error)
	Lookup(ctx context.Context, providerOrderID string) (*paymentgatewaytypes.Confirmation, error)
}

// Materializer creates and reads orders.
type Materializer interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Result, error)
	GetOrder(ctx context.Context, orderID string) (*ordermodel.Order, error)
}

type Notifier interface {
	Notify(ctx context.Context, summary notification.OrderSummary) error
}

// StatusCache remembers recent "not paid" answers from processors.
type StatusCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

var errClaimLost = errors.New("materialization lease held by another caller")

// Registry resolves processors by provider name.
type Registry struct {
	processors      map[string]Processor
	defaultProvider string
}

func NewRegistry(defaultProvider string, processors ...Processor) *Registry {
	r := &Registry{
		processors:      make(map[string]Processor, len(processors)),
		defaultProvider: strings.ToLower(strings.TrimSpace(defaultProvider)),
	}
	for _, p := range processors {
		r.processors[p.Name()] = p
	}
	return r
}

// Get returns the named processor, or the default one for an empty name.
func (r *Registry) Get(provider string) (Processor, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.processors[name]
	if !ok {
		return nil, internal.ErrUnsupportedProvider.WithMessage("unsupported payment provider: " + provider)
	}
	return p, nil
}

func (r *Registry) Default() string {
	return r.defaultProvider
}

func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	return names
}
