package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentintent"
	"github.com/frahmantamala/shop-orders/internal/payment"
)

// PaymentRepository is the payment intent ledger on top of GORM. Every state change is a
// conditional update so concurrent reconcilers can never both commit an order.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

// Upsert creates the intent or refreshes its payload. Rows that already have an order, or that
// belong to another provider, are left as they are. An aborted row is reopened: the buyer
// started a new attempt on the same processor order.
func (r *PaymentRepository) Upsert(ctx context.Context, intent *payment.Intent) (*payment.Intent, error) {
	now := time.Now().UTC()
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	intent.Status = paymentintent.StatusCreated
	intent.CreatedAt = now
	intent.UpdatedAt = now

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_order_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "payment_intents.order_id IS NULL AND payment_intents.provider = excluded.provider"},
		}},
		DoUpdates: append(clause.AssignmentColumns([]string{"payload", "updated_at"}), clause.Assignment{
			Column: clause.Column{Name: "status"},
			Value: gorm.Expr("CASE WHEN payment_intents.status = ? THEN ? ELSE payment_intents.status END",
				paymentintent.StatusAborted, paymentintent.StatusCreated),
		}),
	}).Create(intent).Error
	if err != nil {
		return nil, fmt.Errorf("upsert payment intent: %w", err)
	}

	return r.GetByProviderOrderID(ctx, intent.ProviderOrderID)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Intent, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*payment.Intent, error) {
	return r.first(ctx, "provider_order_id = ?", providerOrderID)
}

func (r *PaymentRepository) first(ctx context.Context, query string, arg string) (*payment.Intent, error) {
	var intent payment.Intent
	err := r.db.WithContext(ctx).Where(query, arg).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (r *PaymentRepository) Claim(ctx context.Context, id, token string, now, until time.Time, allowFailed bool) (bool, error) {
	statuses := []string{paymentintent.StatusCreated}
	if allowFailed {
		statuses = append(statuses, paymentintent.StatusFailed)
	}

	res := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND order_id IS NULL AND status IN ?", id, statuses).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now.UTC()).
		Updates(map[string]interface{}{
			"claim_token":   token,
			"claimed_until": until.UTC(),
			"attempts":      gorm.Expr("attempts + 1"),
			"updated_at":    now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim payment intent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) MarkCaptured(ctx context.Context, id, token, orderID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND order_id IS NULL AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"status":        paymentintent.StatusCaptured,
			"order_id":      orderID,
			"processed_at":  now.UTC(),
			"last_error":    nil,
			"claim_token":   nil,
			"claimed_until": nil,
			"updated_at":    now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment intent captured: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, id, token, lastError string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND order_id IS NULL AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"status":        paymentintent.StatusFailed,
			"last_error":    lastError,
			"processed_at":  now.UTC(),
			"claim_token":   nil,
			"claimed_until": nil,
			"updated_at":    now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment intent failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkChecked records a processor answer that did not complete the payment, which sends the
// row to the back of the sweep order.
func (r *PaymentRepository) MarkChecked(ctx context.Context, id string, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND order_id IS NULL", id).
		Updates(map[string]interface{}{
			"last_checked_at": now.UTC(),
			"updated_at":      now.UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark payment intent checked: %w", err)
	}
	return nil
}

// MarkAborted closes a created row the processor declined. Rows under a live lease are left to
// their holder.
func (r *PaymentRepository) MarkAborted(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND order_id IS NULL AND status = ?", id, paymentintent.StatusCreated).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now.UTC()).
		Updates(map[string]interface{}{
			"status":          paymentintent.StatusAborted,
			"last_error":      reason,
			"last_checked_at": now.UTC(),
			"processed_at":    now.UTC(),
			"updated_at":      now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment intent aborted: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListStale returns created intents that nobody is working on and that were neither created nor
// checked after dueBefore. Rows never checked come first, then the longest unchecked.
func (r *PaymentRepository) ListStale(ctx context.Context, dueBefore, now time.Time, limit int) ([]*payment.Intent, error) {
	var intents []*payment.Intent
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_id IS NULL AND created_at < ?", paymentintent.StatusCreated, dueBefore.UTC()).
		Where("(last_checked_at IS NULL OR last_checked_at < ?)", dueBefore.UTC()).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now.UTC()).
		Order("COALESCE(last_checked_at, created_at) ASC").
		Order("id").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("list stale payment intents: %w", err)
	}
	return intents, nil
}
