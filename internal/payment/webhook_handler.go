package payment

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/shop-orders/internal"
	paymentgatewaytypes "github.com/frahmantamala/shop-orders/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/transport"
)

const (
	WebhookSecretHeader = "X-Webhook-Secret"
	maxWebhookBody      = 1 << 20
)

// WebhookHandler turns processor notifications into Ensure calls. Processors redeliver on any
// non-2xx answer, so events we do not act on are acknowledged with 200.
type WebhookHandler struct {
	*transport.BaseHandler
	Service ServiceAPI
	secret  string
	logger  *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service ServiceAPI, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		Service:     service,
		secret:      secret,
		logger:      logger,
	}
}

type WebhookResponse struct {
	Status          string             `json:"status"`
	ProviderOrderID string             `json:"provider_order_id,omitempty"`
	Outcome         Outcome            `json:"outcome,omitempty"`
	OrderID         string             `json:"order_id,omitempty"`
	Code            internal.ErrorCode `json:"code,omitempty"`
}

// webhookEvent is the subset of the PayPal, Stripe and generic callback shapes we read.
type webhookEvent struct {
	// generic
	ProviderOrderID string `json:"provider_order_id"`
	Status          string `json:"status"`

	// paypal
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`

	// stripe
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))

	if !h.authorized(r) {
		h.logger.Warn("webhook rejected, bad secret", "provider", provider, "remote_addr", r.RemoteAddr)
		h.HandleServiceError(w, internal.NewUnauthorizedError("invalid webhook secret", internal.ErrCodeInvalidToken))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	ev, err := parseWebhook(body)
	if err != nil {
		h.logger.Error("invalid webhook payload", "error", err, "provider", provider)
		h.WriteError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if ev.source != "" && ev.source != provider {
		h.logger.Warn("webhook rejected, event shape does not match provider",
			"provider", provider,
			"event_source", ev.source)
		h.HandleServiceError(w, internal.ErrProviderMismatch.WithMessage(
			fmt.Sprintf("%s event posted to the %s webhook", ev.source, provider)))
		return
	}
	providerOrderID, completed := ev.providerOrderID, ev.completed

	h.logger.Info("webhook received",
		"provider", provider,
		"provider_order_id", providerOrderID,
		"completed", completed)

	if providerOrderID == "" || !completed {
		h.WriteJSON(w, http.StatusOK, WebhookResponse{
			Status:          "ignored",
			ProviderOrderID: providerOrderID,
			Code:            internal.ErrCodePaymentNotCompleted,
		})
		return
	}

	res, err := h.Service.Ensure(r.Context(), EnsureRequest{ProviderOrderID: providerOrderID, Provider: provider, SkipCache: true})
	if err != nil {
		if errors.Is(err, internal.ErrIntentNotFound) {
			h.logger.Warn("webhook for unknown payment", "provider", provider, "provider_order_id", providerOrderID)
			h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", ProviderOrderID: providerOrderID})
			return
		}
		if errors.Is(err, internal.ErrPaymentFailed) {
			h.WriteJSON(w, http.StatusOK, WebhookResponse{
				Status:          "ignored",
				ProviderOrderID: providerOrderID,
				Code:            internal.ErrCodePaymentFailed,
			})
			return
		}
		h.HandleServiceError(w, err)
		return
	}

	resp := WebhookResponse{
		Status:          "processed",
		ProviderOrderID: providerOrderID,
		Outcome:         res.Outcome,
		OrderID:         res.OrderID,
	}
	if res.Outcome == OutcomeNotPaid {
		resp.Code = internal.ErrCodePaymentNotCompleted
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get(WebhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

type parsedWebhook struct {
	// source is the provider whose event shape matched, empty for the generic callback.
	source          string
	providerOrderID string
	completed       bool
}

// parseWebhook extracts the processor order id and whether the event reports a completed payment.
func parseWebhook(body []byte) (parsedWebhook, error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return parsedWebhook{}, err
	}

	switch {
	case ev.EventType != "":
		id := ev.Resource.SupplementaryData.RelatedIDs.OrderID
		if id == "" {
			id = ev.Resource.ID
		}
		switch ev.EventType {
		case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.APPROVED", "CHECKOUT.ORDER.COMPLETED":
			return parsedWebhook{source: paymentgatewaytypes.ProviderPayPal, providerOrderID: id, completed: true}, nil
		}
		return parsedWebhook{source: paymentgatewaytypes.ProviderPayPal, providerOrderID: id}, nil

	case ev.Type != "":
		return parsedWebhook{
			source:          paymentgatewaytypes.ProviderStripe,
			providerOrderID: ev.Data.Object.ID,
			completed:       ev.Type == "payment_intent.succeeded",
		}, nil

	default:
		status := strings.ToUpper(strings.TrimSpace(ev.Status))
		completed := status == string(paymentgatewaytypes.PaymentStatusCompleted) || status == "SUCCEEDED" || status == "PAID"
		return parsedWebhook{providerOrderID: strings.TrimSpace(ev.ProviderOrderID), completed: completed}, nil
	}
}
