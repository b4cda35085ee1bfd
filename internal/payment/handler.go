package payment

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/transport"
	"github.com/frahmantamala/shop-orders/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// ResultResponse carries PAYMENT_NOT_COMPLETED when the processor has not settled the payment yet.
type ResultResponse struct {
	*Result
	Code internal.ErrorCode `json:"code,omitempty"`
}

func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleServiceError(w, internal.ErrInvalidPayload.WithCause(err))
		return
	}

	intent, err := h.Service.CreateIntent(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, NewIntentResponse(intent))
}

func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	// the body is optional, an empty one means the intent was recorded beforehand
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.HandleServiceError(w, internal.ErrInvalidPayload.WithCause(err))
		return
	}
	req.ProviderOrderID = strings.TrimSpace(chi.URLParam(r, "providerOrderID"))

	res, err := h.Service.Capture(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) Ensure(w http.ResponseWriter, r *http.Request) {
	req := EnsureRequest{ProviderOrderID: strings.TrimSpace(chi.URLParam(r, "providerOrderID"))}

	res, err := h.Service.Ensure(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.Logger.Info("payment replay requested",
		"operator_id", internal.UserIDFromContext(r.Context()),
		"intent_id", req.IntentID,
		"provider_order_id", req.ProviderOrderID)

	res, err := h.Service.Replay(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) writeResult(w http.ResponseWriter, res *Result) {
	if res.Outcome == OutcomeNotPaid {
		h.WriteJSON(w, http.StatusAccepted, ResultResponse{Result: res, Code: internal.ErrCodePaymentNotCompleted})
		return
	}
	status := http.StatusOK
	if res.Outcome == OutcomeCreated {
		status = http.StatusCreated
	}
	h.WriteJSON(w, status, ResultResponse{Result: res})
}
