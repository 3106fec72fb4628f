package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bilimpay-be/internal/idempotency"
	"bilimpay-be/internal/logger"
	"bilimpay-be/internal/order"
	"bilimpay-be/internal/provider"

	"go.uber.org/zap"
)

// Click acknowledgement codes
const (
	clickOK            = 0
	clickErrSign       = -1
	clickErrAmount     = -2
	clickErrNotFound   = -5
	clickErrProcessing = -9
)

type clickAck struct {
	ClickTransID    string `json:"click_trans_id,omitempty"`
	MerchantTransID string `json:"merchant_trans_id,omitempty"`
	Error           int    `json:"error"`
	ErrorNote       string `json:"error_note,omitempty"`
}

// ClickHandler serves the Click callback endpoint. Click posts one signed
// form-encoded callback per status change and expects a JSON acknowledgement
// with its own error codes; delivery retries must be idempotent.
type ClickHandler struct {
	adapter  *provider.ClickAdapter
	orderSvc order.Service
	guard    idempotency.Guard
}

func NewClickHandler(adapter *provider.ClickAdapter, orderSvc order.Service, guard idempotency.Guard) *ClickHandler {
	return &ClickHandler{
		adapter:  adapter,
		orderSvc: orderSvc,
		guard:    guard,
	}
}

func (h *ClickHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ev, err := h.adapter.VerifyWebhook(r, body)
	if err != nil {
		// no state was touched; reject in Click's own format
		log.Warn("click webhook rejected", zap.Error(err))
		writeClickAck(w, clickAck{Error: clickErrSign, ErrorNote: "signature check failed"})
		return
	}

	log = log.With(
		zap.String("order_id", ev.ProviderOrderID),
		zap.String("click_trans_id", ev.ProviderTxID),
		zap.String("kind", string(ev.Kind)),
	)

	if outcome, dup, gerr := h.guard.SeenEvent(r.Context(), ev.Provider, ev.DeliveryID); gerr == nil && dup {
		// same delivery again: repeat the recorded acknowledgement, run no side effects
		log.Info("duplicate click delivery re-acknowledged", zap.String("outcome", outcome))
		writeClickAck(w, ackForOutcome(ev, outcome))
		return
	}

	_, err = h.orderSvc.ApplyEvent(r.Context(), ev)
	outcome := outcomeForError(err)

	if rerr := h.guard.RecordEvent(r.Context(), ev.Provider, ev.DeliveryID, outcome); rerr != nil {
		log.Error("failed to record click delivery", zap.Error(rerr))
	}

	if err != nil {
		log.Warn("click event not applied", zap.Error(err), zap.String("outcome", outcome))
	}
	writeClickAck(w, ackForOutcome(ev, outcome))
}

const (
	outcomeOK             = "ok"
	outcomeOrderNotFound  = "order_not_found"
	outcomeAmountMismatch = "amount_mismatch"
	outcomeConflict       = "conflict"
	outcomeError          = "error"
)

func outcomeForError(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, order.ErrOrderNotFound):
		return outcomeOrderNotFound
	case errors.Is(err, order.ErrAmountMismatch):
		return outcomeAmountMismatch
	case errors.Is(err, order.ErrConflict):
		return outcomeConflict
	default:
		return outcomeError
	}
}

func ackForOutcome(ev *provider.Event, outcome string) clickAck {
	ack := clickAck{
		ClickTransID:    ev.ProviderTxID,
		MerchantTransID: ev.ProviderOrderID,
	}

	switch outcome {
	case outcomeOK:
		ack.Error = clickOK
	case outcomeOrderNotFound:
		ack.Error = clickErrNotFound
		ack.ErrorNote = "order not found"
	case outcomeAmountMismatch:
		ack.Error = clickErrAmount
		ack.ErrorNote = "incorrect amount"
	default:
		ack.Error = clickErrProcessing
		ack.ErrorNote = "cannot process request"
	}

	return ack
}

func writeClickAck(w http.ResponseWriter, ack clickAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
