package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"bilimpay-be/internal/idempotency"
	"bilimpay-be/internal/logger"
	"bilimpay-be/internal/order"
	"bilimpay-be/internal/provider"

	"go.uber.org/zap"
)

// Payme JSON-RPC error codes
const (
	paymeErrAuth          = -32504
	paymeErrMethod        = -32601
	paymeErrParse         = -32700
	paymeErrOrderNotFound = -31050
	paymeErrWrongAmount   = -31001
	paymeErrCannotPerform = -31008
)

// Payme transaction states echoed in RPC results
const (
	paymeStateCreated   = 1
	paymeStatePerformed = 2
	paymeStateCancelled = -1
)

type paymeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type paymeResponse struct {
	ID     int64       `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *paymeError `json:"error,omitempty"`
}

// PaymeHandler serves the Payme merchant endpoint. Unlike Click's one-way
// callbacks, Payme drives the payment through synchronous RPC operations and
// each one must be answered in its own result shape. The state machine it
// expects maps onto ours: create = confirm, perform = complete, cancel = fail.
type PaymeHandler struct {
	adapter  *provider.PaymeAdapter
	orderSvc order.Service
	guard    idempotency.Guard
}

func NewPaymeHandler(adapter *provider.PaymeAdapter, orderSvc order.Service, guard idempotency.Guard) *PaymeHandler {
	return &PaymeHandler{
		adapter:  adapter,
		orderSvc: orderSvc,
		guard:    guard,
	}
}

func (h *PaymeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req, err := h.adapter.ParseRequest(r, body)
	if err != nil {
		log.Warn("payme rpc rejected", zap.Error(err))
		writePaymeResponse(w, paymeResponse{
			Error: &paymeError{Code: paymeErrAuth, Message: "unauthorized"},
		})
		return
	}

	log = log.With(
		zap.String("rpc_method", req.Method),
		zap.String("order_id", req.Params.OrderID()),
		zap.String("payme_tx_id", req.Params.ID),
	)

	switch req.Method {
	case provider.PaymeMethodCheck:
		h.handleCheck(w, r, log, req)
	case provider.PaymeMethodCreate, provider.PaymeMethodPerform, provider.PaymeMethodCancel:
		h.handleTransaction(w, r, log, req)
	default:
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrMethod, Message: "method not found"},
		})
	}
}

// handleCheck answers CheckPerformTransaction: a pure pre-flight that
// validates the order without moving it.
func (h *PaymeHandler) handleCheck(w http.ResponseWriter, r *http.Request, log *zap.Logger, req *provider.PaymeRequest) {
	o, err := h.orderSvc.GetStatus(r.Context(), req.Params.OrderID())
	if err != nil {
		log.Warn("payme check for unknown order")
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrOrderNotFound, Message: "order not found"},
		})
		return
	}

	if req.Params.Amount != o.Amount {
		log.Warn("payme check amount mismatch",
			zap.Int64("order_amount", o.Amount),
			zap.Int64("rpc_amount", req.Params.Amount),
		)
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrWrongAmount, Message: "incorrect amount"},
		})
		return
	}

	if o.Status.Terminal() {
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrCannotPerform, Message: "order already settled"},
		})
		return
	}

	writePaymeResponse(w, paymeResponse{
		ID:     req.ID,
		Result: map[string]any{"allow": true},
	})
}

func (h *PaymeHandler) handleTransaction(w http.ResponseWriter, r *http.Request, log *zap.Logger, req *provider.PaymeRequest) {
	ev, err := h.adapter.EventFromRequest(req)
	if err != nil {
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrParse, Message: "invalid request"},
		})
		return
	}

	if outcome, dup, gerr := h.guard.SeenEvent(r.Context(), ev.Provider, ev.DeliveryID); gerr == nil && dup {
		// repeated RPC call: answer from recorded outcome, no side effects
		log.Info("duplicate payme rpc re-acknowledged", zap.String("outcome", outcome))
		h.respondOutcome(w, r, req, outcome)
		return
	}

	_, err = h.orderSvc.ApplyEvent(r.Context(), ev)
	outcome := outcomeForError(err)

	if rerr := h.guard.RecordEvent(r.Context(), ev.Provider, ev.DeliveryID, outcome); rerr != nil {
		log.Error("failed to record payme delivery", zap.Error(rerr))
	}

	if err != nil {
		log.Warn("payme event not applied", zap.Error(err), zap.String("outcome", outcome))
	}
	h.respondOutcome(w, r, req, outcome)
}

func (h *PaymeHandler) respondOutcome(w http.ResponseWriter, r *http.Request, req *provider.PaymeRequest, outcome string) {
	switch outcome {
	case outcomeOK:
		h.respondResult(w, r, req)
	case outcomeOrderNotFound:
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrOrderNotFound, Message: "order not found"},
		})
	case outcomeAmountMismatch:
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrWrongAmount, Message: "incorrect amount"},
		})
	default:
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrCannotPerform, Message: "cannot perform operation"},
		})
	}
}

// respondResult builds the per-method success result from the order's
// current state, so a replayed call observes the same times and state.
func (h *PaymeHandler) respondResult(w http.ResponseWriter, r *http.Request, req *provider.PaymeRequest) {
	o, err := h.orderSvc.GetStatus(r.Context(), req.Params.OrderID())
	if err != nil {
		writePaymeResponse(w, paymeResponse{
			ID:    req.ID,
			Error: &paymeError{Code: paymeErrOrderNotFound, Message: "order not found"},
		})
		return
	}

	stamp := o.UpdatedAt.UnixMilli()

	var result map[string]any
	switch req.Method {
	case provider.PaymeMethodCreate:
		result = map[string]any{
			"create_time": stamp,
			"transaction": o.ID,
			"state":       paymeStateCreated,
		}
	case provider.PaymeMethodPerform:
		result = map[string]any{
			"perform_time": stamp,
			"transaction":  o.ID,
			"state":        paymeStatePerformed,
		}
	case provider.PaymeMethodCancel:
		result = map[string]any{
			"cancel_time": stamp,
			"transaction": o.ID,
			"state":       paymeStateCancelled,
		}
	}

	writePaymeResponse(w, paymeResponse{ID: req.ID, Result: result})
}

func writePaymeResponse(w http.ResponseWriter, resp paymeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
