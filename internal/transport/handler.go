package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"bilimpay-be/internal/logger"
	"bilimpay-be/internal/order"
	"bilimpay-be/internal/utils"

	"go.uber.org/zap"
)

// Handler exposes the order API over JSON. Webhooks live elsewhere; these
// endpoints are for the authenticated buyer.
type Handler struct {
	orderSvc order.Service
}

func NewHandler(orderSvc order.Service) *Handler {
	return &Handler{orderSvc: orderSvc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetStatus)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.Cancel)
}

type createOrderRequest struct {
	Provider string            `json:"provider"`
	Type     string            `json:"type"`
	EntityID string            `json:"entity_id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createOrderResponse struct {
	OrderID    string `json:"order_id"`
	Provider   string `json:"provider"`
	Amount     int64  `json:"amount"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
}

type orderStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type orderSummary struct {
	OrderID   string `json:"order_id"`
	Provider  string `json:"provider"`
	Type      string `json:"type"`
	EntityID  string `json:"entity_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	out, err := h.orderSvc.CreateOrder(r.Context(), order.CreateOrderInput{
		Provider: req.Provider,
		Type:     order.OrderType(req.Type),
		EntityID: req.EntityID,
		Amount:   req.Amount,
		UserID:   userID,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:    out.OrderID,
		Provider:   out.Provider,
		Amount:     out.Amount,
		PaymentURL: out.PaymentURL,
		Status:     string(out.Status),
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderSvc.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg := ""
	if o.FailReason != nil {
		msg = *o.FailReason
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderID: o.ID,
		Status:  string(o.Status),
		Message: msg,
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	o, err := h.orderSvc.Cancel(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderID: o.ID,
		Status:  string(o.Status),
		Message: "order cancelled",
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orders, err := h.orderSvc.ListForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderSummary{
			OrderID:   o.ID,
			Provider:  o.Provider,
			Type:      string(o.Type),
			EntityID:  o.EntityID,
			Amount:    o.Amount,
			Status:    string(o.Status),
			CreatedAt: o.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, order.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, order.ErrEntityNotFound), errors.Is(err, order.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, order.ErrProviderUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logger.FromCtx(r.Context()).Error("unexpected service error", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}

	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
