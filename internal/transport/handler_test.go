package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bilimpay-be/internal/order"
	"bilimpay-be/internal/provider"
	"bilimpay-be/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, in order.CreateOrderInput) (*order.CreateOrderOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CreateOrderOutput), args.Error(1)
}

func (m *MockOrderService) GetStatus(ctx context.Context, orderID string) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Cancel(ctx context.Context, orderID string, userID uint) (*order.Order, error) {
	args := m.Called(ctx, orderID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ApplyEvent(ctx context.Context, ev *provider.Event) (*order.Order, error) {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListForUser(ctx context.Context, userID uint) ([]*order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func newTestMux(svc order.Service) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string, userID uint) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		req = req.WithContext(utils.SetUserContext(req.Context(), userID, "user@test.uz", "user"))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateOrder(t *testing.T) {
	body := `{"provider":"click","type":"course","entity_id":"c1","amount":150000}`

	t.Run("Success", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("CreateOrder", mock.Anything, order.CreateOrderInput{
			Provider: "click",
			Type:     order.TypeCourse,
			EntityID: "c1",
			Amount:   150000,
			UserID:   7,
		}).Return(&order.CreateOrderOutput{
			OrderID:    "ord-1",
			Provider:   "click",
			Amount:     150000,
			PaymentURL: "https://pay.example/ord-1",
			Status:     order.StatusPending,
		}, nil)

		rec := doRequest(t, mux, "POST", "/api/orders", body, 7)

		assert.Equal(t, http.StatusCreated, rec.Code)

		var resp createOrderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ord-1", resp.OrderID)
		assert.Equal(t, "https://pay.example/ord-1", resp.PaymentURL)
		assert.Equal(t, "PENDING", resp.Status)
		svc.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		rec := doRequest(t, mux, "POST", "/api/orders", body, 0)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		svc.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		rec := doRequest(t, mux, "POST", "/api/orders", "{bad", 7)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidArgument", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, order.ErrInvalidArgument)

		rec := doRequest(t, mux, "POST", "/api/orders", body, 7)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("EntityNotFound", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, order.ErrEntityNotFound)

		rec := doRequest(t, mux, "POST", "/api/orders", body, 7)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ProviderUnavailable", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, order.ErrProviderUnavailable)

		rec := doRequest(t, mux, "POST", "/api/orders", body, 7)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("UnexpectedError_Opaque", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, assert.AnError)

		rec := doRequest(t, mux, "POST", "/api/orders", body, 7)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "internal error")
		assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	})
}

func TestHandler_GetStatus(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("GetStatus", mock.Anything, "ord-1").
			Return(&order.Order{ID: "ord-1", Status: order.StatusAwaiting}, nil)

		rec := doRequest(t, mux, "GET", "/api/orders/ord-1", "", 7)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp orderStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ord-1", resp.OrderID)
		assert.Equal(t, "AWAITING_CONFIRMATION", resp.Status)
		assert.Empty(t, resp.Message)
	})

	t.Run("FailedOrder_CarriesReason", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		reason := "amount_mismatch"
		svc.On("GetStatus", mock.Anything, "ord-1").
			Return(&order.Order{ID: "ord-1", Status: order.StatusFailed, FailReason: &reason}, nil)

		rec := doRequest(t, mux, "GET", "/api/orders/ord-1", "", 7)

		var resp orderStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "FAILED", resp.Status)
		assert.Equal(t, "amount_mismatch", resp.Message)
	})

	t.Run("NotFound", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("GetStatus", mock.Anything, "missing").Return(nil, order.ErrOrderNotFound)

		rec := doRequest(t, mux, "GET", "/api/orders/missing", "", 7)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Cancel(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("Cancel", mock.Anything, "ord-1", uint(7)).
			Return(&order.Order{ID: "ord-1", Status: order.StatusCanceled}, nil)

		rec := doRequest(t, mux, "POST", "/api/orders/ord-1/cancel", "", 7)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp orderStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "CANCELLED", resp.Status)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		rec := doRequest(t, mux, "POST", "/api/orders/ord-1/cancel", "", 0)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("NotOwner", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("Cancel", mock.Anything, "ord-1", uint(7)).Return(nil, order.ErrForbidden)

		rec := doRequest(t, mux, "POST", "/api/orders/ord-1/cancel", "", 7)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("AlreadySettled", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("Cancel", mock.Anything, "ord-1", uint(7)).Return(nil, order.ErrConflict)

		rec := doRequest(t, mux, "POST", "/api/orders/ord-1/cancel", "", 7)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_ListOrders(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		created := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
		svc.On("ListForUser", mock.Anything, uint(7)).Return([]*order.Order{
			{ID: "ord-2", Provider: "payme", Type: order.TypeEvent, EntityID: "e9", Amount: 50000, Status: order.StatusComplete, CreatedAt: created},
			{ID: "ord-1", Provider: "click", Type: order.TypeCourse, EntityID: "c1", Amount: 150000, Status: order.StatusPending, CreatedAt: created.Add(-time.Hour)},
		}, nil)

		rec := doRequest(t, mux, "GET", "/api/orders", "", 7)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Orders []orderSummary `json:"orders"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Orders, 2)
		assert.Equal(t, "ord-2", resp.Orders[0].OrderID)
		assert.Equal(t, "COMPLETED", resp.Orders[0].Status)
		assert.Equal(t, "2026-08-24T10:00:00Z", resp.Orders[0].CreatedAt)
	})

	t.Run("Empty", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		svc.On("ListForUser", mock.Anything, uint(7)).Return([]*order.Order{}, nil)

		rec := doRequest(t, mux, "GET", "/api/orders", "", 7)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"orders":[]`)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		svc := new(MockOrderService)
		mux := newTestMux(svc)

		rec := doRequest(t, mux, "GET", "/api/orders", "", 0)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
