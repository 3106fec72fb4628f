package provider

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"bilimpay-be/internal/logger"

	"go.uber.org/zap"
)

const paymeCheckoutURL = "https://checkout.paycom.uz"

// Payme merchant API methods. The provider drives the payment itself through
// a sequence of synchronous JSON-RPC calls against our endpoint.
const (
	PaymeMethodCheck   = "CheckPerformTransaction"
	PaymeMethodCreate  = "CreateTransaction"
	PaymeMethodPerform = "PerformTransaction"
	PaymeMethodCancel  = "CancelTransaction"
)

type PaymeRequest struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params PaymeParams `json:"params"`
}

type PaymeParams struct {
	ID      string            `json:"id,omitempty"` // payme transaction id
	Time    int64             `json:"time,omitempty"`
	Amount  int64             `json:"amount,omitempty"`
	Account map[string]string `json:"account,omitempty"`
	Reason  *int              `json:"reason,omitempty"`
}

// OrderID extracts our order identifier from the RPC account object.
func (p PaymeParams) OrderID() string {
	return p.Account["order_id"]
}

// PaymeAdapter follows the synchronous RPC pattern: Payme invokes distinct
// operations (check, create, perform, cancel) against a single endpoint,
// authenticated with a shared merchant key. The adapter maps the mutating
// operations onto the common event shape; the wire-level request/response
// framing lives in the webhook handler.
type PaymeAdapter struct {
	merchantID string
	key        []byte
}

func NewPaymeAdapter(merchantID, key string) *PaymeAdapter {
	if key == "" {
		logger.L().Warn("Payme merchant key is empty")
	}
	return &PaymeAdapter{
		merchantID: merchantID,
		key:        []byte(key),
	}
}

func (p *PaymeAdapter) Name() string { return "payme" }

func (p *PaymeAdapter) GenerateOrderURL(ctx context.Context, req OrderRequest) (string, error) {
	if req.OrderID == "" || req.Amount <= 0 {
		return "", fmt.Errorf("payme: incomplete order request")
	}

	params := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", p.merchantID, req.OrderID, req.Amount)
	encoded := base64.StdEncoding.EncodeToString([]byte(params))

	return paymeCheckoutURL + "/" + encoded, nil
}

// Authenticate checks the basic-auth merchant key on an inbound RPC call.
// Comparison is constant-time; any mismatch is a verification failure.
func (p *PaymeAdapter) Authenticate(r *http.Request) error {
	expected := "Basic " + base64.StdEncoding.EncodeToString(append([]byte("Paycom:"), p.key...))
	got := r.Header.Get("Authorization")

	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		logger.L().Warn("payme webhook auth mismatch", zap.String("ip", r.RemoteAddr))
		return ErrVerification
	}
	return nil
}

// ParseRequest decodes the JSON-RPC envelope after authentication.
func (p *PaymeAdapter) ParseRequest(r *http.Request, body []byte) (*PaymeRequest, error) {
	if err := p.Authenticate(r); err != nil {
		return nil, err
	}

	var req PaymeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed rpc body", ErrVerification)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing rpc method", ErrVerification)
	}
	return &req, nil
}

// EventFromRequest maps a mutating RPC operation to the common event shape.
// CheckPerformTransaction is a pure pre-check and never produces an event;
// the webhook handler answers it directly.
func (p *PaymeAdapter) EventFromRequest(req *PaymeRequest) (*Event, error) {
	var kind EventKind
	switch req.Method {
	case PaymeMethodCreate:
		kind = KindConfirmed
	case PaymeMethodPerform:
		kind = KindCompleted
	case PaymeMethodCancel:
		kind = KindFailed
	default:
		return nil, fmt.Errorf("payme: method %s carries no event", req.Method)
	}

	return &Event{
		Provider:        p.Name(),
		ProviderOrderID: req.Params.OrderID(),
		ProviderTxID:    req.Params.ID,
		DeliveryID:      req.Params.ID + ":" + req.Method,
		Amount:          req.Params.Amount,
		Kind:            kind,
	}, nil
}

// VerifyWebhook satisfies the Adapter contract: authenticate, decode, map.
func (p *PaymeAdapter) VerifyWebhook(r *http.Request, body []byte) (*Event, error) {
	req, err := p.ParseRequest(r, body)
	if err != nil {
		return nil, err
	}
	return p.EventFromRequest(req)
}
