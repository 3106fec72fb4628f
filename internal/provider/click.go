package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bilimpay-be/internal/logger"

	"go.uber.org/zap"
)

const (
	clickCheckoutURL = "https://my.click.uz/services/pay"

	// callback actions
	clickActionPrepare  = 0
	clickActionComplete = 1
)

// ClickAdapter follows the redirect-then-webhook pattern: the user is sent to
// the Click checkout page and Click posts one signed form callback per status
// change (prepare, then complete).
type ClickAdapter struct {
	serviceID  string
	merchantID string
	secretKey  []byte
}

func NewClickAdapter(serviceID, merchantID, secretKey string) *ClickAdapter {
	if secretKey == "" {
		logger.L().Warn("Click secret key is empty")
	}
	return &ClickAdapter{
		serviceID:  serviceID,
		merchantID: merchantID,
		secretKey:  []byte(secretKey),
	}
}

func (c *ClickAdapter) Name() string { return "click" }

func (c *ClickAdapter) GenerateOrderURL(ctx context.Context, req OrderRequest) (string, error) {
	if req.OrderID == "" || req.Amount <= 0 {
		return "", fmt.Errorf("click: incomplete order request")
	}

	q := url.Values{}
	q.Set("service_id", c.serviceID)
	q.Set("merchant_id", c.merchantID)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("transaction_param", req.OrderID)

	return clickCheckoutURL + "?" + q.Encode(), nil
}

// VerifyWebhook authenticates the form callback and maps it to the common
// event shape. The signature covers every field that drives a state change,
// so a tampered amount or action always fails verification.
func (c *ClickAdapter) VerifyWebhook(r *http.Request, body []byte) (*Event, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed form body", ErrVerification)
	}

	clickTransID := values.Get("click_trans_id")
	serviceID := values.Get("service_id")
	merchantTransID := values.Get("merchant_trans_id")
	amountRaw := values.Get("amount")
	actionRaw := values.Get("action")
	errorRaw := values.Get("error")
	signTime := values.Get("sign_time")
	signString := values.Get("sign_string")

	if clickTransID == "" || merchantTransID == "" || signString == "" {
		return nil, fmt.Errorf("%w: missing callback fields", ErrVerification)
	}

	if !c.validSignature(clickTransID, serviceID, merchantTransID, amountRaw, actionRaw, errorRaw, signTime, signString) {
		logger.L().Warn("click webhook signature mismatch",
			zap.String("order_id", merchantTransID),
			zap.String("click_trans_id", clickTransID),
		)
		return nil, ErrVerification
	}

	amount, err := strconv.ParseInt(amountRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrVerification, amountRaw)
	}

	action, err := strconv.Atoi(actionRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad action %q", ErrVerification, actionRaw)
	}

	kind, err := c.eventKind(action, errorRaw)
	if err != nil {
		return nil, err
	}

	return &Event{
		Provider:        c.Name(),
		ProviderOrderID: merchantTransID,
		ProviderTxID:    clickTransID,
		DeliveryID:      clickTransID + ":" + actionRaw,
		Amount:          amount,
		Kind:            kind,
	}, nil
}

func (c *ClickAdapter) eventKind(action int, errorRaw string) (EventKind, error) {
	if code, err := strconv.Atoi(errorRaw); err == nil && code < 0 {
		return KindFailed, nil
	}

	switch action {
	case clickActionPrepare:
		return KindConfirmed, nil
	case clickActionComplete:
		return KindCompleted, nil
	default:
		return "", fmt.Errorf("%w: unsupported action %d", ErrVerification, action)
	}
}

// validSignature recomputes the HMAC digest over the canonical callback
// string and compares in constant time.
func (c *ClickAdapter) validSignature(parts ...string) bool {
	signString := parts[len(parts)-1]
	canonical := strings.Join(parts[:len(parts)-1], "|")

	mac := hmac.New(sha256.New, c.secretKey)
	mac.Write([]byte(canonical))
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signString)) == 1
}

// SignCallback produces the signature Click would attach to a callback with
// the given fields. Exported for merchant-side tooling and tests.
func (c *ClickAdapter) SignCallback(clickTransID, serviceID, merchantTransID, amount, action, errorCode, signTime string) string {
	canonical := strings.Join([]string{clickTransID, serviceID, merchantTransID, amount, action, errorCode, signTime}, "|")

	mac := hmac.New(sha256.New, c.secretKey)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
