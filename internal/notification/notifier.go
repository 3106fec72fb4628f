package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bilimpay-be/internal/logger"

	"go.uber.org/zap"
)

// Notifier delivers a fire-and-forget event to the notification service.
// Failures are the caller's to log; they must never affect payment state.
type Notifier interface {
	Notify(ctx context.Context, userID uint, orderID, event string) error
}

type httpNotifier struct {
	url        string
	httpClient *http.Client
}

func NewHTTPNotifier(url string) Notifier {
	return &httpNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *httpNotifier) Notify(ctx context.Context, userID uint, orderID, event string) error {
	log := logger.FromCtx(ctx).With(
		zap.Uint("user_id", userID),
		zap.String("order_id", orderID),
		zap.String("event", event),
	)

	if n.url == "" {
		log.Debug("notification URL not configured, skipping")
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"user_id":  userID,
		"order_id": orderID,
		"event":    event,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Warn("notification request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		log.Warn("notification service returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBody),
		)
		return fmt.Errorf("notification error: status %d", resp.StatusCode)
	}

	return nil
}
