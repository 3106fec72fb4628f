package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		var received map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &received)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		n := NewHTTPNotifier(srv.URL)
		err := n.Notify(ctx, 7, "ord-1", "payment_completed")
		require.NoError(t, err)

		assert.Equal(t, float64(7), received["user_id"])
		assert.Equal(t, "ord-1", received["order_id"])
		assert.Equal(t, "payment_completed", received["event"])
	})

	t.Run("NonSuccessStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		n := NewHTTPNotifier(srv.URL)
		err := n.Notify(ctx, 7, "ord-1", "payment_completed")
		assert.Error(t, err)
	})

	t.Run("Unreachable", func(t *testing.T) {
		n := NewHTTPNotifier("http://127.0.0.1:1")
		err := n.Notify(ctx, 7, "ord-1", "payment_completed")
		assert.Error(t, err)
	})

	t.Run("NoURLConfigured_Skips", func(t *testing.T) {
		n := NewHTTPNotifier("")
		err := n.Notify(ctx, 7, "ord-1", "payment_completed")
		assert.NoError(t, err)
	})
}
