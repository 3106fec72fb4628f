package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Guard deduplicates order creation requests and webhook deliveries. Both
// tables are keyed by content and bounded by a retention window; Purge keeps
// them from growing without limit.
type Guard interface {
	CreationKey(userID uint, orderType, entityID string, amount int64) string

	// ClaimCreate atomically binds the dedupe key to a new order id. It
	// returns false when another request already holds the key within the
	// window, in which case LookupCreate yields the winner's order id.
	ClaimCreate(ctx context.Context, key, orderID string) (bool, error)
	LookupCreate(ctx context.Context, key string) (string, bool, error)

	// ReplaceCreate rebinds the key after the previous order left PENDING,
	// so a fresh purchase of the same entity is not suppressed.
	ReplaceCreate(ctx context.Context, key, orderID string) error

	// SeenEvent reports whether this delivery was already processed and, if
	// so, the outcome that was recorded for it.
	SeenEvent(ctx context.Context, provider, deliveryID string) (string, bool, error)
	RecordEvent(ctx context.Context, provider, deliveryID, outcome string) error

	Purge(ctx context.Context, olderThan time.Time) error
}

type guard struct {
	db     *sql.DB
	window time.Duration
}

func NewGuard(db *sql.DB, window time.Duration) Guard {
	return &guard{db: db, window: window}
}

func (g *guard) CreationKey(userID uint, orderType, entityID string, amount int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s|%d", userID, orderType, entityID, amount))
	return hex.EncodeToString(sum[:])
}

func (g *guard) ClaimCreate(ctx context.Context, key, orderID string) (bool, error) {
	// Insert wins the key; a stale binding (outside the window) is taken over.
	// An active binding makes the upsert a no-op and the claim fails.
	var claimed string
	err := g.db.QueryRowContext(ctx, `
		INSERT INTO order_dedupe (key_hash, order_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key_hash) DO UPDATE
			SET order_id = EXCLUDED.order_id, created_at = NOW()
			WHERE order_dedupe.created_at < NOW() - $3::interval
		RETURNING order_id
	`, key, orderID, g.windowInterval()).Scan(&claimed)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *guard) LookupCreate(ctx context.Context, key string) (string, bool, error) {
	var orderID string
	err := g.db.QueryRowContext(ctx, `
		SELECT order_id
		FROM order_dedupe
		WHERE key_hash = $1
		  AND created_at > NOW() - $2::interval
	`, key, g.windowInterval()).Scan(&orderID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}

func (g *guard) ReplaceCreate(ctx context.Context, key, orderID string) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE order_dedupe
		SET order_id = $1, created_at = NOW()
		WHERE key_hash = $2
	`, orderID, key)
	return err
}

func (g *guard) SeenEvent(ctx context.Context, provider, deliveryID string) (string, bool, error) {
	var outcome string
	err := g.db.QueryRowContext(ctx, `
		SELECT outcome
		FROM event_dedupe
		WHERE provider = $1
		  AND delivery_id = $2
	`, provider, deliveryID).Scan(&outcome)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return outcome, true, nil
}

func (g *guard) RecordEvent(ctx context.Context, provider, deliveryID, outcome string) error {
	// first writer wins; a racing duplicate keeps the original outcome
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO event_dedupe (provider, delivery_id, outcome, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider, delivery_id) DO NOTHING
	`, provider, deliveryID, outcome)
	return err
}

func (g *guard) Purge(ctx context.Context, olderThan time.Time) error {
	if _, err := g.db.ExecContext(ctx, `
		DELETE FROM order_dedupe WHERE created_at < $1
	`, olderThan); err != nil {
		return err
	}

	_, err := g.db.ExecContext(ctx, `
		DELETE FROM event_dedupe WHERE created_at < $1
	`, olderThan)
	return err
}

func (g *guard) windowInterval() string {
	return fmt.Sprintf("%d seconds", int(g.window.Seconds()))
}
