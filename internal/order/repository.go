package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bilimpay-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID uint) ([]*Order, error)

	// UpdateStatusIf moves the order to the target status only if its current
	// status is in the from set. Returns false when another writer won the race.
	UpdateStatusIf(ctx context.Context, id string, to Status, from ...Status) (bool, error)

	// FailWithReason is UpdateStatusIf into FAILED plus the audit reason.
	FailWithReason(ctx context.Context, id, reason string, from ...Status) (bool, error)

	SetPaymentURL(ctx context.Context, id, url string) error
	SetProviderTx(ctx context.Context, id, txID string) error
	IncrementAttempts(ctx context.Context, id string) error

	// ExpirePendingBefore flips every PENDING order created before the cutoff
	// to EXPIRED and returns how many rows moved. The status guard makes it
	// safe to run from concurrent sweeper instances.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `id, provider, order_type, entity_id, user_id, amount, status,
		payment_url, provider_tx_id, fail_reason, attempts, metadata, created_at, updated_at`

func (r *repository) Insert(ctx context.Context, o *Order) error {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payment_orders (
			id, provider, order_type, entity_id, user_id,
			amount, status, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`,
		o.ID,
		o.Provider,
		o.Type,
		o.EntityID,
		o.UserID,
		o.Amount,
		o.Status,
		meta,
		o.CreatedAt,
	)
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE id = $1
	`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uint) ([]*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "ListByUser"),
		zap.Uint("user_id", userID),
	)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		log.Error("failed to query orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Error("failed to scan order row", zap.Error(err))
			return nil, err
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		log.Error("rows iteration error", zap.Error(err))
		return nil, err
	}

	return orders, nil
}

func (r *repository) UpdateStatusIf(ctx context.Context, id string, to Status, from ...Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2
		  AND status = ANY($3)
	`, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r *repository) FailWithReason(ctx context.Context, id, reason string, from ...Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET status = $1, fail_reason = $2, updated_at = NOW()
		WHERE id = $3
		  AND status = ANY($4)
	`, StatusFailed, reason, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r *repository) SetPaymentURL(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET payment_url = $1, updated_at = NOW()
		WHERE id = $2
	`, url, id)
	return err
}

func (r *repository) SetProviderTx(ctx context.Context, id, txID string) error {
	// set-once: the first reported transaction id sticks
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET provider_tx_id = $1, updated_at = NOW()
		WHERE id = $2
		  AND provider_tx_id IS NULL
	`, txID, id)
	return err
}

func (r *repository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *repository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET status = $1, updated_at = NOW()
		WHERE status = $2
		  AND created_at < $3
	`, StatusExpired, StatusPending, cutoff)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var meta []byte

	err := row.Scan(
		&o.ID,
		&o.Provider,
		&o.Type,
		&o.EntityID,
		&o.UserID,
		&o.Amount,
		&o.Status,
		&o.PaymentURL,
		&o.ProviderTxID,
		&o.FailReason,
		&o.Attempts,
		&meta,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &o.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	return &o, nil
}

func statusStrings(from []Status) []string {
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}
