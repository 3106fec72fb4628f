package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bilimpay-be/internal/catalog"
	"bilimpay-be/internal/idempotency"
	"bilimpay-be/internal/logger"
	"bilimpay-be/internal/notification"
	"bilimpay-be/internal/provider"
	"bilimpay-be/internal/utils"

	"go.uber.org/zap"
)

const reasonAmountMismatch = "amount_mismatch"

type CreateOrderInput struct {
	Provider string
	Type     OrderType
	EntityID string
	Amount   int64
	UserID   uint
	Metadata map[string]string
}

type CreateOrderOutput struct {
	OrderID    string
	Provider   string
	Amount     int64
	PaymentURL string
	Status     Status
}

type Service interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderOutput, error)
	GetStatus(ctx context.Context, orderID string) (*Order, error)
	Cancel(ctx context.Context, orderID string, userID uint) (*Order, error)
	ApplyEvent(ctx context.Context, ev *provider.Event) (*Order, error)
	ListForUser(ctx context.Context, userID uint) ([]*Order, error)
}

type service struct {
	repo     Repository
	registry *provider.Registry
	guard    idempotency.Guard
	catalog  catalog.Repository
	notifier notification.Notifier
}

func NewService(
	repo Repository,
	registry *provider.Registry,
	guard idempotency.Guard,
	cat catalog.Repository,
	notifier notification.Notifier,
) Service {
	return &service{
		repo:     repo,
		registry: registry,
		guard:    guard,
		catalog:  cat,
		notifier: notifier,
	}
}

func (s *service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderOutput, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "CreateOrder"),
		zap.String("provider", in.Provider),
		zap.String("type", string(in.Type)),
		zap.String("entity_id", in.EntityID),
		zap.Uint("user_id", in.UserID),
		zap.Int64("amount", in.Amount),
	)

	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if !ValidOrderType(in.Type) {
		return nil, fmt.Errorf("%w: unknown order type %q", ErrInvalidArgument, in.Type)
	}

	adapter, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	exists, err := s.catalog.Exists(ctx, string(in.Type), in.EntityID)
	if err != nil {
		log.Error("entity existence check failed", zap.Error(err))
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, in.Type, in.EntityID)
	}

	// Dedupe: repeated submissions of the same purchase within the window
	// return the pending order already created, never a second charge.
	key := s.guard.CreationKey(in.UserID, string(in.Type), in.EntityID, in.Amount)
	orderID := utils.GenerateOrderID(string(in.Type), in.EntityID, in.UserID)

	claimed, err := s.guard.ClaimCreate(ctx, key, orderID)
	if err != nil {
		log.Error("failed to claim creation dedupe key", zap.Error(err))
		return nil, err
	}

	if !claimed {
		out, err := s.resumeExisting(ctx, key, adapter)
		if err != nil {
			return nil, err
		}
		if out != nil {
			log.Info("duplicate order creation suppressed",
				zap.String("order_id", out.OrderID),
			)
			return out, nil
		}
		// The bound order is settled or the binding lapsed; rebind the key
		// and create fresh.
		if err := s.guard.ReplaceCreate(ctx, key, orderID); err != nil {
			log.Error("failed to rebind creation dedupe key", zap.Error(err))
			return nil, err
		}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:        orderID,
		Provider:  in.Provider,
		Type:      in.Type,
		EntityID:  in.EntityID,
		UserID:    in.UserID,
		Amount:    in.Amount,
		Status:    StatusPending,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, o); err != nil {
		log.Error("failed to persist order", zap.Error(err), zap.String("order_id", orderID))
		return nil, err
	}

	url, err := s.generateURL(ctx, adapter, o)
	if err != nil {
		// Order stays PENDING; the caller retries URL generation through the
		// dedupe path without re-validating the entity.
		log.Error("provider url generation failed",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	log.Info("order created", zap.String("order_id", orderID))

	return &CreateOrderOutput{
		OrderID:    orderID,
		Provider:   o.Provider,
		Amount:     o.Amount,
		PaymentURL: url,
		Status:     o.Status,
	}, nil
}

// resumeExisting returns the pending order bound to the dedupe key, filling
// in its payment URL if an earlier provider failure left it empty. A nil
// output with nil error means the bound order is no longer pending (or the
// binding lapsed) and a fresh order may be created.
func (s *service) resumeExisting(ctx context.Context, key string, adapter provider.Adapter) (*CreateOrderOutput, error) {
	existingID, found, err := s.guard.LookupCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	existing, err := s.repo.GetByID(ctx, existingID)
	if errors.Is(err, ErrOrderNotFound) {
		// The claim winner holds the key but its order row is not visible
		// yet. Rebinding here would mint a second order for the same
		// purchase, so the loser backs off and retries.
		return nil, fmt.Errorf("%w: order creation already in progress", ErrConflict)
	}
	if err != nil {
		return nil, err
	}

	if existing.Status != StatusPending {
		return nil, nil
	}

	url := ""
	if existing.PaymentURL != nil {
		url = *existing.PaymentURL
	} else {
		url, err = s.generateURL(ctx, adapter, existing)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}

	return &CreateOrderOutput{
		OrderID:    existing.ID,
		Provider:   existing.Provider,
		Amount:     existing.Amount,
		PaymentURL: url,
		Status:     existing.Status,
	}, nil
}

func (s *service) generateURL(ctx context.Context, adapter provider.Adapter, o *Order) (string, error) {
	url, err := adapter.GenerateOrderURL(ctx, provider.OrderRequest{
		OrderID:  o.ID,
		Amount:   o.Amount,
		Type:     string(o.Type),
		EntityID: o.EntityID,
		Metadata: o.Metadata,
	})
	if err != nil {
		return "", err
	}

	if err := s.repo.SetPaymentURL(ctx, o.ID, url); err != nil {
		logger.FromCtx(ctx).Error("failed to save payment url",
			zap.Error(err),
			zap.String("order_id", o.ID),
		)
		return "", err
	}

	return url, nil
}

func (s *service) GetStatus(ctx context.Context, orderID string) (*Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

func (s *service) ListForUser(ctx context.Context, userID uint) ([]*Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) Cancel(ctx context.Context, orderID string, userID uint) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "Cancel"),
		zap.String("order_id", orderID),
		zap.Uint("user_id", userID),
	)

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.UserID != userID {
		return nil, ErrForbidden
	}

	switch {
	case o.Status == StatusCanceled:
		// cancelling a cancelled order matches the caller's intent
		return o, nil
	case o.Status.Terminal():
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}

	moved, err := s.repo.UpdateStatusIf(ctx, orderID, StatusCanceled, StatusPending, StatusAwaiting)
	if err != nil {
		log.Error("cancel transition failed", zap.Error(err))
		return nil, err
	}

	if !moved {
		// lost a race; the winner decided the final state
		o, err = s.repo.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status == StatusCanceled {
			return o, nil
		}
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}

	log.Info("order cancelled")
	return s.repo.GetByID(ctx, orderID)
}

// ApplyEvent applies an already-verified provider event to its order. Callers
// must run webhook verification and delivery dedupe before invoking it.
func (s *service) ApplyEvent(ctx context.Context, ev *provider.Event) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "ApplyEvent"),
		zap.String("provider", ev.Provider),
		zap.String("order_id", ev.ProviderOrderID),
		zap.String("provider_tx_id", ev.ProviderTxID),
		zap.String("kind", string(ev.Kind)),
		zap.Int64("amount", ev.Amount),
	)

	o, err := s.repo.GetByID(ctx, ev.ProviderOrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn("webhook event for unknown order")
		}
		return nil, err
	}

	if err := s.repo.IncrementAttempts(ctx, o.ID); err != nil {
		log.Error("failed to bump attempts", zap.Error(err))
	}

	if o.Status.Terminal() {
		// duplicate delivery after settlement; acknowledge, change nothing
		log.Info("event for terminal order ignored", zap.String("status", string(o.Status)))
		return o, nil
	}

	if ev.Amount != o.Amount {
		return s.failOnMismatch(ctx, log, o, ev)
	}

	if ev.ProviderTxID != "" && o.ProviderTxID == nil {
		if err := s.repo.SetProviderTx(ctx, o.ID, ev.ProviderTxID); err != nil {
			log.Error("failed to save provider tx id", zap.Error(err))
		}
	}

	switch ev.Kind {
	case provider.KindConfirmed:
		return s.transition(ctx, log, o, StatusAwaiting, StatusPending)
	case provider.KindCompleted:
		return s.complete(ctx, log, o)
	case provider.KindFailed:
		return s.transition(ctx, log, o, StatusFailed, StatusAwaiting)
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidArgument, ev.Kind)
	}
}

// failOnMismatch flips the order to FAILED with the audit reason. The event
// amount never silently wins; mismatches need manual reconciliation.
func (s *service) failOnMismatch(ctx context.Context, log *zap.Logger, o *Order, ev *provider.Event) (*Order, error) {
	log.Error("webhook amount does not match order amount",
		zap.Int64("order_amount", o.Amount),
	)

	// If the CAS loses, another writer already settled the order; the prior
	// terminal state stands either way.
	if _, err := s.repo.FailWithReason(ctx, o.ID, reasonAmountMismatch, StatusPending, StatusAwaiting); err != nil {
		return nil, err
	}

	if cur, err := s.repo.GetByID(ctx, o.ID); err == nil {
		o = cur
	}

	return o, ErrAmountMismatch
}

func (s *service) transition(ctx context.Context, log *zap.Logger, o *Order, to Status, from ...Status) (*Order, error) {
	moved, err := s.repo.UpdateStatusIf(ctx, o.ID, to, from...)
	if err != nil {
		log.Error("status transition failed", zap.Error(err), zap.String("to", string(to)))
		return nil, err
	}

	cur, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	if !moved && cur.Status != to {
		// a racing writer moved the order somewhere inconsistent with this event
		return cur, fmt.Errorf("%w: order is %s", ErrConflict, cur.Status)
	}

	log.Info("order transitioned", zap.String("status", string(cur.Status)))
	return cur, nil
}

func (s *service) complete(ctx context.Context, log *zap.Logger, o *Order) (*Order, error) {
	moved, err := s.repo.UpdateStatusIf(ctx, o.ID, StatusComplete, StatusAwaiting)
	if err != nil {
		log.Error("completion transition failed", zap.Error(err))
		return nil, err
	}

	cur, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	if !moved {
		if cur.Status == StatusComplete {
			// duplicate completion settled by another writer
			return cur, nil
		}
		return cur, fmt.Errorf("%w: order is %s", ErrConflict, cur.Status)
	}

	log.Info("order completed")

	// fire-and-forget: a lost notification never rolls back a payment
	if err := s.notifier.Notify(ctx, cur.UserID, cur.ID, "payment_completed"); err != nil {
		log.Warn("completion notification failed",
			zap.Error(err),
			zap.String("order_id", cur.ID),
		)
	}

	return cur, nil
}
