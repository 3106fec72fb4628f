package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrVerification means the webhook failed authentication. No state may be
// mutated on this error.
var ErrVerification = errors.New("webhook verification failed")

type EventKind string

const (
	KindConfirmed EventKind = "confirmed"
	KindCompleted EventKind = "completed"
	KindFailed    EventKind = "failed"
)

// Event is the common shape every provider callback is normalized into.
// The orchestrator never sees provider wire formats, only this.
type Event struct {
	Provider        string
	ProviderOrderID string // our order id as echoed back by the provider
	ProviderTxID    string // the provider's transaction identifier
	DeliveryID      string // unique per delivery, used for webhook dedupe
	Amount          int64  // minor currency units
	Kind            EventKind
}

// OrderRequest carries the order fields an adapter needs to build a payment
// URL. Kept free of the order package so adapters stay leaf components.
type OrderRequest struct {
	OrderID  string
	Amount   int64
	Type     string
	EntityID string
	Metadata map[string]string
}

type Adapter interface {
	Name() string
	GenerateOrderURL(ctx context.Context, req OrderRequest) (string, error)
	VerifyWebhook(r *http.Request, body []byte) (*Event, error)
}

// Registry maps a provider identifier to its adapter. Built once at startup
// and passed to the orchestrator; never mutated afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider: %s", name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
