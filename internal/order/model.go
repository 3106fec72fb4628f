package order

import (
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAwaiting Status = "AWAITING_CONFIRMATION"
	StatusComplete Status = "COMPLETED"
	StatusCanceled Status = "CANCELLED"
	StatusExpired  Status = "EXPIRED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether no transition may ever leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCanceled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

type OrderType string

const (
	TypeCourse       OrderType = "course"
	TypeEvent        OrderType = "event"
	TypeSubscription OrderType = "subscription"
)

func ValidOrderType(t OrderType) bool {
	switch t {
	case TypeCourse, TypeEvent, TypeSubscription:
		return true
	}
	return false
}

// Order is one payment attempt tracked through its full lifecycle.
// Rows are never deleted; terminal orders are kept for audit.
type Order struct {
	ID           string
	Provider     string
	Type         OrderType
	EntityID     string
	UserID       uint
	Amount       int64 // minor currency units
	Status       Status
	PaymentURL   *string
	ProviderTxID *string
	FailReason   *string
	Attempts     int
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
