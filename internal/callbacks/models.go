package callbacks

import "time"

// Callback is a customer request to be called back at a later time.
// It is created as scheduled and never transitioned by this service.
type Callback struct {
	CallbackID    string    `json:"callback_id" db:"callback_id"`
	CustomerID    string    `json:"customer_id" db:"customer_id"`
	PhoneNumber   string    `json:"phone_number" db:"phone_number"`
	ScheduledTime time.Time `json:"scheduled_time" db:"scheduled_time"`
	Reason        string    `json:"reason" db:"reason"`
	Status        Status    `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusMissed    Status = "missed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusMissed:
		return true
	default:
		return false
	}
}

const (
	// DefaultReason is recorded when the requester gives none.
	DefaultReason = "Customer requested callback"

	MaxListLimit = 100
)

func (cb Callback) withDefaults(now time.Time) Callback {
	if cb.Status == "" {
		cb.Status = StatusScheduled
	}
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = now
	}
	if cb.UpdatedAt.IsZero() {
		cb.UpdatedAt = cb.CreatedAt
	}
	return cb
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
