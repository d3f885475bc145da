package calls

import "time"

// Call is one voice-agent call and its transcript/status history.
//
// CallID is provider-assigned, or test_<unix-ms> for locally generated test calls.
// Transcript is append-only and kept in arrival order.
// Records are never deleted by this service.
type Call struct {
	CallID      string `json:"call_id" db:"call_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status        CallStatus    `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	// Duration is the call duration in seconds.
	DurationSeconds int `json:"duration" db:"duration"`

	Transcript []TranscriptEntry `json:"transcript" db:"transcript"`
	Metadata   Metadata          `json:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Metadata struct {
	CustomerID string `json:"customer_id"`
	Language   string `json:"language,omitempty"`
	RetryCount int    `json:"retry_count"`
	Direction  string `json:"direction,omitempty"`
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusInProgress, CallStatusCompleted, CallStatusFailed:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusUnknown PaymentStatus = "unknown"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusUnknown:
		return true
	default:
		return false
	}
}

const (
	// DefaultLanguage is used when the provider does not report one.
	DefaultLanguage = "hi"
	// UnknownPhoneNumber fills phone_number when a lifecycle event carries none.
	UnknownPhoneNumber = "unknown"

	// MaxListLimit caps dashboard listings.
	MaxListLimit = 100
)

// withDefaults fills zero-valued enum and collection fields.
func (c Call) withDefaults(now time.Time) Call {
	if c.Status == "" {
		c.Status = CallStatusInitiated
	}
	if c.PaymentStatus == "" {
		c.PaymentStatus = PaymentStatusUnknown
	}
	if c.DurationSeconds < 0 {
		c.DurationSeconds = 0
	}
	if c.Transcript == nil {
		c.Transcript = []TranscriptEntry{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
