package reporting

import "time"

// CallsSummary aggregates the most recent calls (at most calls.MaxListLimit).
type CallsSummary struct {
	WindowSize int       `json:"window_size"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`

	TotalCalls      int `json:"total_calls"`
	InitiatedCalls  int `json:"initiated_calls"`
	RingingCalls    int `json:"ringing_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`

	PaidCalls           int `json:"paid_calls"`
	UnpaidCalls         int `json:"unpaid_calls"`
	PendingPaymentCalls int `json:"pending_payment_calls"`
	UnknownPaymentCalls int `json:"unknown_payment_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TranscriptEntries int `json:"transcript_entries"`

	// PaymentRate is paid / (paid + unpaid); zero when nothing was verified.
	PaymentRate float64 `json:"payment_rate"`
}

// CallbacksSummary aggregates the most recent callbacks.
type CallbacksSummary struct {
	TotalCallbacks int `json:"total_callbacks"`
	Scheduled      int `json:"scheduled"`
	Completed      int `json:"completed"`
	Cancelled      int `json:"cancelled"`
	Missed         int `json:"missed"`

	// Upcoming counts scheduled callbacks whose time has not passed yet.
	Upcoming int `json:"upcoming"`
}

type Summary struct {
	Calls     CallsSummary     `json:"calls"`
	Callbacks CallbacksSummary `json:"callbacks"`
}
