package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("calls: not found")
	ErrAlreadyExists = errors.New("calls: already exists")
	// ErrStoreUnavailable marks failures caused by the backing store being unreachable.
	ErrStoreUnavailable = errors.New("calls: store unavailable")
	ErrInvalidArgument  = errors.New("calls: invalid argument")
)

// Repository is the persistence contract for call records.
//
// Mutators that target an existing record report found=false instead of an error
// when the call id is unknown.
type Repository interface {
	Create(ctx context.Context, c Call) error

	// UpsertStarted inserts c as a new record, or on an existing id only moves the
	// status to in-progress and refreshes updated_at. Phone and metadata stay untouched.
	UpsertStarted(ctx context.Context, c Call) (created bool, err error)

	MarkEnded(ctx context.Context, callID string, durationSeconds int, at time.Time) (found bool, err error)
	AppendTranscript(ctx context.Context, callID string, e TranscriptEntry, at time.Time) (found bool, err error)
	SetPaymentStatus(ctx context.Context, callID string, s PaymentStatus, at time.Time) (found bool, err error)

	Get(ctx context.Context, callID string) (Call, error)

	// ListRecent returns the newest calls first. limit is capped at MaxListLimit.
	ListRecent(ctx context.Context, limit int) ([]Call, error)
}

// PersistencePolicy decides what happens when a write fails because the store is unavailable.
type PersistencePolicy string

const (
	// PolicyFailOpen reports success with a warning that nothing was persisted.
	PolicyFailOpen PersistencePolicy = "fail_open"
	// PolicyFailClosed surfaces the store failure to the caller.
	PolicyFailClosed PersistencePolicy = "fail_closed"
)

func ParsePersistencePolicy(s string) (PersistencePolicy, error) {
	switch PersistencePolicy(s) {
	case PolicyFailOpen, PolicyFailClosed:
		return PersistencePolicy(s), nil
	case "":
		return PolicyFailOpen, nil
	default:
		return "", ErrInvalidArgument
	}
}

// Tolerates reports whether err may be absorbed under the policy.
func (p PersistencePolicy) Tolerates(err error) bool {
	return p == PolicyFailOpen && errors.Is(err, ErrStoreUnavailable)
}

// UnavailableRepo stands in for the store when it could not be reached at boot.
// Every method fails with ErrStoreUnavailable.
type UnavailableRepo struct{}

func (UnavailableRepo) Create(context.Context, Call) error { return ErrStoreUnavailable }

func (UnavailableRepo) UpsertStarted(context.Context, Call) (bool, error) {
	return false, ErrStoreUnavailable
}

func (UnavailableRepo) MarkEnded(context.Context, string, int, time.Time) (bool, error) {
	return false, ErrStoreUnavailable
}

func (UnavailableRepo) AppendTranscript(context.Context, string, TranscriptEntry, time.Time) (bool, error) {
	return false, ErrStoreUnavailable
}

func (UnavailableRepo) SetPaymentStatus(context.Context, string, PaymentStatus, time.Time) (bool, error) {
	return false, ErrStoreUnavailable
}

func (UnavailableRepo) Get(context.Context, string) (Call, error) {
	return Call{}, ErrStoreUnavailable
}

func (UnavailableRepo) ListRecent(context.Context, int) ([]Call, error) {
	return nil, ErrStoreUnavailable
}
