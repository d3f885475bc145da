package callbacks

import (
	"context"
	"errors"
)

var (
	ErrAlreadyExists    = errors.New("callbacks: already exists")
	ErrStoreUnavailable = errors.New("callbacks: store unavailable")
	ErrInvalidArgument  = errors.New("callbacks: invalid argument")
)

type Repository interface {
	Create(ctx context.Context, cb Callback) error
	// ListRecent returns the newest callbacks first. limit is capped at MaxListLimit.
	ListRecent(ctx context.Context, limit int) ([]Callback, error)
}

// UnavailableRepo stands in for the store when it could not be reached at boot.
type UnavailableRepo struct{}

func (UnavailableRepo) Create(context.Context, Callback) error { return ErrStoreUnavailable }

func (UnavailableRepo) ListRecent(context.Context, int) ([]Callback, error) {
	return nil, ErrStoreUnavailable
}
