package callbacks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	callbacks map[string]Callback
	clock     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{callbacks: map[string]Callback{}, clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, cb Callback) error {
	if cb.CallbackID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[cb.CallbackID]; ok {
		return ErrAlreadyExists
	}
	r.callbacks[cb.CallbackID] = cb.withDefaults(r.clock().UTC())
	return nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, limit int) ([]Callback, error) {
	limit = clampLimit(limit)
	r.mu.Lock()
	out := make([]Callback, 0, len(r.callbacks))
	for _, cb := range r.callbacks {
		out = append(out, cb)
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallbackID > out[j].CallbackID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}
