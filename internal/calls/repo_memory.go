package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository useful for tests and local runs.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}, clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	if c.CallID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.CallID]; ok {
		return ErrAlreadyExists
	}
	r.calls[c.CallID] = clone(c.withDefaults(r.clock().UTC()))
	return nil
}

func (r *MemoryRepo) UpsertStarted(ctx context.Context, c Call) (bool, error) {
	if c.CallID == "" {
		return false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.calls[c.CallID]
	if !ok {
		c.Status = CallStatusInProgress
		r.calls[c.CallID] = clone(c.withDefaults(r.clock().UTC()))
		return true, nil
	}
	existing.Status = CallStatusInProgress
	existing.UpdatedAt = c.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = r.clock().UTC()
	}
	r.calls[c.CallID] = existing
	return false, nil
}

func (r *MemoryRepo) MarkEnded(ctx context.Context, callID string, durationSeconds int, at time.Time) (bool, error) {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return r.mutate(callID, func(c *Call) {
		c.Status = CallStatusCompleted
		c.DurationSeconds = durationSeconds
		c.UpdatedAt = at
	})
}

func (r *MemoryRepo) AppendTranscript(ctx context.Context, callID string, e TranscriptEntry, at time.Time) (bool, error) {
	return r.mutate(callID, func(c *Call) {
		c.Transcript = append(c.Transcript, e)
		c.UpdatedAt = at
	})
}

func (r *MemoryRepo) SetPaymentStatus(ctx context.Context, callID string, s PaymentStatus, at time.Time) (bool, error) {
	return r.mutate(callID, func(c *Call) {
		c.PaymentStatus = s
		c.UpdatedAt = at
	})
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, limit int) ([]Call, error) {
	limit = clampLimit(limit)
	r.mu.Lock()
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, clone(c))
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID > out[j].CallID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored calls.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *MemoryRepo) mutate(callID string, fn func(c *Call)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return false, nil
	}
	fn(&c)
	r.calls[callID] = c
	return true, nil
}

func clone(c Call) Call {
	out := c
	out.Transcript = make([]TranscriptEntry, len(c.Transcript))
	copy(out.Transcript, c.Transcript)
	return out
}
