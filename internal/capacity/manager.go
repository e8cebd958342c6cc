package capacity

import (
	"context"
	"fmt"
)

// Info reports a token's capacity at one admission decision.
// Available may go negative under reservation drift.
type Info struct {
	Max       uint64 `json:"max"`
	Current   uint64 `json:"current"`
	Pending   int64  `json:"pending"`
	Available int64  `json:"available"`
}

// ExceededError reports that a request wants more slots than remain.
type ExceededError struct {
	Info      Info
	Requested int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: requested %d, available %d", e.Requested, e.Info.Available)
}

// Manager combines the chain-backed caches with the KV reservation counter.
// Check and Reserve are deliberately not atomic: the pending counter is a
// soft reservation, over-admission is bounded by concurrent requests per
// token, and the facilitator enforces the hard bound.
type Manager struct {
	max     *MaxCountCache
	mint    *MintCountCache
	pending *PendingCounter
}

func NewManager(max *MaxCountCache, mint *MintCountCache, pending *PendingCounter) *Manager {
	return &Manager{max: max, mint: mint, pending: pending}
}

// Info reads the token's capacity counters without applying a threshold.
// Dependency failures surface as ReadError.
func (m *Manager) Info(ctx context.Context, token string) (Info, error) {
	max, err := m.max.Get(ctx, token)
	if err != nil {
		return Info{}, err
	}
	current, err := m.mint.Get(ctx, token)
	if err != nil {
		return Info{}, err
	}
	pending, err := m.pending.Get(ctx, token)
	if err != nil {
		return Info{}, &ReadError{Token: tokenKey(token), Call: "pendingCount", Err: err}
	}
	return Info{
		Max:       max,
		Current:   current,
		Pending:   pending,
		Available: int64(max) - int64(current) - pending,
	}, nil
}

// Check computes the token's capacity and fails with ExceededError when n
// slots do not fit.
func (m *Manager) Check(ctx context.Context, token string, n int64) (Info, error) {
	info, err := m.Info(ctx, token)
	if err != nil {
		return Info{}, err
	}
	if n > info.Available {
		return info, &ExceededError{Info: info, Requested: n}
	}
	return info, nil
}

// Reserve adds n pending slots for the token.
func (m *Manager) Reserve(ctx context.Context, token string, n int64) error {
	_, err := m.pending.Increment(ctx, token, n)
	return err
}

// Release returns n pending slots for the token.
func (m *Manager) Release(ctx context.Context, token string, n int64) error {
	return m.pending.Decrement(ctx, token, n)
}

// Pending reads the token's raw reservation counter.
func (m *Manager) Pending(ctx context.Context, token string) (int64, error) {
	return m.pending.Get(ctx, token)
}
