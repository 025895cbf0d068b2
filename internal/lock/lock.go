// Package lock provides keyed distributed locks with bounded waits and leases.
package lock

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/metrics"
)

// ErrNotHeld is returned by Release when the lease expired or belongs to someone else.
var ErrNotHeld = errors.New("lock not held")

type Mode int

const (
	Exclusive Mode = iota
	Read
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "exclusive"
	}
}

// Lease is one successful acquisition.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Backend acquires locks. Acquire blocks until the lock is granted or ctx is done,
// in which case it returns ctx.Err(). The lock auto-expires after lease.
type Backend interface {
	Acquire(ctx context.Context, key string, mode Mode, lease time.Duration) (Lease, error)
}

// Manager bounds acquisition time and makes release warn-only.
type Manager struct {
	backend Backend
}

func NewManager(b Backend) *Manager {
	return &Manager{backend: b}
}

// Lock acquires key in mode, waiting at most wait. A timed out wait returns *errs.TimeoutError.
func (m *Manager) Lock(ctx context.Context, key string, mode Mode, wait, lease time.Duration) (Lease, error) {
	actx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return m.acquire(actx, key, mode, wait, lease)
}

func (m *Manager) acquire(ctx context.Context, key string, mode Mode, wait, lease time.Duration) (Lease, error) {
	l, err := m.backend.Acquire(ctx, key, mode, lease)
	if err == nil {
		metrics.LockAcquire.WithLabelValues(mode.String(), "acquired").Inc()
		return l, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.LockAcquire.WithLabelValues(mode.String(), "timeout").Inc()
		return nil, &errs.TimeoutError{Resource: "lock:" + key, Wait: wait, Cause: err}
	}
	metrics.LockAcquire.WithLabelValues(mode.String(), "error").Inc()
	return nil, errors.Wrapf(err, "acquire lock %s", key)
}

// Unlock releases l. Losing the lease is logged, never returned: the protected work has already run.
func (m *Manager) Unlock(ctx context.Context, l Lease) {
	if l == nil {
		return
	}
	err := l.Release(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, ErrNotHeld):
		logger.Ctx(ctx).Warn().Str("lock", l.Key()).Msg("lock was no longer held at release")
	default:
		logger.Ctx(ctx).Error().Err(err).Str("lock", l.Key()).Msg("release lock")
	}
}

func run[T any](ctx context.Context, m *Manager, key string, mode Mode, wait, lease time.Duration, fn func(context.Context) (T, error)) (T, error) {
	l, err := m.Lock(ctx, key, mode, wait, lease)
	if err != nil {
		var zero T
		return zero, err
	}
	defer m.Unlock(ctx, l)
	return fn(ctx)
}

// With runs fn while holding key exclusively.
func With[T any](ctx context.Context, m *Manager, key string, wait, lease time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return run(ctx, m, key, Exclusive, wait, lease, fn)
}

// WithRead runs fn under a shared lock on key.
func WithRead[T any](ctx context.Context, m *Manager, key string, wait, lease time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return run(ctx, m, key, Read, wait, lease, fn)
}

// WithWrite runs fn under the write side of key's read/write lock.
func WithWrite[T any](ctx context.Context, m *Manager, key string, wait, lease time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return run(ctx, m, key, Write, wait, lease, fn)
}

// WithMulti holds every key exclusively while fn runs. Keys are deduplicated and taken in
// sorted order under one shared wait deadline, so two callers never deadlock on overlapping sets.
func WithMulti[T any](ctx context.Context, m *Manager, keys []string, wait, lease time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ordered := dedupeSorted(keys)

	actx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	held := make([]Lease, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.Unlock(ctx, held[i])
		}
	}()
	for _, k := range ordered {
		l, err := m.acquire(actx, k, Exclusive, wait, lease)
		if err != nil {
			return zero, err
		}
		held = append(held, l)
	}
	return fn(ctx)
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
