// Package correlator matches asynchronous responses to the requests awaiting them.
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/metrics"
)

var ErrAlreadyPending = errors.New("correlation id already pending")

type waiter[T any] struct {
	ch       chan T
	deadline time.Time
}

// Registry holds the pending requests of one response kind, keyed by correlation id.
// Sender and listener share one Registry instance.
type Registry[T any] struct {
	kind    string
	mu      sync.Mutex
	pending map[string]*waiter[T]
	now     func() time.Time
}

func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, pending: make(map[string]*waiter[T]), now: time.Now}
}

func (r *Registry[T]) Kind() string { return r.kind }

// Register adds a pending entry that expires after timeout.
func (r *Registry[T]) Register(id string, timeout time.Duration) (<-chan T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return nil, errors.Wrapf(ErrAlreadyPending, "%s %s", r.kind, id)
	}
	w := &waiter[T]{ch: make(chan T, 1), deadline: r.now().Add(timeout)}
	r.pending[id] = w
	metrics.CorrelatorPending.WithLabelValues(r.kind).Set(float64(len(r.pending)))
	return w.ch, nil
}

// Complete delivers v to the waiter registered under id and removes the entry.
// It returns false when nothing is waiting, for a late or duplicate response.
func (r *Registry[T]) Complete(id string, v T) bool {
	r.mu.Lock()
	w, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
		metrics.CorrelatorPending.WithLabelValues(r.kind).Set(float64(len(r.pending)))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- v
	return true
}

// Remove drops the entry for id, if any.
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		delete(r.pending, id)
		metrics.CorrelatorPending.WithLabelValues(r.kind).Set(float64(len(r.pending)))
	}
}

// Call registers id, runs send and waits for the matching Complete. On timeout or
// cancellation the entry is removed and a *errs.TimeoutError is returned.
func (r *Registry[T]) Call(ctx context.Context, id string, timeout time.Duration, send func(ctx context.Context) error) (T, error) {
	var zero T
	ch, err := r.Register(id, timeout)
	if err != nil {
		return zero, err
	}
	if err := send(ctx); err != nil {
		r.Remove(id)
		return zero, errors.Wrapf(err, "send %s request", r.kind)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		r.Remove(id)
		metrics.CorrelatorTimeouts.WithLabelValues(r.kind).Inc()
		logger.Ctx(ctx).Warn().Str("kind", r.kind).Str("correlation_id", id).Dur("timeout", timeout).Msg("no response in time")
		return zero, &errs.TimeoutError{Resource: r.kind + " response " + id, Wait: timeout}
	case <-ctx.Done():
		r.Remove(id)
		metrics.CorrelatorTimeouts.WithLabelValues(r.kind).Inc()
		return zero, &errs.TimeoutError{Resource: r.kind + " response " + id, Wait: timeout, Cause: ctx.Err()}
	}
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Sweep evicts entries whose deadline passed and returns how many were removed.
// It backs up Call's own cleanup for waiters that were registered without Call.
func (r *Registry[T]) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, w := range r.pending {
		if now.After(w.deadline) {
			delete(r.pending, id)
			n++
		}
	}
	if n > 0 {
		metrics.CorrelatorPending.WithLabelValues(r.kind).Set(float64(len(r.pending)))
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry[T]) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				logger.Ctx(ctx).Warn().Str("kind", r.kind).Int("evicted", n).Msg("evicted expired correlation entries")
			}
		}
	}
}
