package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type localEntry struct {
	writer    string
	writerExp time.Time
	readers   map[string]time.Time
}

// Local is an in-process Backend for single-node runs and tests.
// Waiters poll at the retry interval, like the Redis backend.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	retry   time.Duration
	now     func() time.Time
}

func NewLocal(retry time.Duration) *Local {
	if retry <= 0 {
		retry = 5 * time.Millisecond
	}
	return &Local{entries: make(map[string]*localEntry), retry: retry, now: time.Now}
}

func (b *Local) Acquire(ctx context.Context, key string, mode Mode, lease time.Duration) (Lease, error) {
	token := uuid.NewString()
	for {
		if b.try(key, token, mode, lease) {
			return &localLease{b: b, key: key, token: token, mode: mode}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.retry):
		}
	}
}

func (b *Local) try(key, token string, mode Mode, lease time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	e := b.entries[key]
	if e == nil {
		e = &localEntry{readers: make(map[string]time.Time)}
		b.entries[key] = e
	}
	e.prune(now)

	if mode == Read {
		if e.writer != "" {
			return false
		}
		e.readers[token] = now.Add(lease)
		return true
	}
	if e.writer != "" || len(e.readers) > 0 {
		return false
	}
	e.writer, e.writerExp = token, now.Add(lease)
	return true
}

func (e *localEntry) prune(now time.Time) {
	if e.writer != "" && !now.Before(e.writerExp) {
		e.writer = ""
	}
	for t, exp := range e.readers {
		if !now.Before(exp) {
			delete(e.readers, t)
		}
	}
}

func (b *Local) release(key, token string, mode Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[key]
	if e == nil {
		return ErrNotHeld
	}
	e.prune(b.now())
	defer func() {
		if e.writer == "" && len(e.readers) == 0 {
			delete(b.entries, key)
		}
	}()

	if mode == Read {
		if _, ok := e.readers[token]; !ok {
			return ErrNotHeld
		}
		delete(e.readers, token)
		return nil
	}
	if e.writer != token {
		return ErrNotHeld
	}
	e.writer = ""
	return nil
}

type localLease struct {
	b     *Local
	key   string
	token string
	mode  Mode
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Release(context.Context) error { return l.b.release(l.key, l.token, l.mode) }
