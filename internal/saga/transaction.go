// Package saga holds the compensation stack of one in-flight saga.
package saga

import (
	"context"
	"fmt"
	"sync"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/metrics"
)

// Compensation undoes one completed step.
type Compensation func(ctx context.Context) error

type namedCompensation struct {
	name string
	fn   Compensation
}

// Transaction is a LIFO stack of named compensations. It lives in memory only.
type Transaction struct {
	ID string

	mu            sync.Mutex
	compensations []namedCompensation
	completed     bool
}

func New(id string) *Transaction {
	return &Transaction{ID: id}
}

// AddCompensation pushes an undo action. Safe for concurrent use.
func (t *Transaction) AddCompensation(name string, fn Compensation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compensations = append(t.compensations, namedCompensation{name: name, fn: fn})
}

// Complete marks the saga successful and drops the stack.
func (t *Transaction) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
	t.compensations = nil
}

func (t *Transaction) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Pending returns the number of compensations on the stack.
func (t *Transaction) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.compensations)
}

// Compensate pops and runs every compensation, newest first. A failing compensation
// does not stop the rest; failures are returned for the caller to report.
// The stack is consumed: a second call runs nothing.
func (t *Transaction) Compensate(ctx context.Context) []errs.CompensationFailure {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		logger.Ctx(ctx).Warn().Str("saga_id", t.ID).Msg("compensate called on a completed saga, ignoring")
		return nil
	}
	stack := t.compensations
	t.compensations = nil
	t.mu.Unlock()

	log := logger.Ctx(ctx)
	log.Info().Str("saga_id", t.ID).Int("steps", len(stack)).Msg("compensating saga")

	var failed []errs.CompensationFailure
	for i := len(stack) - 1; i >= 0; i-- {
		c := stack[i]
		if err := runCompensation(ctx, c.fn); err != nil {
			metrics.SagaCompensationFailures.Inc()
			log.Error().Err(err).
				Str("saga_id", t.ID).
				Str("compensation", c.name).
				Str("action", "MANUAL_INTERVENTION_REQUIRED").
				Msg("compensation failed")
			failed = append(failed, errs.CompensationFailure{Name: c.name, Err: err})
			continue
		}
		log.Info().Str("saga_id", t.ID).Str("compensation", c.name).Msg("compensation done")
	}
	return failed
}

// runCompensation turns a panicking compensation into a failure so the rest still run.
func runCompensation(ctx context.Context, fn Compensation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx)
}

type panicError struct{ value any }

func (p *panicError) Error() string { return "compensation panicked: " + fmt.Sprint(p.value) }
