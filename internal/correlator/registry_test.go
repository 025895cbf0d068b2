package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eatcloud/internal/pkg/errs"
)

type reply struct {
	SagaID  string
	Success bool
}

func TestCallReturnsCompletedValue(t *testing.T) {
	r := NewRegistry[reply]("point-reservation")
	got, err := r.Call(context.Background(), "s1", time.Second, func(context.Context) error {
		go r.Complete("s1", reply{SagaID: "s1", Success: true})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Zero(t, r.Len())
}

func TestCallTimesOutAndRemovesEntry(t *testing.T) {
	r := NewRegistry[reply]("payment")
	for i := 0; i < 3; i++ {
		start := time.Now()
		_, err := r.Call(context.Background(), "s2", 2*time.Second, func(context.Context) error { return nil })
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrResourceTimeout))
		assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
		assert.Zero(t, r.Len(), "entry must be gone after timeout %d", i)
	}
	assert.False(t, r.Complete("s2", reply{}))
}

func TestCallSendFailureRemovesEntry(t *testing.T) {
	r := NewRegistry[reply]("payment")
	_, err := r.Call(context.Background(), "s3", time.Second, func(context.Context) error {
		return errors.New("broker down")
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, errs.ErrResourceTimeout))
	assert.Zero(t, r.Len())
}

func TestCallCancelledContext(t *testing.T) {
	r := NewRegistry[reply]("payment")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Call(ctx, "s4", time.Minute, func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, errs.ErrResourceTimeout))
	assert.Zero(t, r.Len())
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry[reply]("payment")
	_, err := r.Register("s5", time.Second)
	require.NoError(t, err)
	_, err = r.Register("s5", time.Second)
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestCompleteWithoutWaiter(t *testing.T) {
	r := NewRegistry[reply]("payment")
	assert.False(t, r.Complete("unknown", reply{}))
}

func TestSweepEvictsExpired(t *testing.T) {
	r := NewRegistry[reply]("payment")
	now := time.Now()
	r.now = func() time.Time { return now }
	_, _ = r.Register("old", time.Second)
	_, _ = r.Register("new", time.Hour)

	assert.Equal(t, 1, r.Sweep(now.Add(2*time.Second)))
	assert.Equal(t, 1, r.Len())
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	r := NewRegistry[reply]("payment")
	_, _ = r.Register("x", time.Nanosecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunJanitor(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
