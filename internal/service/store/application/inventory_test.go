package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eatcloud/internal/lock"
	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/store/domain"
	"eatcloud/internal/service/store/storetest"
)

func newInventory(t *testing.T) (*InventoryService, *storetest.DB) {
	t.Helper()
	db := storetest.New()
	svc := NewInventoryService(db, lock.NewManager(lock.NewLocal(time.Millisecond)), InventoryConfig{
		LockWait:       5 * time.Second,
		LockLease:      4 * time.Second,
		ReservationTTL: 10 * time.Minute,
	})
	return svc, db
}

func provision(t *testing.T, svc *InventoryService, sku string, qty int64) {
	t.Helper()
	require.NoError(t, svc.Provision(context.Background(), sku, qty))
}

func TestReserveConcurrentNeverOversells(t *testing.T) {
	svc, db := newInventory(t)
	const stock, buyers = 10, 40
	provision(t, svc, "menu-1", stock)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, shortage int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveCommand{
				OrderID: fmt.Sprintf("o-%d", i), OrderLineID: fmt.Sprintf("l-%d", i), SKU: "menu-1", Qty: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, errs.ErrInsufficientStock):
				shortage++
			}
		}(i)
	}
	wg.Wait()

	st := db.Stock("menu-1")
	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, shortage)
	assert.Equal(t, int64(stock), st.Available+st.Reserved)
	assert.Equal(t, int64(0), st.Available)
	assert.Len(t, db.Messages(outbox.TypeStockReserved), stock)
	assert.Len(t, db.Messages(outbox.TypeStockInsufficient), buyers-stock)
}

func TestReserveTwoBuyersForTheLastTwo(t *testing.T) {
	svc, db := newInventory(t)
	provision(t, svc, "menu-1", 2)

	errsCh := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveCommand{
				OrderID: fmt.Sprintf("o-%d", i), OrderLineID: fmt.Sprintf("l-%d", i), SKU: "menu-1", Qty: 2,
			})
			errsCh <- err
		}(i)
	}
	wg.Wait()
	close(errsCh)

	var failures []error
	for err := range errsCh {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], errs.ErrInsufficientStock)
	st := db.Stock("menu-1")
	assert.Equal(t, int64(0), st.Available)
	assert.Equal(t, int64(2), st.Reserved)
}

func TestReserveSameLineTwiceIsIdempotent(t *testing.T) {
	svc, db := newInventory(t)
	provision(t, svc, "menu-1", 5)
	cmd := ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2}

	first, err := svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)
	second, err := svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, db.Messages(outbox.TypeStockReserved), 1)
	st := db.Stock("menu-1")
	assert.Equal(t, int64(3), st.Available)
	assert.Equal(t, int64(2), st.Reserved)
}

func TestReserveRejectsBadInput(t *testing.T) {
	svc, _ := newInventory(t)
	_, err := svc.Reserve(context.Background(), ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 0})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestReserveUnknownSKUIsInsufficient(t *testing.T) {
	svc, db := newInventory(t)
	_, err := svc.Reserve(context.Background(), ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "ghost", Qty: 1})
	assert.ErrorIs(t, err, errs.ErrInsufficientStock)
	msgs := db.Messages(outbox.TypeStockInsufficient)
	require.Len(t, msgs, 1)
	assert.Equal(t, "OUT_OF_STOCK", msgs[0].Headers["reason"])
	assert.Equal(t, "o1", msgs[0].Headers["correlationId"])
}

func TestConfirmAndCancelOnTerminalAreNoops(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, "l1"))
	assert.Equal(t, domain.ReservationConfirmed, db.Reservation("l1").Status)
	after := db.Stock("menu-1")
	events := len(db.Messages(""))

	require.NoError(t, svc.Confirm(ctx, "l1"))
	require.NoError(t, svc.Cancel(ctx, "l1", "USER"))
	assert.Equal(t, after, db.Stock("menu-1"))
	assert.Len(t, db.Messages(""), events)
	assert.Equal(t, int64(3), after.Available)
	assert.Equal(t, int64(0), after.Reserved)

	// unknown lines
	assert.NoError(t, svc.Confirm(ctx, "nope"))
	assert.NoError(t, svc.Cancel(ctx, "nope", "USER"))
}

func TestCancelReleasesStock(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, "l1", "USER"))
	r := db.Reservation("l1")
	assert.Equal(t, domain.ReservationCanceled, r.Status)
	assert.Equal(t, "USER", r.Reason)
	st := db.Stock("menu-1")
	assert.Equal(t, int64(5), st.Available)
	assert.Equal(t, int64(0), st.Reserved)
	released := db.Messages(outbox.TypeStockReleased)
	require.Len(t, released, 1)
	assert.Equal(t, "USER", released[0].Payload.(outbox.StockReleased).Reason)
}

func TestConfirmUnderflowIsReported(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)

	st := db.Stock("menu-1")
	st.Reserved = 1
	db.SetStock(st)

	err = svc.Confirm(ctx, "l1")
	assert.ErrorIs(t, err, errs.ErrReservedUnderflow)
	assert.Equal(t, domain.ReservationPending, db.Reservation("l1").Status)
	assert.Empty(t, db.Messages(outbox.TypeStockCommitted))
}

func TestCancelAfterConfirmReturnsStock(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, "l1"))

	require.NoError(t, svc.CancelAfterConfirm(ctx, "l1", "REFUND"))
	assert.Equal(t, domain.ReservationReturned, db.Reservation("l1").Status)
	assert.Equal(t, int64(5), db.Stock("menu-1").Available)
	assert.Len(t, db.Messages(outbox.TypeStockReturned), 1)

	require.NoError(t, svc.CancelAfterConfirm(ctx, "l1", "REFUND"))
	assert.Len(t, db.Messages(outbox.TypeStockReturned), 1)
}

func TestCancelAfterConfirmOnPendingCancels(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)

	require.NoError(t, svc.CancelAfterConfirm(ctx, "l1", "REFUND"))
	assert.Equal(t, domain.ReservationCanceled, db.Reservation("l1").Status)
	assert.Len(t, db.Messages(outbox.TypeStockReleased), 1)
	assert.Empty(t, db.Messages(outbox.TypeStockReturned))
}

func TestAdjustGuardsAvailable(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 3)

	require.NoError(t, svc.Adjust(ctx, "menu-1", -3))
	assert.Equal(t, int64(0), db.Stock("menu-1").Available)

	err := svc.Adjust(ctx, "menu-1", -1)
	assert.ErrorIs(t, err, errs.ErrAdjustFailed)
	assert.Len(t, db.Messages(outbox.TypeStockAdjusted), 2)

	require.NoError(t, svc.Adjust(ctx, "menu-1", 7))
	assert.Equal(t, int64(7), db.Stock("menu-1").Available)
}

func TestProvisionTwiceFails(t *testing.T) {
	svc, db := newInventory(t)
	provision(t, svc, "menu-1", 3)
	err := svc.Provision(context.Background(), "menu-1", 3)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
	assert.Equal(t, int64(3), db.Stock("menu-1").Available)
}

func TestCancelOrderHandlesEveryLine(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	provision(t, svc, "menu-2", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 1})
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l2", SKU: "menu-2", Qty: 2})
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, "l2"))

	require.NoError(t, svc.CancelOrder(ctx, "o1", "ORDER_CANCELLED"))
	assert.Equal(t, domain.ReservationCanceled, db.Reservation("l1").Status)
	assert.Equal(t, domain.ReservationReturned, db.Reservation("l2").Status)
	assert.Equal(t, int64(5), db.Stock("menu-1").Available)
	assert.Equal(t, int64(5), db.Stock("menu-2").Available)
}

func TestLockTimeoutSurfaces(t *testing.T) {
	svc, _ := newInventory(t)
	svc.cfg.LockWait = 20 * time.Millisecond
	provision(t, svc, "menu-1", 1)

	held, err := svc.locks.Lock(context.Background(), "menu:menu-1", lock.Exclusive, time.Second, time.Minute)
	require.NoError(t, err)
	defer svc.locks.Unlock(context.Background(), held)

	_, err = svc.Reserve(context.Background(), ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 1})
	assert.ErrorIs(t, err, errs.ErrResourceTimeout)
}

func TestSweeperCancelsExpired(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, ReserveCommand{OrderID: "o2", OrderLineID: "l2", SKU: "menu-1", Qty: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, "l2"))

	sw := NewSweeper(db, svc, time.Second, 100)
	assert.Equal(t, 0, sw.SweepOnce(ctx))

	sw.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.Equal(t, 1, sw.SweepOnce(ctx))
	r := db.Reservation("l1")
	assert.Equal(t, domain.ReservationCanceled, r.Status)
	assert.Equal(t, ReasonTTLExpired, r.Reason)
	assert.Equal(t, domain.ReservationConfirmed, db.Reservation("l2").Status)
	assert.Equal(t, int64(4), db.Stock("menu-1").Available)

	assert.Equal(t, 0, sw.SweepOnce(ctx))
}

func TestSweeperRespectsBatch(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 10)
	for i := 0; i < 5; i++ {
		_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o", OrderLineID: fmt.Sprintf("l%d", i), SKU: "menu-1", Qty: 1})
		require.NoError(t, err)
	}
	sw := NewSweeper(db, svc, time.Second, 3)
	sw.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 3, sw.SweepOnce(ctx))
	assert.Equal(t, 2, sw.SweepOnce(ctx))
}

// A cancel that overtakes its order's creation finds nothing; the TTL sweep releases the
// lines reserved afterwards.
func TestCancelBeforeReserveIsReleasedByTTL(t *testing.T) {
	svc, db := newInventory(t)
	ctx := context.Background()
	provision(t, svc, "menu-1", 5)

	require.NoError(t, svc.CancelOrder(ctx, "o1", "SAGA_COMPENSATION"))
	_, err := svc.Reserve(ctx, ReserveCommand{OrderID: "o1", OrderLineID: "l1", SKU: "menu-1", Qty: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), db.Stock("menu-1").Available)

	sw := NewSweeper(db, svc, time.Second, 100)
	sw.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.Equal(t, 1, sw.SweepOnce(ctx))
	assert.Equal(t, int64(5), db.Stock("menu-1").Available)
	assert.Equal(t, int64(0), db.Stock("menu-1").Reserved)
}
