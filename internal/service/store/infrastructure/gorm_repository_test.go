package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/store/domain"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestStockReserveIsGuarded(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStockStore(db)
	store.now = func() time.Time { return time.Unix(0, 0) }

	mock.ExpectExec("UPDATE `inventory_stocks` SET `available`=available - \\?,`reserved`=reserved \\+ \\?,`updated_at`=\\?,`version`=version \\+ 1 WHERE sku = \\? AND available >= \\?").
		WithArgs(int64(2), int64(2), sqlmock.AnyArg(), "menu-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `inventory_stocks` SET .* WHERE sku = \\? AND available >= \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Reserve(context.Background(), "menu-1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(context.Background(), "menu-1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockReleaseAndConsumeGuardReserved(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStockStore(db)

	mock.ExpectExec("UPDATE `inventory_stocks` SET `available`=available \\+ \\?,`reserved`=reserved - \\?.* WHERE sku = \\? AND reserved >= \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `inventory_stocks` SET `reserved`=reserved - \\?.* WHERE sku = \\? AND reserved >= \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Release(context.Background(), "menu-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Consume(context.Background(), "menu-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockAdjustGuardsNegativeDelta(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE `inventory_stocks` SET `available`=available \\+ \\?.* WHERE sku = \\? AND \\(\\? >= 0 OR available >= \\?\\)").
		WithArgs(int64(-3), sqlmock.AnyArg(), "menu-1", int64(-3), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewGormStockStore(db).Adjust(context.Background(), "menu-1", -3)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationNotFoundMapsToSentinel(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM `inventory_reservations` WHERE order_line_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewGormReservationStore(db).FindByOrderLine(context.Background(), "l1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindExpiredQuery(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT \\* FROM `inventory_reservations` WHERE status = \\? AND expires_at <= \\? ORDER BY expires_at ASC LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "order_id", "order_line_id", "quantity", "status", "reason", "expires_at", "created_at"}).
			AddRow("r1", "menu-1", "o1", "l1", 2, "PENDING", "", now, now))

	got, err := NewGormReservationStore(db).FindExpired(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ReservationPending, got[0].Status)
	assert.Equal(t, int64(2), got[0].Quantity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectionSaveUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO `stock_projections` .* ON DUPLICATE KEY UPDATE `avail`=VALUES\\(`avail`\\),`reserved`=VALUES\\(`reserved`\\),`updated_at`=VALUES\\(`updated_at`\\)").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewGormProjectionStore(db).Save(context.Background(), &domain.Projection{SKU: "menu-1", Avail: 3})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryOrdering(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM `stock_event_log` WHERE sku = \\? ORDER BY created_at ASC,seq ASC").
		WithArgs("menu-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "event_id", "sku", "event_type", "quantity", "delta", "created_at"}).
			AddRow(1, "e1", "menu-1", outbox.TypeStockAdjusted, 0, 5, time.Now()).
			AddRow(2, "e2", "menu-1", outbox.TypeStockReserved, 2, 0, time.Now()))

	got, err := NewGormProjectionStore(db).History(context.Background(), "menu-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.Counts{Avail: 3, Reserved: 2}, domain.Fold(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `inventory_stocks`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	uow := NewUnitOfWork(db, outbox.NewAppender())
	err := uow.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Stocks().Reserve(ctx, "menu-1", 1); err != nil {
			return err
		}
		return errs.ErrAdjustFailed
	})
	assert.ErrorIs(t, err, errs.ErrAdjustFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}
