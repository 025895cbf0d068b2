package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Batch updates rows of a claimed batch inside the claiming transaction.
type Batch interface {
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, retry int, next time.Time, lastErr string) error
}

// Store claims due events. The claim lasts while fn runs; other publishers skip the locked rows.
type Store interface {
	WithDueBatch(ctx context.Context, now time.Time, limit int, fn func(ctx context.Context, b Batch, events []Event) error) error
}

// Repository is the GORM Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithDueBatch selects PENDING or FAILED rows due at now, oldest first, FOR UPDATE SKIP LOCKED,
// and runs fn in the same transaction. An empty batch does not call fn.
func (r *Repository) WithDueBatch(ctx context.Context, now time.Time, limit int, fn func(ctx context.Context, b Batch, events []Event) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []Event
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND next_attempt_at <= ?", []Status{StatusPending, StatusFailed}, now).
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Find(&events).Error
		if err != nil {
			return errors.Wrap(err, "claim due outbox events")
		}
		if len(events) == 0 {
			return nil
		}
		return fn(ctx, gormBatch{tx: tx}, events)
	})
}

// FindByID is used by ops tooling and tests.
func (r *Repository) FindByID(ctx context.Context, id string) (*Event, error) {
	var e Event
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "find outbox event %s", id)
	}
	return &e, nil
}

type gormBatch struct {
	tx *gorm.DB
}

func (b gormBatch) MarkSent(ctx context.Context, id string) error {
	err := b.tx.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": StatusSent, "last_error": ""}).Error
	return errors.Wrapf(err, "mark outbox event %s sent", id)
}

func (b gormBatch) MarkFailed(ctx context.Context, id string, retry int, next time.Time, lastErr string) error {
	err := b.tx.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          StatusFailed,
			"retry_count":     retry,
			"next_attempt_at": next,
			"last_error":      truncate(lastErr, 2000),
		}).Error
	return errors.Wrapf(err, "mark outbox event %s failed", id)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
