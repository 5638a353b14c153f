// Package repo – the append-only change log.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

// AppendChange inserts one ChangeEvent row. The log is append-only;
// there is deliberately no update or delete function in this file.
func AppendChange(ctx context.Context, db *gorm.DB, ev *domain.ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ChangeFilter narrows ListChangesSince. Zero values mean "no filter".
type ChangeFilter struct {
	LogicalKey string
	OCID       string
	BuyerID    string
	Kind       domain.ChangeKind
}

// ListChangesSince returns change events detected at or after since,
// oldest first, optionally filtered. This is the canonical answer to
// "what changed since yesterday" for alerting consumers.
func ListChangesSince(ctx context.Context, db *gorm.DB, since time.Time, f ChangeFilter, offset, limit int) ([]domain.ChangeEvent, error) {
	var out []domain.ChangeEvent
	q := db.WithContext(ctx).
		Where("detected_at >= ?", since).
		Order("detected_at asc").
		Offset(offset).
		Limit(limit)
	if f.LogicalKey != "" {
		q = q.Where("logical_key = ?", f.LogicalKey)
	}
	if f.OCID != "" {
		q = q.Where("ocid = ?", f.OCID)
	}
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.Kind != "" {
		q = q.Where("change_kind = ?", f.Kind)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountChangesForKey returns how many events of a kind exist for a
// logical key. Used by invariant checks and tests.
func CountChangesForKey(ctx context.Context, db *gorm.DB, logicalKey string, kind domain.ChangeKind) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ChangeEvent{}).
		Where("logical_key = ? AND change_kind = ?", logicalKey, kind).
		Count(&total).Error
	return total, err
}
