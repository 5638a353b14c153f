// Package repo implements the data persistence layer for the pipeline's
// entities, backed by GORM. This file provides repository functions for
// the append-only raw store.
//
// All functions are context-aware and accept a *gorm.DB handle, making
// them safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// The raw store never mutates or deletes existing rows; the only
// permitted updates are the quarantine and processed flags, which
// annotate a row without touching its payload or hash.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

// AppendRaw inserts a new RawNotice row. It always writes, even if the
// content is unchanged from the prior version for the logical key: the
// full fetch history is required for audit and for recovering from a bad
// normalisation run.
func AppendRaw(ctx context.Context, db *gorm.DB, source, logicalKey, contentHash string, payload map[string]interface{}, fetchedAt time.Time) (*domain.RawNotice, error) {
	n := &domain.RawNotice{
		ID:          uuid.NewString(),
		Source:      source,
		LogicalKey:  logicalKey,
		FetchedAt:   fetchedAt.UTC(),
		Payload:     datatypes.JSONMap(payload),
		ContentHash: contentHash,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// LastProcessedRaw returns the most recent RawNotice for a logical key
// that reached a terminal pipeline outcome. Rows still mid-pipeline,
// quarantined rows, and rows whose promotion failed are excluded, so
// the change detector compares against the last state that actually
// landed. Returns ErrNotFound when nothing for the key has been
// processed yet.
func LastProcessedRaw(ctx context.Context, db *gorm.DB, logicalKey string) (*domain.RawNotice, error) {
	var n domain.RawNotice
	err := db.WithContext(ctx).
		Where("logical_key = ? AND processed = ?", logicalKey, true).
		Order("fetched_at desc, created_at desc").
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkRawProcessed flags a raw row as having reached a terminal
// pipeline outcome: promoted, confirmed unchanged, or anomaly-logged.
func MarkRawProcessed(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.RawNotice{}).
		Where("id = ?", id).
		Update("processed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRaw fetches a raw row by id, or ErrNotFound. The change detector
// uses this to recover the content hash a release was originally
// promoted from.
func GetRaw(ctx context.Context, db *gorm.DB, id string) (*domain.RawNotice, error) {
	var n domain.RawNotice
	if err := db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// QuarantineRaw marks a raw row as quarantined with a reason. The
// payload and hash are untouched; the row is merely excluded from
// structured promotion pending manual handling.
func QuarantineRaw(ctx context.Context, db *gorm.DB, id, reason string) error {
	res := db.WithContext(ctx).
		Model(&domain.RawNotice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"quarantined": true, "quarantine_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListQuarantined returns a page of quarantined raw rows, newest first,
// for the operational review surface.
func ListQuarantined(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.RawNotice, error) {
	var out []domain.RawNotice
	err := db.WithContext(ctx).
		Where("quarantined = ?", true).
		Order("fetched_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountQuarantined returns the total number of quarantined raw rows.
func CountQuarantined(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.RawNotice{}).
		Where("quarantined = ?", true).
		Count(&total).Error
	return total, err
}
