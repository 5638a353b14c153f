// Package repo – release records, compiled records, and contract awards.
//
// ReleaseRecord rows are immutable: InsertRelease returns ErrDuplicate
// on a (ocid, release_id) collision instead of overwriting, and the
// caller decides whether the resend was a no-op or an anomaly.
// CompiledRecord rows are replaced wholesale per ocid. ContractAward
// rows are upserted in place on (ocid, award_id).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

// InsertRelease inserts an immutable ReleaseRecord row. Returns
// ErrDuplicate when a row with the same (ocid, release_id) already
// exists; the existing row is never modified.
func InsertRelease(ctx context.Context, db *gorm.DB, rec *domain.ReleaseRecord) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetRelease fetches a release by (ocid, release_id), or ErrNotFound.
func GetRelease(ctx context.Context, db *gorm.DB, ocid, releaseID string) (*domain.ReleaseRecord, error) {
	var r domain.ReleaseRecord
	err := db.WithContext(ctx).
		Where("ocid = ? AND release_id = ?", ocid, releaseID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReleases returns the ordered release history for an ocid, oldest
// first, which is the order CompiledRecord derivation walks.
func ListReleases(ctx context.Context, db *gorm.DB, ocid string) ([]domain.ReleaseRecord, error) {
	var out []domain.ReleaseRecord
	err := db.WithContext(ctx).
		Where("ocid = ?", ocid).
		Order("release_date asc, created_at asc").
		Find(&out).Error
	return out, err
}

// ReplaceCompiled upserts the CompiledRecord for its ocid, replacing the
// previous state wholesale. UpdatedAt is set here so it is monotonically
// non-decreasing per ocid.
func ReplaceCompiled(ctx context.Context, db *gorm.DB, rec *domain.CompiledRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ocid"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

// GetCompiled fetches the compiled record for an ocid, or ErrNotFound.
func GetCompiled(ctx context.Context, db *gorm.DB, ocid string) (*domain.CompiledRecord, error) {
	var c domain.CompiledRecord
	if err := db.WithContext(ctx).Where("ocid = ?", ocid).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCompiledByBuyer returns compiled records for a buyer whose
// publication date falls inside [from, to), newest first.
func ListCompiledByBuyer(ctx context.Context, db *gorm.DB, buyerID string, from, to time.Time, offset, limit int) ([]domain.CompiledRecord, error) {
	var out []domain.CompiledRecord
	err := db.WithContext(ctx).
		Where("buyer_id = ? AND publication_date >= ? AND publication_date < ?", buyerID, from, to).
		Order("publication_date desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountCompiledByBuyer returns the total for ListCompiledByBuyer paging.
func CountCompiledByBuyer(ctx context.Context, db *gorm.DB, buyerID string, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.CompiledRecord{}).
		Where("buyer_id = ? AND publication_date >= ? AND publication_date < ?", buyerID, from, to).
		Count(&total).Error
	return total, err
}

// UpsertAward inserts or updates a ContractAward on (ocid, award_id).
// Later releases may revise award fields, so awards are mutable.
func UpsertAward(ctx context.Context, db *gorm.DB, a *domain.ContractAward) error {
	a.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ocid"}, {Name: "award_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"supplier_id", "value_amount", "value_currency", "award_date",
				"start_date", "end_date", "extension_options", "status", "updated_at",
			}),
		}).
		Create(a).Error
}

// ListAwardsByOCID returns all awards for a contracting process.
func ListAwardsByOCID(ctx context.Context, db *gorm.DB, ocid string) ([]domain.ContractAward, error) {
	var out []domain.ContractAward
	err := db.WithContext(ctx).
		Where("ocid = ?", ocid).
		Order("award_id asc").
		Find(&out).Error
	return out, err
}

// ListAwardsEndingBetween returns awards whose end date falls inside
// [from, to), ordered by end date ascending. This feeds the renewal
// radar: contracts ending soon are re-procurement opportunities.
func ListAwardsEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, offset, limit int) ([]domain.ContractAward, error) {
	var out []domain.ContractAward
	err := db.WithContext(ctx).
		Where("end_date >= ? AND end_date < ?", from, to).
		Order("end_date asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RepointAwards moves every award referencing fromSupplier to
// toSupplier. Used only by the administrative org merge.
func RepointAwards(ctx context.Context, db *gorm.DB, fromSupplier, toSupplier string) error {
	return db.WithContext(ctx).
		Model(&domain.ContractAward{}).
		Where("supplier_id = ?", fromSupplier).
		Update("supplier_id", toSupplier).Error
}
