// Package repo – attachment references into the external blob store.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

// UpsertDocumentRef records (or refreshes) an attachment reference,
// keyed by its source URL. Re-ingesting the same release leaves the row
// untouched apart from UpdatedAt.
func UpsertDocumentRef(ctx context.Context, db *gorm.DB, d *domain.DocumentRef) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ExtractionStatus == "" {
		d.ExtractionStatus = "pending"
	}
	d.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_url"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "ocid", "updated_at"}),
		}).
		Create(d).Error
}

// MarkDocumentStored records where the blob store put the attachment
// and the hash of what was stored.
func MarkDocumentStored(ctx context.Context, db *gorm.DB, id, storageURI, contentHash, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.DocumentRef{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"storage_uri":       storageURI,
			"content_hash":      contentHash,
			"extraction_status": status,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingDocuments returns references whose bytes have not been
// pulled into the blob store yet, oldest first.
func ListPendingDocuments(ctx context.Context, db *gorm.DB, limit int) ([]domain.DocumentRef, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.DocumentRef
	err := db.WithContext(ctx).
		Where("extraction_status = ?", "pending").
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListDocumentsByOCID returns attachment references for a process.
func ListDocumentsByOCID(ctx context.Context, db *gorm.DB, ocid string) ([]domain.DocumentRef, error) {
	var out []domain.DocumentRef
	err := db.WithContext(ctx).Where("ocid = ?", ocid).Order("created_at asc").Find(&out).Error
	return out, err
}
