// Package repo – canonical organisations, aliases, identifiers, merge
// candidates, and the resolution audit log.
//
// The unique index on (kind, norm_alias) and on (kind, scheme, value)
// are what make concurrent first-sightings of the same organisation
// safe: the second inserter gets ErrDuplicate and re-resolves.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

// GetOrg fetches an organisation by id, following at most one
// MergedInto pointer so callers always land on the surviving canonical
// row. Returns ErrNotFound when the id is unknown.
func GetOrg(ctx context.Context, db *gorm.DB, id string) (*domain.Org, error) {
	var o domain.Org
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	if o.MergedInto != nil {
		var winner domain.Org
		if err := db.WithContext(ctx).Where("id = ?", *o.MergedInto).First(&winner).Error; err != nil {
			return nil, err
		}
		return &winner, nil
	}
	return &o, nil
}

// FindOrgByIdentifier resolves a strong external identifier to its
// canonical organisation, or ErrNotFound.
func FindOrgByIdentifier(ctx context.Context, db *gorm.DB, kind domain.OrgKind, scheme, value string) (*domain.Org, error) {
	var ident domain.OrgIdentifier
	err := db.WithContext(ctx).
		Where("kind = ? AND scheme = ? AND value = ?", kind, scheme, value).
		First(&ident).Error
	if err != nil {
		return nil, err
	}
	return GetOrg(ctx, db, ident.OrgID)
}

// FindOrgByAlias resolves a normalised alias string, or ErrNotFound.
func FindOrgByAlias(ctx context.Context, db *gorm.DB, kind domain.OrgKind, normAlias string) (*domain.Org, error) {
	var alias domain.OrgAlias
	err := db.WithContext(ctx).
		Where("kind = ? AND norm_alias = ?", kind, normAlias).
		First(&alias).Error
	if err != nil {
		return nil, err
	}
	return GetOrg(ctx, db, alias.OrgID)
}

// ListOrgsByKind returns all live (non-tombstoned) organisations of a
// kind. The fuzzy matcher scans these; the table is small enough for a
// linear pass and a candidate cache sits above this call.
func ListOrgsByKind(ctx context.Context, db *gorm.DB, kind domain.OrgKind) ([]domain.Org, error) {
	var out []domain.Org
	err := db.WithContext(ctx).
		Where("kind = ? AND merged_into IS NULL", kind).
		Find(&out).Error
	return out, err
}

// CreateOrg inserts a new canonical organisation together with its
// first alias in one transaction. Returns ErrDuplicate when either the
// slug or the alias already exists, which signals a lost check-then-
// insert race; the caller re-resolves instead of creating a twin.
func CreateOrg(ctx context.Context, db *gorm.DB, o *domain.Org, firstAlias, normAlias string) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		return tx.Create(&domain.OrgAlias{
			ID:        uuid.NewString(),
			OrgID:     o.ID,
			Kind:      o.Kind,
			Alias:     firstAlias,
			NormAlias: normAlias,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// AddAlias binds a new observed name variant to an existing
// organisation. Returns ErrDuplicate when the normalised alias is
// already bound (to this or any other org of the kind).
func AddAlias(ctx context.Context, db *gorm.DB, orgID string, kind domain.OrgKind, alias, normAlias string) error {
	err := db.WithContext(ctx).Create(&domain.OrgAlias{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Kind:      kind,
		Alias:     alias,
		NormAlias: normAlias,
		CreatedAt: time.Now().UTC(),
	}).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// AddIdentifier binds a strong external identifier to an organisation.
// Returns ErrDuplicate when (kind, scheme, value) is already bound.
func AddIdentifier(ctx context.Context, db *gorm.DB, orgID string, kind domain.OrgKind, scheme, value string) error {
	err := db.WithContext(ctx).Create(&domain.OrgIdentifier{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Kind:      kind,
		Scheme:    scheme,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ListAliases returns all alias rows for an organisation.
func ListAliases(ctx context.Context, db *gorm.DB, orgID string) ([]domain.OrgAlias, error) {
	var out []domain.OrgAlias
	err := db.WithContext(ctx).Where("org_id = ?", orgID).Order("created_at asc").Find(&out).Error
	return out, err
}

// ListIdentifiers returns all identifier rows for an organisation.
func ListIdentifiers(ctx context.Context, db *gorm.DB, orgID string) ([]domain.OrgIdentifier, error) {
	var out []domain.OrgIdentifier
	err := db.WithContext(ctx).Where("org_id = ?", orgID).Order("created_at asc").Find(&out).Error
	return out, err
}

// RecordMergeCandidate logs a tie between two canonical organisations
// for administrative review. Automatic merging is disallowed.
func RecordMergeCandidate(ctx context.Context, db *gorm.DB, kind domain.OrgKind, primaryID, secondaryID, observedName string, confidence float64, detail map[string]interface{}) error {
	return db.WithContext(ctx).Create(&domain.MergeCandidate{
		ID:           uuid.NewString(),
		Kind:         kind,
		PrimaryID:    primaryID,
		SecondaryID:  secondaryID,
		ObservedName: observedName,
		Confidence:   confidence,
		Detail:       datatypes.JSONMap(detail),
		Status:       "open",
		CreatedAt:    time.Now().UTC(),
	}).Error
}

// ListMergeCandidates returns merge candidates filtered by status,
// newest first.
func ListMergeCandidates(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.MergeCandidate, error) {
	var out []domain.MergeCandidate
	q := db.WithContext(ctx).Order("created_at desc").Offset(offset).Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&out).Error
	return out, err
}

// RecordResolution appends one row to the resolution audit log.
func RecordResolution(ctx context.Context, db *gorm.DB, kind domain.OrgKind, orgID, observedName string, method domain.ResolutionMethod, confidence float64) error {
	return db.WithContext(ctx).Create(&domain.ResolutionLog{
		ID:           uuid.NewString(),
		Kind:         kind,
		OrgID:        orgID,
		ObservedName: observedName,
		Method:       method,
		Confidence:   confidence,
		CreatedAt:    time.Now().UTC(),
	}).Error
}

// MergeOrgs performs the administrative merge of secondary into
// primary: aliases and identifiers move over, awards (or compiled
// buyer references) are re-pointed, and the secondary row is
// tombstoned via MergedInto. Alias and identifier uniqueness is keyed
// on (kind, value), never on org_id, so no statement here can hit a
// unique violation; that matters on Postgres, where a violation aborts
// the whole transaction.
func MergeOrgs(ctx context.Context, db *gorm.DB, kind domain.OrgKind, primaryID, secondaryID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var primary, secondary domain.Org
		if err := tx.Where("id = ? AND kind = ?", primaryID, kind).First(&primary).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ? AND kind = ?", secondaryID, kind).First(&secondary).Error; err != nil {
			return err
		}

		if err := tx.Model(&domain.OrgAlias{}).
			Where("org_id = ?", secondaryID).
			Update("org_id", primaryID).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.OrgIdentifier{}).
			Where("org_id = ?", secondaryID).
			Update("org_id", primaryID).Error; err != nil {
			return err
		}

		if kind == domain.OrgSupplier {
			if err := RepointAwards(ctx, tx, secondaryID, primaryID); err != nil {
				return err
			}
		} else {
			if err := tx.Model(&domain.CompiledRecord{}).
				Where("buyer_id = ?", secondaryID).
				Update("buyer_id", primaryID).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&domain.MergeCandidate{}).
			Where("(primary_id = ? AND secondary_id = ?) OR (primary_id = ? AND secondary_id = ?)",
				primaryID, secondaryID, secondaryID, primaryID).
			Update("status", "resolved").Error; err != nil {
			return err
		}

		return tx.Model(&domain.Org{}).
			Where("id = ?", secondaryID).
			Updates(map[string]interface{}{"merged_into": primaryID, "updated_at": time.Now().UTC()}).Error
	})
}
