// Package domain – canonical organisation model.
//
// Buyers and suppliers share one canonical table distinguished by Kind:
// both are "organisations" with the same identity surface (names,
// external identifier schemes, addresses), and the identity resolver is
// shared between them. An organisation is created on the first
// unresolved sighting and never deleted; a manual merge tombstones the
// losing row by setting MergedInto.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// OrgKind discriminates buyers from suppliers in the canonical
// organisation tables.
type OrgKind string

const (
	// OrgBuyer is a contracting authority publishing notices.
	OrgBuyer OrgKind = "buyer"
	// OrgSupplier is an awarded economic operator.
	OrgSupplier OrgKind = "supplier"
)

// ResolutionMethod records how an observation was bound to a canonical
// organisation.
type ResolutionMethod string

const (
	// ResolveIdentifier is an exact match on a strong external
	// identifier (scheme + value). Highest confidence, always wins.
	ResolveIdentifier ResolutionMethod = "identifier"
	// ResolveAlias is a match on a previously recorded alias string
	// after case/punctuation normalisation.
	ResolveAlias ResolutionMethod = "alias"
	// ResolveFuzzy is a name+address similarity match above the
	// configured bind threshold.
	ResolveFuzzy ResolutionMethod = "fuzzy"
	// ResolveNew means no candidate scored high enough and a new
	// canonical organisation was created.
	ResolveNew ResolutionMethod = "new"
)

// Org is the canonical, deduplicated representation of a buyer or
// supplier. All observed name variants resolve to one Org via aliases.
//
// Fields:
//   - ID: UUID primary key.
//   - Kind: "buyer" or "supplier".
//   - CanonicalName: display name chosen at creation (first sighting).
//   - Slug: normalised name key, unique per kind.
//   - Locality/Region/Postcode/Country: best-known address fields.
//   - MergedInto: set by an administrative merge; resolution follows the
//     pointer so the losing row is a tombstone, never deleted.
type Org struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	Kind          OrgKind   `json:"kind"           gorm:"type:varchar(16);not null;check:kind IN ('buyer','supplier');uniqueIndex:ux_org_kind_slug,priority:1"`
	CanonicalName string    `json:"canonical_name" gorm:"type:text;not null"`
	Slug          string    `json:"slug"           gorm:"type:text;not null;uniqueIndex:ux_org_kind_slug,priority:2"`
	Locality      string    `json:"locality,omitempty"  gorm:"type:text"`
	Region        string    `json:"region,omitempty"    gorm:"type:varchar(64)"`
	Postcode      string    `json:"postcode,omitempty"  gorm:"type:varchar(16)"`
	Country       string    `json:"country,omitempty"   gorm:"type:varchar(64)"`
	MergedInto    *string   `json:"merged_into,omitempty" gorm:"type:char(36);index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Org.
func (Org) TableName() string { return "orgs" }

// OrgAlias is one observed name variant bound to a canonical
// organisation. NormAlias is unique per kind, which is what guarantees
// that no alias maps to two canonical entities at the same instant and
// what makes concurrent first-sightings collapse onto a single row.
type OrgAlias struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	OrgID     string    `json:"org_id"     gorm:"type:char(36);not null;index"`
	Kind      OrgKind   `json:"kind"       gorm:"type:varchar(16);not null;uniqueIndex:ux_alias_kind_norm,priority:1"`
	Alias     string    `json:"alias"      gorm:"type:text;not null"`
	NormAlias string    `json:"norm_alias" gorm:"type:text;not null;uniqueIndex:ux_alias_kind_norm,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for OrgAlias.
func (OrgAlias) TableName() string { return "org_aliases" }

// OrgIdentifier is a strong external identifier (e.g. scheme "GB-COH",
// a Companies House number) bound to a canonical organisation. Unique
// per (kind, scheme, value).
type OrgIdentifier struct {
	ID        string    `json:"id"     gorm:"type:char(36);primaryKey"`
	OrgID     string    `json:"org_id" gorm:"type:char(36);not null;index"`
	Kind      OrgKind   `json:"kind"   gorm:"type:varchar(16);not null;uniqueIndex:ux_ident_kind_scheme_value,priority:1"`
	Scheme    string    `json:"scheme" gorm:"type:varchar(32);not null;uniqueIndex:ux_ident_kind_scheme_value,priority:2"`
	Value     string    `json:"value"  gorm:"type:text;not null;uniqueIndex:ux_ident_kind_scheme_value,priority:3"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for OrgIdentifier.
func (OrgIdentifier) TableName() string { return "org_identifiers" }

// MergeCandidate records a tie between two existing canonical
// organisations at comparable confidence. Merging is irreversible, so
// candidates are deferred to an administrative decision and never acted
// on automatically.
type MergeCandidate struct {
	ID           string            `json:"id"            gorm:"type:char(36);primaryKey"`
	Kind         OrgKind           `json:"kind"          gorm:"type:varchar(16);not null"`
	PrimaryID    string            `json:"primary_id"    gorm:"type:char(36);not null;index"`
	SecondaryID  string            `json:"secondary_id"  gorm:"type:char(36);not null;index"`
	ObservedName string            `json:"observed_name" gorm:"type:text;not null"`
	Confidence   float64           `json:"confidence"    gorm:"not null"`
	Detail       datatypes.JSONMap `json:"detail,omitempty"`
	Status       string            `json:"status"        gorm:"type:varchar(16);not null;default:'open';index"`
	CreatedAt    time.Time         `json:"created_at"`
}

// TableName returns the database table name for MergeCandidate.
func (MergeCandidate) TableName() string { return "merge_candidates" }

// ResolutionLog is the audit trail of identity resolutions. Every
// resolution is recorded with its confidence score, including
// low-confidence ones, feeding the match-confidence distribution signal.
type ResolutionLog struct {
	ID           string           `json:"id"            gorm:"type:char(36);primaryKey"`
	Kind         OrgKind          `json:"kind"          gorm:"type:varchar(16);not null"`
	OrgID        string           `json:"org_id"        gorm:"type:char(36);not null;index"`
	ObservedName string           `json:"observed_name" gorm:"type:text;not null"`
	Method       ResolutionMethod `json:"method"        gorm:"type:varchar(16);not null;index"`
	Confidence   float64          `json:"confidence"    gorm:"not null"`
	CreatedAt    time.Time        `json:"created_at"    gorm:"index"`
}

// TableName returns the database table name for ResolutionLog.
func (ResolutionLog) TableName() string { return "resolution_log" }
