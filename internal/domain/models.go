// Package domain defines the persistence models for the procurement
// ingestion pipeline: raw fetched payloads, versioned release records,
// compiled contracting-process state, contract awards, the change log,
// and the job ledger. These types are mapped with GORM and form the core
// data layer of the pipeline.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeKind classifies the outcome of comparing an incoming payload
// against the last known state for its logical key.
type ChangeKind string

const (
	// ChangeNew marks the first sighting of a logical key.
	ChangeNew ChangeKind = "NEW"
	// ChangeUnchanged marks a re-fetch whose canonical content hash is
	// identical to the previous one. Unchanged payloads short-circuit the
	// pipeline and produce no ChangeEvent.
	ChangeUnchanged ChangeKind = "UNCHANGED"
	// ChangeMaterial marks a content mutation that proceeds to
	// normalisation and is surfaced to downstream consumers.
	ChangeMaterial ChangeKind = "MATERIAL_CHANGE"
	// ChangeAnomaly marks a release that was previously stored and has
	// been resent with different content. Releases are immutable once
	// published, so this is flagged for review rather than overwritten.
	ChangeAnomaly ChangeKind = "ANOMALY"
)

// RawNotice is the append-only record of every fetched payload, with
// provenance and a canonical content hash. Rows are written on every
// fetch regardless of whether the content changed, and are never updated
// or deleted; a newer row for the same logical key supersedes the old one.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Source: connector name that produced the payload (e.g. "fts").
//   - LogicalKey: stable identifier of the real-world notice across
//     repeated fetches; indexed together with FetchedAt.
//   - FetchedAt: wall-clock time of the fetch (UTC).
//   - Payload: the document as received, stored as JSON.
//   - ContentHash: SHA-256 over the canonicalised serialisation of the
//     payload, so formatting noise hashes identically.
//   - Processed: set once the row reached a terminal pipeline outcome
//     (promoted, confirmed unchanged, or anomaly-logged). Quarantined
//     rows and rows whose promotion failed stay unprocessed, so a
//     refetch of the same content re-enters the pipeline instead of
//     short-circuiting as UNCHANGED.
//   - Quarantined / QuarantineReason: set when the payload could not be
//     promoted into structured tables (schema drift, unknown format).
//     The raw row itself is always retained.
type RawNotice struct {
	ID               string            `json:"id"                gorm:"type:char(36);primaryKey"`
	Source           string            `json:"source"            gorm:"type:varchar(32);not null;index"`
	LogicalKey       string            `json:"logical_key"       gorm:"type:text;not null;index:idx_raw_key_fetched,priority:1"`
	FetchedAt        time.Time         `json:"fetched_at"        gorm:"not null;index:idx_raw_key_fetched,priority:2"`
	Payload          datatypes.JSONMap `json:"payload"           gorm:"not null"`
	ContentHash      string            `json:"content_hash"      gorm:"type:char(64);not null;index"`
	Processed        bool              `json:"processed"         gorm:"not null;default:false;index"`
	Quarantined      bool              `json:"quarantined"       gorm:"not null;default:false;index"`
	QuarantineReason string            `json:"quarantine_reason,omitempty" gorm:"type:text"`
	CreatedAt        time.Time         `json:"created_at"`
}

// TableName returns the database table name for RawNotice.
func (RawNotice) TableName() string { return "raw_notices" }

// ReleaseRecord is one versioned event for a contracting process: a
// single OCDS release. Rows are immutable once inserted and unique on
// (ocid, release_id). A resend of the same release id with identical
// content is a no-op; a resend with different content is recorded as an
// anomaly, never overwritten.
type ReleaseRecord struct {
	ID                string            `json:"id"           gorm:"type:char(36);primaryKey"`
	OCID              string            `json:"ocid"         gorm:"column:ocid;type:text;not null;index;uniqueIndex:ux_release_ocid_rid,priority:1"`
	ReleaseID         string            `json:"release_id"   gorm:"type:text;not null;uniqueIndex:ux_release_ocid_rid,priority:2"`
	ReleaseDate       time.Time         `json:"release_date" gorm:"not null;index"`
	Tag               string            `json:"tag"          gorm:"type:varchar(32);not null"`
	Title             string            `json:"title"        gorm:"type:text"`
	Description       string            `json:"description"  gorm:"type:text"`
	BuyerID           *string           `json:"buyer_id,omitempty" gorm:"type:char(36);index"`
	DeadlineDate      *time.Time        `json:"deadline_date,omitempty"`
	ValueAmount       *float64          `json:"value_amount,omitempty"`
	ValueCurrency     string            `json:"value_currency" gorm:"type:char(3)"`
	ProcurementMethod string            `json:"procurement_method" gorm:"type:varchar(50)"`
	CPVCodes          datatypes.JSON    `json:"cpv_codes,omitempty"`
	Region            string            `json:"region"       gorm:"type:varchar(64)"`
	RegionRaw         string            `json:"region_raw"   gorm:"type:text"`
	Overflow          datatypes.JSONMap `json:"overflow,omitempty"`
	SourceRef         string            `json:"source_ref"   gorm:"type:char(36);not null;index"`
	CreatedAt         time.Time         `json:"created_at"`
}

// TableName returns the database table name for ReleaseRecord.
func (ReleaseRecord) TableName() string { return "release_records" }

// CompiledRecord is the current best-known state of a contracting
// process, derived from the ordered history of its releases. There is
// exactly one row per ocid and it is replaced wholesale each time a new
// release for the ocid is processed. UpdatedAt is monotonically
// non-decreasing per ocid.
type CompiledRecord struct {
	OCID              string         `json:"ocid"         gorm:"column:ocid;type:text;primaryKey"`
	Tag               string         `json:"tag"          gorm:"type:varchar(32);not null"`
	Title             string         `json:"title"        gorm:"type:text"`
	Description       string         `json:"description"  gorm:"type:text"`
	BuyerID           *string        `json:"buyer_id,omitempty" gorm:"type:char(36);index"`
	PublicationDate   time.Time      `json:"publication_date" gorm:"not null;index"`
	DeadlineDate      *time.Time     `json:"deadline_date,omitempty" gorm:"index"`
	ValueAmount       *float64       `json:"value_amount,omitempty"`
	ValueCurrency     string         `json:"value_currency" gorm:"type:char(3)"`
	ProcurementMethod string         `json:"procurement_method" gorm:"type:varchar(50)"`
	CPVCodes          datatypes.JSON `json:"cpv_codes,omitempty"`
	Region            string         `json:"region"       gorm:"type:varchar(64);index"`
	RegionRaw         string         `json:"region_raw"   gorm:"type:text"`
	DerivedFrom       datatypes.JSON `json:"derived_from" gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName returns the database table name for CompiledRecord.
func (CompiledRecord) TableName() string { return "compiled_records" }

// ContractAward is a single award within a contracting process, unique
// on (ocid, award_id). Unlike releases, awards are updated in place when
// a later release revises fields for the same ocid+award_id.
//
// SupplierID is nil while the supplier observation could not be resolved
// to a canonical organisation; a nil reference is the "unresolved"
// sentinel and is re-attempted on the next material change.
type ContractAward struct {
	ID               string     `json:"id"        gorm:"type:char(36);primaryKey"`
	OCID             string     `json:"ocid"      gorm:"column:ocid;type:text;not null;index;uniqueIndex:ux_award_ocid_aid,priority:1"`
	AwardID          string     `json:"award_id"  gorm:"type:text;not null;uniqueIndex:ux_award_ocid_aid,priority:2"`
	SupplierID       *string    `json:"supplier_id,omitempty" gorm:"type:char(36);index"`
	ValueAmount      *float64   `json:"value_amount,omitempty"`
	ValueCurrency    string     `json:"value_currency" gorm:"type:char(3)"`
	AwardDate        *time.Time `json:"award_date,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty" gorm:"index"`
	ExtensionOptions string     `json:"extension_options,omitempty" gorm:"type:text"`
	Status           string     `json:"status" gorm:"type:varchar(32)"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ContractAward.
func (ContractAward) TableName() string { return "contract_awards" }

// ChangeEvent is the append-only change log: one row per detected
// material change (or anomaly) for a logical key. The absence of rows
// between two timestamps implies no material change occurred. The
// ChangedFields map carries the field-level diff that downstream
// alerting consumers read, keyed by field name with old/new values.
type ChangeEvent struct {
	ID            string            `json:"id"             gorm:"type:char(36);primaryKey"`
	LogicalKey    string            `json:"logical_key"    gorm:"type:text;not null;index"`
	OCID          string            `json:"ocid"           gorm:"column:ocid;type:text;index"`
	BuyerID       *string           `json:"buyer_id,omitempty" gorm:"type:char(36);index"`
	PreviousHash  string            `json:"previous_hash"  gorm:"type:char(64)"`
	NewHash       string            `json:"new_hash"       gorm:"type:char(64);not null"`
	ChangeKind    ChangeKind        `json:"change_kind"    gorm:"type:varchar(20);not null;index"`
	ChangedFields datatypes.JSONMap `json:"changed_fields,omitempty"`
	DetectedAt    time.Time         `json:"detected_at"    gorm:"not null;index"`
}

// TableName returns the database table name for ChangeEvent.
func (ChangeEvent) TableName() string { return "change_events" }

// DocumentRef points at a large source attachment held in the external
// blob store. Only the reference is kept in the structured model; the
// pipeline never embeds binary payloads inline.
type DocumentRef struct {
	ID               string    `json:"id"          gorm:"type:char(36);primaryKey"`
	OCID             string    `json:"ocid"        gorm:"column:ocid;type:text;not null;index"`
	Title            string    `json:"title"       gorm:"type:text"`
	SourceURL        string    `json:"source_url"  gorm:"type:text;not null;uniqueIndex"`
	StorageURI       string    `json:"storage_uri" gorm:"type:text"`
	ContentHash      string    `json:"content_hash" gorm:"type:char(64)"`
	ExtractionStatus string    `json:"extraction_status" gorm:"type:varchar(20);not null;default:'pending'"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for DocumentRef.
func (DocumentRef) TableName() string { return "document_refs" }
