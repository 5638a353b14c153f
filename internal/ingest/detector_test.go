package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

func newIngestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("ingest_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// appendProcessed seeds a fetch that completed the pipeline, which is
// what the detector classifies incoming payloads against.
func appendProcessed(t *testing.T, db *gorm.DB, key, hash string) *domain.RawNotice {
	t.Helper()
	raw, err := repo.AppendRaw(context.Background(), db, "fts", key, hash,
		map[string]interface{}{"h": hash}, time.Now().UTC())
	if err != nil {
		t.Fatalf("AppendRaw: %v", err)
	}
	if err := repo.MarkRawProcessed(context.Background(), db, raw.ID); err != nil {
		t.Fatalf("MarkRawProcessed: %v", err)
	}
	return raw
}

func TestClassify_FirstSightingIsNew(t *testing.T) {
	db := newIngestDB(t)
	d := NewDetector(db)

	// The incoming row is appended before classification and must not
	// be its own baseline.
	if _, err := repo.AppendRaw(context.Background(), db, "fts", "ocds-1", "h1",
		map[string]interface{}{"h": "h1"}, time.Now().UTC()); err != nil {
		t.Fatalf("AppendRaw: %v", err)
	}
	kind, prev, err := d.Classify(context.Background(), "ocds-1", "R1", "h1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != domain.ChangeNew || prev != "" {
		t.Fatalf("got kind=%s prev=%q", kind, prev)
	}
}

func TestClassify_FailedPredecessorDoesNotSuppressRetry(t *testing.T) {
	db := newIngestDB(t)
	d := NewDetector(db)

	// An earlier fetch of the same content never completed the
	// pipeline; the refetch must classify as NEW, not UNCHANGED.
	if _, err := repo.AppendRaw(context.Background(), db, "fts", "ocds-1", "h1",
		map[string]interface{}{"h": "h1"}, time.Now().UTC()); err != nil {
		t.Fatalf("AppendRaw: %v", err)
	}

	kind, prev, err := d.Classify(context.Background(), "ocds-1", "R1", "h1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != domain.ChangeNew || prev != "" {
		t.Fatalf("got kind=%s prev=%q", kind, prev)
	}
}

func TestClassify_IdenticalHashIsUnchanged(t *testing.T) {
	db := newIngestDB(t)
	d := NewDetector(db)

	appendProcessed(t, db, "ocds-1", "h1")

	kind, prev, err := d.Classify(context.Background(), "ocds-1", "R1", "h1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != domain.ChangeUnchanged || prev != "h1" {
		t.Fatalf("got kind=%s prev=%q", kind, prev)
	}
}

func TestClassify_NewReleaseForKnownKeyIsMaterial(t *testing.T) {
	db := newIngestDB(t)
	d := NewDetector(db)

	appendProcessed(t, db, "ocds-1", "h1")

	kind, prev, err := d.Classify(context.Background(), "ocds-1", "R2", "h2")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != domain.ChangeMaterial || prev != "h1" {
		t.Fatalf("got kind=%s prev=%q", kind, prev)
	}
}

func TestClassify_StoredReleaseResentWithNewContentIsAnomaly(t *testing.T) {
	db := newIngestDB(t)
	d := NewDetector(db)

	raw1 := appendProcessed(t, db, "ocds-1", "h1")
	if err := repo.InsertRelease(context.Background(), db, &domain.ReleaseRecord{
		ID:          uuid.NewString(),
		OCID:        "ocds-1",
		ReleaseID:   "R1",
		ReleaseDate: time.Now().UTC(),
		Tag:         "tender",
		SourceRef:   raw1.ID,
	}); err != nil {
		t.Fatalf("InsertRelease: %v", err)
	}

	kind, _, err := d.Classify(context.Background(), "ocds-1", "R1", "h2")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != domain.ChangeAnomaly {
		t.Fatalf("got kind=%s, want ANOMALY", kind)
	}
}

func TestClassify_VerbatimReplayOfStoredReleaseIsUnchanged(t *testing.T) {
	db := newIngestDB(t)
	d := NewDetector(db)

	// R1 promoted from h1, then a later fetch moved the key to h2.
	raw1 := appendProcessed(t, db, "ocds-1", "h1")
	if err := repo.InsertRelease(context.Background(), db, &domain.ReleaseRecord{
		ID:          uuid.NewString(),
		OCID:        "ocds-1",
		ReleaseID:   "R1",
		ReleaseDate: time.Now().UTC(),
		Tag:         "tender",
		SourceRef:   raw1.ID,
	}); err != nil {
		t.Fatalf("InsertRelease: %v", err)
	}
	appendProcessed(t, db, "ocds-1", "h2")

	// An out-of-order page replays R1 byte-for-byte.
	kind, _, err := d.Classify(context.Background(), "ocds-1", "R1", "h1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != domain.ChangeUnchanged {
		t.Fatalf("got kind=%s, want UNCHANGED", kind)
	}
}

func TestDiffFields_ValueChangeWithSignificance(t *testing.T) {
	prevVal := 100000.0
	nextVal := 150000.0
	prev := &domain.CompiledRecord{OCID: "ocds-1", ValueAmount: &prevVal, ValueCurrency: "GBP"}
	next := &ReleaseFields{ValueAmount: &nextVal, Currency: "GBP"}

	diff := DiffFields(prev, next)
	detail, ok := diff["value"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected value diff, got %v", diff)
	}
	if detail["old"] != prevVal || detail["new"] != nextVal {
		t.Fatalf("old/new: %v", detail)
	}
	if detail["diff_pct"] != 50.0 || detail["significant"] != true {
		t.Fatalf("significance: %v", detail)
	}
}

func TestDiffFields_SmallValueChangeNotSignificant(t *testing.T) {
	prevVal := 100000.0
	nextVal := 105000.0
	diff := DiffFields(
		&domain.CompiledRecord{ValueAmount: &prevVal},
		&ReleaseFields{ValueAmount: &nextVal},
	)
	detail := diff["value"].(map[string]interface{})
	if detail["significant"] != false || detail["diff_pct"] != 5.0 {
		t.Fatalf("detail: %v", detail)
	}
}

func TestDiffFields_DeadlineTagTitle(t *testing.T) {
	oldDL := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	newDL := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := &domain.CompiledRecord{Tag: "tender", Title: "Old title", DeadlineDate: &oldDL}
	next := &ReleaseFields{Tag: "tenderUpdate", Title: "New title", DeadlineDate: &newDL}

	diff := DiffFields(prev, next)
	for _, field := range []string{"deadline", "tag", "title"} {
		if _, ok := diff[field]; !ok {
			t.Errorf("expected %s in diff, got %v", field, diff)
		}
	}
	if _, ok := diff["value"]; ok {
		t.Fatalf("no value change expected: %v", diff)
	}
}

func TestDiffFields_NilPreviousDiffsEverythingAsNew(t *testing.T) {
	val := 50000.0
	dl := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	diff := DiffFields(nil, &ReleaseFields{ValueAmount: &val, DeadlineDate: &dl, Tag: "tender"})
	for _, field := range []string{"value", "deadline", "tag"} {
		d, ok := diff[field].(map[string]interface{})
		if !ok || d["old"] != nil {
			t.Errorf("field %s should diff against nil: %v", field, diff[field])
		}
	}
}
