package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

func TestAppendRaw_AlwaysAppends(t *testing.T) {
	db := newRepoDB(t, &domain.RawNotice{})
	ctx := context.Background()
	doc := map[string]interface{}{"ocid": "ocds-1", "title": "x"}

	// Two fetches of identical content both land: the history is the
	// audit trail, dedup is the detector's job.
	for i := 0; i < 2; i++ {
		if _, err := AppendRaw(ctx, db, "fts", "ocds-1", "h1", doc, time.Now().UTC()); err != nil {
			t.Fatalf("AppendRaw: %v", err)
		}
	}

	var count int64
	if err := db.Model(&domain.RawNotice{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d rows, want 2", count)
	}
}

func TestLastProcessedRaw_SkipsRowsWithoutTerminalOutcome(t *testing.T) {
	db := newRepoDB(t, &domain.RawNotice{})
	ctx := context.Background()
	doc := map[string]interface{}{"ocid": "ocds-1"}

	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	first, err := AppendRaw(ctx, db, "fts", "ocds-1", "h1", doc, base)
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := MarkRawProcessed(ctx, db, first.ID); err != nil {
		t.Fatalf("MarkRawProcessed: %v", err)
	}
	// A newer fetch whose promotion never completed must not become
	// the comparison baseline.
	if _, err := AppendRaw(ctx, db, "fts", "ocds-1", "h2", doc, base.Add(time.Hour)); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	prev, err := LastProcessedRaw(ctx, db, "ocds-1")
	if err != nil {
		t.Fatalf("LastProcessedRaw: %v", err)
	}
	if prev.ID != first.ID || prev.ContentHash != "h1" {
		t.Fatalf("baseline: %+v", prev)
	}

	if _, err := LastProcessedRaw(ctx, db, "never-seen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key: %v", err)
	}
	if err := MarkRawProcessed(ctx, db, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestGetRaw(t *testing.T) {
	db := newRepoDB(t, &domain.RawNotice{})
	ctx := context.Background()

	raw, err := AppendRaw(ctx, db, "fts", "ocds-1", "h1", map[string]interface{}{"a": "b"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := GetRaw(ctx, db, raw.ID)
	if err != nil || got.ContentHash != "h1" {
		t.Fatalf("GetRaw: %+v err=%v", got, err)
	}
	if _, err := GetRaw(ctx, db, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestQuarantineRaw_AnnotatesWithoutTouchingPayload(t *testing.T) {
	db := newRepoDB(t, &domain.RawNotice{})
	ctx := context.Background()

	raw, err := AppendRaw(ctx, db, "fts", "ocds-1", "h1", map[string]interface{}{"a": "b"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := QuarantineRaw(ctx, db, raw.ID, "schema_drift: tender.title missing"); err != nil {
		t.Fatalf("QuarantineRaw: %v", err)
	}
	if err := QuarantineRaw(ctx, db, uuid.NewString(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}

	got, err := GetRaw(ctx, db, raw.ID)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if !got.Quarantined || got.QuarantineReason == "" {
		t.Fatalf("not quarantined: %+v", got)
	}
	if got.ContentHash != "h1" || got.Payload["a"] != "b" {
		t.Fatalf("payload touched: %+v", got)
	}

	items, err := ListQuarantined(ctx, db, 0, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListQuarantined: %+v err=%v", items, err)
	}
	total, err := CountQuarantined(ctx, db)
	if err != nil || total != 1 {
		t.Fatalf("CountQuarantined: %d err=%v", total, err)
	}
}
