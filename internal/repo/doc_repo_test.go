package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

func TestUpsertDocumentRef_KeyedBySourceURL(t *testing.T) {
	db := newRepoDB(t, &domain.DocumentRef{})
	ctx := context.Background()

	d := &domain.DocumentRef{
		OCID:      "ocds-1",
		Title:     "Invitation to tender",
		SourceURL: "https://example.org/docs/itt.pdf",
		CreatedAt: time.Now().UTC(),
	}
	if err := UpsertDocumentRef(ctx, db, d); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if d.ID == "" || d.ExtractionStatus != "pending" {
		t.Fatalf("defaults: %+v", d)
	}

	// Re-ingesting the same release refreshes the title, nothing else.
	again := &domain.DocumentRef{
		OCID:      "ocds-1",
		Title:     "Invitation to tender (rev 2)",
		SourceURL: "https://example.org/docs/itt.pdf",
		CreatedAt: time.Now().UTC(),
	}
	if err := UpsertDocumentRef(ctx, db, again); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int64
	if err := db.Model(&domain.DocumentRef{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows, want 1", count)
	}
	var got domain.DocumentRef
	if err := db.First(&got, "source_url = ?", d.SourceURL).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Title != "Invitation to tender (rev 2)" {
		t.Fatalf("title not refreshed: %+v", got)
	}
}

func TestMarkDocumentStored(t *testing.T) {
	db := newRepoDB(t, &domain.DocumentRef{})
	ctx := context.Background()

	d := &domain.DocumentRef{OCID: "ocds-1", SourceURL: "https://example.org/a.pdf", CreatedAt: time.Now().UTC()}
	if err := UpsertDocumentRef(ctx, db, d); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := MarkDocumentStored(ctx, db, d.ID, "file:///data/docs/a.pdf", "deadbeef", "stored"); err != nil {
		t.Fatalf("MarkDocumentStored: %v", err)
	}
	if err := MarkDocumentStored(ctx, db, uuid.NewString(), "", "", "failed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}

	var got domain.DocumentRef
	if err := db.First(&got, "id = ?", d.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.StorageURI != "file:///data/docs/a.pdf" || got.ContentHash != "deadbeef" || got.ExtractionStatus != "stored" {
		t.Fatalf("stored ref: %+v", got)
	}
}

func TestListPendingDocuments_OldestFirstExcludingHandled(t *testing.T) {
	db := newRepoDB(t, &domain.DocumentRef{})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	mk := func(url string, created time.Time) *domain.DocumentRef {
		t.Helper()
		d := &domain.DocumentRef{OCID: "ocds-1", SourceURL: url, CreatedAt: created}
		if err := UpsertDocumentRef(ctx, db, d); err != nil {
			t.Fatalf("seed %s: %v", url, err)
		}
		return d
	}
	older := mk("https://example.org/1.pdf", base)
	newer := mk("https://example.org/2.pdf", base.Add(time.Hour))
	handled := mk("https://example.org/3.pdf", base.Add(2*time.Hour))
	if err := MarkDocumentStored(ctx, db, handled.ID, "file:///x", "h", "stored"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	pending, err := ListPendingDocuments(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListPendingDocuments: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != older.ID || pending[1].ID != newer.ID {
		t.Fatalf("pending queue: %+v", pending)
	}

	limited, err := ListPendingDocuments(ctx, db, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited: %+v err=%v", limited, err)
	}
}

func TestListDocumentsByOCID(t *testing.T) {
	db := newRepoDB(t, &domain.DocumentRef{})
	ctx := context.Background()

	for _, url := range []string{"https://example.org/1.pdf", "https://example.org/2.pdf"} {
		if err := UpsertDocumentRef(ctx, db, &domain.DocumentRef{OCID: "ocds-1", SourceURL: url, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := UpsertDocumentRef(ctx, db, &domain.DocumentRef{OCID: "ocds-2", SourceURL: "https://example.org/other.pdf", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	docs, err := ListDocumentsByOCID(ctx, db, "ocds-1")
	if err != nil || len(docs) != 2 {
		t.Fatalf("docs: %+v err=%v", docs, err)
	}
}
