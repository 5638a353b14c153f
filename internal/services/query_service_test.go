package services

import (
	"context"
	"errors"
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

func newServicesDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
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

func seedCompiled(t *testing.T, db *gorm.DB, buyerID string, published time.Time) string {
	t.Helper()
	ocid := "ocds-" + uuid.NewString()
	if err := repo.ReplaceCompiled(context.Background(), db, &domain.CompiledRecord{
		OCID: ocid, Tag: "tender", Title: "Notice", BuyerID: &buyerID,
		PublicationDate: published, DerivedFrom: []byte(`["R1"]`),
	}); err != nil {
		t.Fatalf("seed compiled: %v", err)
	}
	return ocid
}

func TestNoticesByBuyer_WindowValidationAndPaging(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	buyer := uuid.NewString()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedCompiled(t, db, buyer, base.AddDate(0, 0, i))
	}

	if _, _, err := svc.NoticesByBuyer(ctx, buyer, base, base, 1, 10); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("empty window: %v", err)
	}

	items, total, err := svc.NoticesByBuyer(ctx, buyer, base, base.AddDate(0, 0, 7), 1, 2)
	if err != nil {
		t.Fatalf("NoticesByBuyer: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}

	items, total, err = svc.NoticesByBuyer(ctx, uuid.NewString(), base, base.AddDate(0, 0, 7), 1, 2)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("unknown buyer: total=%d items=%v err=%v", total, items, err)
	}
}

func TestNotice_NotFound(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}

	if _, err := svc.Notice(context.Background(), "ocds-missing"); !errors.Is(err, ErrNoticeNotFound) {
		t.Fatalf("got %v, want ErrNoticeNotFound", err)
	}

	ocid := seedCompiled(t, db, uuid.NewString(), time.Now().UTC())
	rec, err := svc.Notice(context.Background(), ocid)
	if err != nil || rec.OCID != ocid {
		t.Fatalf("Notice: %+v err=%v", rec, err)
	}
}

func TestReleases_EmptyHistoryIsNotFound(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	if _, err := svc.Releases(ctx, "ocds-missing"); !errors.Is(err, ErrNoticeNotFound) {
		t.Fatalf("got %v, want ErrNoticeNotFound", err)
	}

	if err := repo.InsertRelease(ctx, db, &domain.ReleaseRecord{
		ID: uuid.NewString(), OCID: "ocds-1", ReleaseID: "R1",
		ReleaseDate: time.Now().UTC(), Tag: "tender", SourceRef: uuid.NewString(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	items, err := svc.Releases(ctx, "ocds-1")
	if err != nil || len(items) != 1 {
		t.Fatalf("Releases: %+v err=%v", items, err)
	}
}

func TestAwardsEnding_Window(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.AwardsEnding(ctx, now, now, 1, 10); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("empty window: %v", err)
	}

	end := now.AddDate(0, 1, 0)
	if err := repo.UpsertAward(ctx, db, &domain.ContractAward{
		ID: uuid.NewString(), OCID: "ocds-1", AwardID: "AW-1", EndDate: &end,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, err := svc.AwardsEnding(ctx, now, now.AddDate(0, 3, 0), 1, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("AwardsEnding: %+v err=%v", items, err)
	}
}

func TestOrg_DetailAndMergedPointer(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	org := &domain.Org{Kind: domain.OrgSupplier, CanonicalName: "Acme Care Ltd", Slug: "acme care ltd"}
	if err := repo.CreateOrg(ctx, db, org, "Acme Care Ltd", "acme care ltd"); err != nil {
		t.Fatalf("CreateOrg: %v", err)
	}
	if err := repo.AddIdentifier(ctx, db, org.ID, domain.OrgSupplier, "GB-COH", "01234567"); err != nil {
		t.Fatalf("AddIdentifier: %v", err)
	}

	detail, err := svc.Org(ctx, org.ID)
	if err != nil {
		t.Fatalf("Org: %v", err)
	}
	if detail.Org.ID != org.ID || len(detail.Aliases) != 1 || len(detail.Identifiers) != 1 {
		t.Fatalf("detail: %+v", detail)
	}

	if _, err := svc.Org(ctx, uuid.NewString()); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("unknown org: %v", err)
	}
}

func TestOrgs_KindWhitelist(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}

	if _, err := svc.Orgs(context.Background(), "committee"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("got %v, want ErrInvalidKind", err)
	}
	if _, err := svc.Orgs(context.Background(), "buyer"); err != nil {
		t.Fatalf("buyer kind: %v", err)
	}
}

func TestMerge_ValidationAndEffect(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	if err := svc.Merge(ctx, "committee", "a", "b"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("invalid kind: %v", err)
	}
	if err := svc.Merge(ctx, "buyer", uuid.NewString(), uuid.NewString()); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("unknown orgs: %v", err)
	}

	primary := &domain.Org{Kind: domain.OrgBuyer, CanonicalName: "Winner", Slug: "winner"}
	if err := repo.CreateOrg(ctx, db, primary, "Winner", "winner"); err != nil {
		t.Fatalf("create primary: %v", err)
	}
	secondary := &domain.Org{Kind: domain.OrgBuyer, CanonicalName: "Loser", Slug: "loser"}
	if err := repo.CreateOrg(ctx, db, secondary, "Loser", "loser"); err != nil {
		t.Fatalf("create secondary: %v", err)
	}

	if err := svc.Merge(ctx, "buyer", primary.ID, secondary.ID); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	detail, err := svc.Org(ctx, secondary.ID)
	if err != nil {
		t.Fatalf("Org after merge: %v", err)
	}
	if detail.Org.ID != primary.ID {
		t.Fatalf("merged id should resolve to the winner: %+v", detail.Org)
	}
}

func TestMergeCandidates_DefaultsToOpen(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	if err := repo.RecordMergeCandidate(ctx, db, domain.OrgBuyer, uuid.NewString(), uuid.NewString(), "X", 0.9, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, err := svc.MergeCandidates(ctx, "", 1, 10)
	if err != nil || len(items) != 1 || items[0].Status != "open" {
		t.Fatalf("candidates: %+v err=%v", items, err)
	}
	items, err = svc.MergeCandidates(ctx, "resolved", 1, 10)
	if err != nil || len(items) != 0 {
		t.Fatalf("resolved filter: %+v err=%v", items, err)
	}
}

func TestQuarantine_PagedWithTotal(t *testing.T) {
	db := newServicesDB(t)
	svc := &QueryService{DB: db}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		raw, err := repo.AppendRaw(ctx, db, "fts", fmt.Sprintf("ocds-%d", i), "h",
			map[string]interface{}{"i": float64(i)}, time.Now().UTC())
		if err != nil {
			t.Fatalf("seed raw: %v", err)
		}
		if err := repo.QuarantineRaw(ctx, db, raw.ID, "unsupported_schema_version"); err != nil {
			t.Fatalf("quarantine: %v", err)
		}
	}

	items, total, err := svc.Quarantine(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
}

func TestPageBounds(t *testing.T) {
	if off, lim := pageBounds(0, 0); off != 0 || lim != defaultPageSize {
		t.Fatalf("defaults: %d %d", off, lim)
	}
	if off, lim := pageBounds(3, 25); off != 50 || lim != 25 {
		t.Fatalf("page 3: %d %d", off, lim)
	}
}
