package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

// scriptConnector serves canned pages so runs are deterministic.
type scriptConnector struct {
	name  string
	caps  Capabilities
	fetch func(ctx context.Context, cursor string) (Page, error)
}

func (c *scriptConnector) Name() string               { return c.name }
func (c *scriptConnector) Capabilities() Capabilities { return c.caps }
func (c *scriptConnector) Fetch(ctx context.Context, cursor string) (Page, error) {
	return c.fetch(ctx, cursor)
}

func newTestOrchestrator(t *testing.T, db *gorm.DB) *Orchestrator {
	t.Helper()
	cfg := OrchestratorConfig{
		MaxFetchAttempts: 2,
		BackoffInitial:   time.Millisecond,
		LockTTL:          time.Minute,
		Workers:          2,
	}
	return NewOrchestrator(db, cfg, NewNormaliser(), NewResolver(db, DefaultResolverConfig()), zerolog.Nop())
}

func releaseDoc(ocid, releaseID string, amount float64) map[string]interface{} {
	return map[string]interface{}{
		"ocid": ocid,
		"id":   releaseID,
		"date": "2026-01-05T10:00:00Z",
		"tag":  []interface{}{"tender"},
		"tender": map[string]interface{}{
			"title": "Grounds maintenance services",
			"value": map[string]interface{}{"amount": amount, "currency": "GBP"},
		},
		"buyer": map[string]interface{}{"name": "Leeds City Council"},
	}
}

func onePage(docs ...map[string]interface{}) Page {
	payloads := make([]RawPayload, 0, len(docs))
	for _, d := range docs {
		payloads = append(payloads, RawPayload{
			SourceType:    "fts",
			LogicalKey:    d["ocid"].(string),
			Document:      d,
			SchemaVersion: "1.1",
			FetchedAt:     time.Now().UTC(),
		})
	}
	return Page{Payloads: payloads, NextCursor: "next", Done: true}
}

func TestRun_NewThenRevisedRelease(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	conn := &scriptConnector{name: "fts", caps: Capabilities{SupportsIncrementalCursor: true}}

	// Run 1: first sighting.
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		return onePage(releaseDoc("ocds-1", "R1", 100000)), nil
	}
	res, err := o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if res.Status != domain.RunSucceeded || res.Seen != 1 || res.Changed != 1 || res.Errors != 0 {
		t.Fatalf("run 1 result: %+v", res)
	}

	newCount, err := repo.CountChangesForKey(ctx, db, "ocds-1", domain.ChangeNew)
	if err != nil || newCount != 1 {
		t.Fatalf("NEW events: %d err=%v", newCount, err)
	}

	state, err := repo.GetConnectorState(ctx, db, "fts")
	if err != nil || state.Cursor != "next" {
		t.Fatalf("cursor after run 1: %+v err=%v", state, err)
	}

	// Run 2: the process is revised with a higher value.
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		return onePage(releaseDoc("ocds-1", "R2", 150000)), nil
	}
	res, err = o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if res.Status != domain.RunSucceeded || res.Changed != 1 {
		t.Fatalf("run 2 result: %+v", res)
	}

	releases, err := repo.ListReleases(ctx, db, "ocds-1")
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("expected two immutable release rows, got %d", len(releases))
	}

	compiled, err := repo.GetCompiled(ctx, db, "ocds-1")
	if err != nil {
		t.Fatalf("GetCompiled: %v", err)
	}
	if compiled.ValueAmount == nil || *compiled.ValueAmount != 150000 {
		t.Fatalf("compiled value should reflect the latest release: %+v", compiled)
	}
	var derived []string
	if err := json.Unmarshal(compiled.DerivedFrom, &derived); err != nil || len(derived) != 2 {
		t.Fatalf("derived_from: %s err=%v", compiled.DerivedFrom, err)
	}
	if compiled.BuyerID == nil {
		t.Fatalf("buyer should be resolved on the compiled record")
	}

	matCount, err := repo.CountChangesForKey(ctx, db, "ocds-1", domain.ChangeMaterial)
	if err != nil || matCount != 1 {
		t.Fatalf("MATERIAL events: %d err=%v", matCount, err)
	}
	events, err := repo.ListChangesSince(ctx, db, time.Time{}, repo.ChangeFilter{Kind: domain.ChangeMaterial}, 0, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("change feed: %v err=%v", events, err)
	}
	if _, ok := events[0].ChangedFields["value"]; !ok {
		t.Fatalf("material event should carry the value diff: %v", events[0].ChangedFields)
	}
}

func TestRun_ReplayedPageIsUnchanged(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		return onePage(releaseDoc("ocds-1", "R1", 100000)), nil
	}

	if _, err := o.Run(ctx, conn, RunOptions{}); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	res, err := o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if res.Status != domain.RunSucceeded || res.Seen != 1 || res.Changed != 0 {
		t.Fatalf("replay result: %+v", res)
	}

	// The replay appended a raw row but produced no further events.
	var raws int64
	if err := db.Model(&domain.RawNotice{}).Where("logical_key = ?", "ocds-1").Count(&raws).Error; err != nil {
		t.Fatalf("count raw: %v", err)
	}
	if raws != 2 {
		t.Fatalf("raw store is append-only per fetch: got %d rows", raws)
	}
	var events int64
	if err := db.Model(&domain.ChangeEvent{}).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected only the original NEW event, got %d", events)
	}
}

func TestRun_FetchRetriesExhaustedFailsRun(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	attempts := 0
	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		attempts++
		return Page{}, &RetryableFetchError{Source: "fts", Err: errors.New("boom")}
	}

	res, err := o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunFailed {
		t.Fatalf("status: %s", res.Status)
	}
	if attempts != 2 {
		t.Fatalf("expected MaxFetchAttempts fetches, got %d", attempts)
	}

	state, err := repo.GetConnectorState(ctx, db, "fts")
	if err != nil || state.Cursor != "" {
		t.Fatalf("cursor must not advance on a failed run: %+v err=%v", state, err)
	}
}

func TestRun_MalformedPageStopsWithPartial(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)

	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		return Page{}, &MalformedSourceError{Source: "fts", Err: errors.New("not json")}
	}

	res, err := o.Run(context.Background(), conn, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunPartial || res.Errors != 1 {
		t.Fatalf("result: %+v", res)
	}
}

func TestRun_HeldLockSkipsTrigger(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	ok, err := repo.AcquireRunLock(ctx, db, "fts", "other-run", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		t.Fatal("fetch must not run while the lock is held")
		return Page{}, nil
	}

	res, err := o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunSkipped {
		t.Fatalf("status: %s", res.Status)
	}

	runs, err := repo.ListJobRuns(ctx, db, "fts", 10)
	if err != nil || len(runs) != 1 || runs[0].Status != domain.RunSkipped {
		t.Fatalf("ledger: %+v err=%v", runs, err)
	}
}

func TestRun_QuarantinesUnsupportedVersion(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	doc := releaseDoc("ocds-1", "R1", 100000)
	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		p := onePage(doc)
		p.Payloads[0].SchemaVersion = "9.9"
		return p, nil
	}

	res, err := o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunPartial || res.Errors != 1 {
		t.Fatalf("result: %+v", res)
	}

	quarantined, err := repo.ListQuarantined(ctx, db, 0, 10)
	if err != nil || len(quarantined) != 1 {
		t.Fatalf("quarantine queue: %v err=%v", quarantined, err)
	}
	// The raw row is kept; only the structured promotion is withheld.
	if quarantined[0].LogicalKey != "ocds-1" || quarantined[0].QuarantineReason == "" {
		t.Fatalf("quarantined row: %+v", quarantined[0])
	}

	// The cursor still advances: the page itself was readable.
	state, err := repo.GetConnectorState(ctx, db, "fts")
	if err != nil || state.Cursor != "next" {
		t.Fatalf("cursor: %+v err=%v", state, err)
	}
}

func TestRun_FailedPromotionRetriedOnRefetch(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		return onePage(releaseDoc("ocds-1", "R1", 100000)), nil
	}

	// Promotion cannot complete while the change log is unavailable.
	if err := db.Migrator().DropTable(&domain.ChangeEvent{}); err != nil {
		t.Fatalf("drop change_events: %v", err)
	}
	res, err := o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if res.Status != domain.RunPartial || res.Seen != 1 || res.Errors != 1 {
		t.Fatalf("run 1 result: %+v", res)
	}
	state, err := repo.GetConnectorState(ctx, db, "fts")
	if err != nil || state.Cursor != "" {
		t.Fatalf("cursor advanced past an unpromoted record: %+v err=%v", state, err)
	}

	// The outage clears and the connector serves the same content again.
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("restore schema: %v", err)
	}
	res, err = o.Run(ctx, conn, RunOptions{})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if res.Status != domain.RunSucceeded || res.Changed != 1 || res.Errors != 0 {
		t.Fatalf("refetch must re-enter the pipeline, not short-circuit: %+v", res)
	}

	releases, err := repo.ListReleases(ctx, db, "ocds-1")
	if err != nil || len(releases) != 1 {
		t.Fatalf("releases after retry: %d err=%v", len(releases), err)
	}
	newCount, err := repo.CountChangesForKey(ctx, db, "ocds-1", domain.ChangeNew)
	if err != nil || newCount != 1 {
		t.Fatalf("NEW events: %d err=%v", newCount, err)
	}
	state, err = repo.GetConnectorState(ctx, db, "fts")
	if err != nil || state.Cursor != "next" {
		t.Fatalf("cursor after recovery: %+v err=%v", state, err)
	}
}

func TestRun_QuarantinedContentReattemptedOnRefetch(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)
	ctx := context.Background()

	conn := &scriptConnector{name: "fts"}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) {
		p := onePage(releaseDoc("ocds-1", "R1", 100000))
		p.Payloads[0].SchemaVersion = "9.9"
		return p, nil
	}

	// Quarantine is a durable outcome: the cursor advances, but the
	// content is re-attempted on its next fetch rather than suppressed
	// as UNCHANGED, so a newly registered mapper can pick it up.
	for run := 1; run <= 2; run++ {
		res, err := o.Run(ctx, conn, RunOptions{})
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.Status != domain.RunPartial || res.Errors != 1 {
			t.Fatalf("run %d result: %+v", run, res)
		}
	}

	total, err := repo.CountQuarantined(ctx, db)
	if err != nil || total != 2 {
		t.Fatalf("quarantined rows: %d err=%v", total, err)
	}
	state, err := repo.GetConnectorState(ctx, db, "fts")
	if err != nil || state.Cursor != "next" {
		t.Fatalf("cursor: %+v err=%v", state, err)
	}
}

func TestRun_ResetCursorRequiresCapability(t *testing.T) {
	db := newIngestDB(t)
	o := newTestOrchestrator(t, db)

	conn := &scriptConnector{name: "fts", caps: Capabilities{SupportsFullResync: false}}
	conn.fetch = func(ctx context.Context, cursor string) (Page, error) { return Page{Done: true}, nil }

	if _, err := o.Run(context.Background(), conn, RunOptions{ResetCursor: true}); err == nil {
		t.Fatal("expected an error for resync on an incapable connector")
	}
}

func TestProcessKey_StripsAwardSuffix(t *testing.T) {
	if got := processKey("ocds-1/award/AW-1"); got != "ocds-1" {
		t.Fatalf("processKey: %q", got)
	}
	if got := processKey("ocds-1"); got != "ocds-1" {
		t.Fatalf("processKey: %q", got)
	}
}
