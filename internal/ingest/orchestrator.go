// Package ingest – the ingestion orchestrator.
//
// One run walks a connector's pages, sequences raw append, change
// detection, normalisation, and identity resolution per record, and
// checkpoints the cursor only after a page's records are durably
// written. Per-record failures that land in quarantine or the change
// log are counted and checkpointed past; a failure that leaves no
// durable trace stops the run before the checkpoint so the page is
// refetched. Only an unreachable connector (after exhausting retries)
// fails the run.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

// OrchestratorConfig bounds a run's retry and concurrency behaviour.
type OrchestratorConfig struct {
	// MaxFetchAttempts caps fetch retries per page before the run fails.
	MaxFetchAttempts int
	// BackoffInitial seeds the exponential backoff between retries.
	BackoffInitial time.Duration
	// LockTTL is the run-lock lease; it must exceed the longest
	// realistic page processing time or a slow run loses its lock.
	LockTTL time.Duration
	// Workers is the per-page record processing parallelism.
	Workers int
	// MaxPages bounds one run; 0 means run until the feed is drained.
	MaxPages int
}

// DefaultOrchestratorConfig returns production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxFetchAttempts: 4,
		BackoffInitial:   2 * time.Second,
		LockTTL:          30 * time.Minute,
		Workers:          4,
	}
}

// RunResult summarises one finished run.
type RunResult struct {
	RunID   string
	Status  domain.RunStatus
	Seen    int
	Changed int
	Errors  int
}

// Orchestrator schedules connector pages through the pipeline stages.
type Orchestrator struct {
	db         *gorm.DB
	cfg        OrchestratorConfig
	normaliser *Normaliser
	detector   *Detector
	resolver   *Resolver
	log        zerolog.Logger

	// keyLocks serialises writes per contracting process, striped by
	// key hash so the lock set stays fixed-size over the daemon's
	// lifetime. Change detection and compiled-record replacement are
	// not safe under concurrent mutation of the same ocid.
	keyLocks [64]sync.Mutex
}

// NewOrchestrator wires the pipeline stages over one database handle.
func NewOrchestrator(db *gorm.DB, cfg OrchestratorConfig, n *Normaliser, r *Resolver, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		db:         db,
		cfg:        cfg,
		normaliser: n,
		detector:   NewDetector(db),
		resolver:   r,
		log:        logger,
	}
}

// RunOptions alters a single run.
type RunOptions struct {
	// ResetCursor discards the checkpointed cursor and re-reads the
	// feed from its configured start. Only permitted for connectors
	// that support a full resync.
	ResetCursor bool
}

// Run executes one connector run end to end: lock, page loop, ledger.
// A trigger that finds the lock held is recorded as SKIPPED and
// returns without queueing.
func (o *Orchestrator) Run(ctx context.Context, c Connector, opts RunOptions) (RunResult, error) {
	runID := ulid.Make().String()
	lg := o.log.With().Str("connector", c.Name()).Str("run_id", runID).Logger()

	if opts.ResetCursor && !c.Capabilities().SupportsFullResync {
		return RunResult{}, fmt.Errorf("connector %s does not support full resync", c.Name())
	}

	ok, err := repo.AcquireRunLock(ctx, o.db, c.Name(), runID, o.cfg.LockTTL)
	if err != nil {
		return RunResult{}, err
	}
	if !ok {
		lg.Warn().Msg("run lock held by an active run; skipping trigger")
		now := time.Now().UTC()
		_ = o.db.WithContext(ctx).Create(&domain.JobRun{
			ID: runID, ConnectorName: c.Name(), StartedAt: now, FinishedAt: &now,
			Status: domain.RunSkipped,
		}).Error
		return RunResult{RunID: runID, Status: domain.RunSkipped}, nil
	}
	defer func() {
		if err := repo.ReleaseRunLock(context.WithoutCancel(ctx), o.db, c.Name(), runID); err != nil {
			lg.Error().Err(err).Msg("releasing run lock")
		}
	}()

	state, err := repo.GetConnectorState(ctx, o.db, c.Name())
	if err != nil {
		return RunResult{}, err
	}
	cursor := state.Cursor
	if opts.ResetCursor {
		cursor = ""
	}

	run := &domain.JobRun{ID: runID, ConnectorName: c.Name(), CursorBefore: cursor}
	if err := repo.CreateJobRun(ctx, o.db, run); err != nil {
		return RunResult{}, err
	}

	started := time.Now()
	res := o.pageLoop(ctx, c, runID, cursor, lg)
	runDuration.WithLabelValues(c.Name(), string(res.status)).Observe(time.Since(started).Seconds())

	if err := repo.FinishJobRun(context.WithoutCancel(ctx), o.db, runID, res.status, res.cursor, res.seen, res.changed, res.errs, res.detail); err != nil {
		lg.Error().Err(err).Msg("finalising job run")
	}
	lg.Info().
		Str("status", string(res.status)).
		Int("seen", res.seen).
		Int("changed", res.changed).
		Int("errors", res.errs).
		Msg("run finished")

	return RunResult{RunID: runID, Status: res.status, Seen: res.seen, Changed: res.changed, Errors: res.errs}, nil
}

type loopResult struct {
	status  domain.RunStatus
	cursor  string
	seen    int
	changed int
	errs    int
	detail  string
}

func (o *Orchestrator) pageLoop(ctx context.Context, c Connector, runID, cursor string, lg zerolog.Logger) loopResult {
	res := loopResult{cursor: cursor}
	pages := 0

	for {
		if o.cfg.MaxPages > 0 && pages >= o.cfg.MaxPages {
			break
		}

		page, err := o.fetchWithRetry(ctx, c, res.cursor)
		if err != nil {
			if IsMalformed(err) {
				// The page itself is garbage. Without its next cursor
				// there is nothing safe to advance past, so stop here;
				// the checkpoint stays at the last good page.
				lg.Error().Err(err).Msg("malformed page; stopping run")
				res.errs++
				res.status = domain.RunPartial
				res.detail = err.Error()
				return res
			}
			lg.Error().Err(err).Msg("fetch retries exhausted")
			res.errs++
			res.status = domain.RunFailed
			res.detail = err.Error()
			return res
		}
		pages++

		seen, changed, failed, unaccounted := o.processPage(ctx, c.Name(), page.Payloads, lg)
		res.seen += seen
		res.changed += changed
		res.errs += failed

		if unaccounted > 0 {
			// Some records left no durable trace (no quarantine row, no
			// change event). The cursor stays at the last good page so
			// they are refetched and re-attempted.
			lg.Error().Int("records", unaccounted).Msg("record failures without a durable outcome; stopping before checkpoint")
			res.status = domain.RunPartial
			res.detail = fmt.Sprintf("%d record(s) failed before reaching a durable outcome", unaccounted)
			return res
		}

		// Records are durably written; only now may the cursor move.
		if err := repo.CheckpointCursor(ctx, o.db, c.Name(), runID, page.NextCursor); err != nil {
			lg.Error().Err(err).Msg("checkpointing cursor")
			res.status = domain.RunFailed
			res.detail = "checkpoint failed: " + err.Error()
			return res
		}
		res.cursor = page.NextCursor

		if page.Done {
			break
		}
	}

	if res.errs > 0 {
		res.status = domain.RunPartial
	} else {
		res.status = domain.RunSucceeded
	}
	return res
}

// fetchWithRetry wraps Connector.Fetch in exponential backoff. Only
// *RetryableFetchError is retried; anything else is permanent.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, c Connector, cursor string) (Page, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.BackoffInitial

	return backoff.Retry(ctx, func() (Page, error) {
		page, err := c.Fetch(ctx, cursor)
		if err != nil && !IsRetryable(err) {
			return Page{}, backoff.Permanent(err)
		}
		return page, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(o.cfg.MaxFetchAttempts)))
}

// processPage runs a page's records through the pipeline with bounded
// parallelism. Writes for records sharing a contracting process are
// serialised via the keyed lock; disjoint processes proceed in
// parallel. Per-record failures are counted, never propagated; the
// unaccounted count covers failures with no durable outcome, which
// block the page's checkpoint.
func (o *Orchestrator) processPage(ctx context.Context, connector string, payloads []RawPayload, lg zerolog.Logger) (seen, changed, failed, unaccounted int) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, p := range payloads {
		p := p
		g.Go(func() error {
			unlock := o.lockKey(processKey(p.LogicalKey))
			defer unlock()

			kind, err := o.processRecord(gctx, connector, p)
			mu.Lock()
			defer mu.Unlock()
			seen++
			if err != nil {
				failed++
				if !isAccounted(err) {
					unaccounted++
				}
				lg.Warn().Err(err).Str("logical_key", p.LogicalKey).Msg("record failed")
				return nil
			}
			if kind == domain.ChangeNew || kind == domain.ChangeMaterial {
				changed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return seen, changed, failed, unaccounted
}

// processKey reduces a logical key to its contracting process, so an
// award payload and a release payload for the same ocid serialise.
func processKey(logicalKey string) string {
	if i := strings.Index(logicalKey, "/"); i > 0 {
		return logicalKey[:i]
	}
	return logicalKey
}

func (o *Orchestrator) lockKey(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	l := &o.keyLocks[h.Sum32()%uint32(len(o.keyLocks))]
	l.Lock()
	return l.Unlock
}

// processRecord sequences one payload: raw append, classification,
// normalisation, identity resolution, transactional structured upsert,
// change log. The raw append always happens, whatever fails later; the
// processed flag is set only when the row reaches a terminal outcome,
// so a quarantined or failed row is re-attempted on its next fetch.
func (o *Orchestrator) processRecord(ctx context.Context, connector string, p RawPayload) (domain.ChangeKind, error) {
	hash := ContentHash(p.Document)
	raw, err := repo.AppendRaw(ctx, o.db, connector, p.LogicalKey, hash, p.Document, p.FetchedAt)
	if err != nil {
		recordFailures.WithLabelValues(connector, "other").Inc()
		return "", err
	}

	releaseID := getString(p.Document, "id")
	if p.SourceType == "cf" {
		releaseID = getString(p.Document, "compiledRelease.id")
	}

	kind, prevHash, err := o.detector.Classify(ctx, p.LogicalKey, releaseID, hash)
	if err != nil {
		recordFailures.WithLabelValues(connector, "other").Inc()
		return "", err
	}
	recordsSeen.WithLabelValues(connector, string(kind)).Inc()

	switch kind {
	case domain.ChangeUnchanged:
		if err := repo.MarkRawProcessed(ctx, o.db, raw.ID); err != nil {
			recordFailures.WithLabelValues(connector, "other").Inc()
			return "", err
		}
		return kind, nil

	case domain.ChangeAnomaly:
		recordFailures.WithLabelValues(connector, "anomaly").Inc()
		err := repo.AppendChange(ctx, o.db, &domain.ChangeEvent{
			LogicalKey:   p.LogicalKey,
			OCID:         processKey(p.LogicalKey),
			PreviousHash: prevHash,
			NewHash:      hash,
			ChangeKind:   domain.ChangeAnomaly,
		})
		if err != nil {
			return "", err
		}
		if err := repo.MarkRawProcessed(ctx, o.db, raw.ID); err != nil {
			return "", err
		}
		return kind, &AnomalyError{OCID: processKey(p.LogicalKey), ReleaseID: releaseID}
	}

	norm, err := o.normaliser.Normalise(p)
	if err != nil {
		if reason := quarantineReason(err); reason != "" {
			quarantined.WithLabelValues(connector).Inc()
			if qerr := repo.QuarantineRaw(ctx, o.db, raw.ID, reason); qerr != nil {
				return "", qerr
			}
		}
		var drift *SchemaDriftError
		if errors.As(err, &drift) {
			recordFailures.WithLabelValues(connector, "schema_drift").Inc()
		} else {
			recordFailures.WithLabelValues(connector, "unsupported_version").Inc()
		}
		return "", err
	}

	if err := o.promote(ctx, p, raw, norm, kind, prevHash, hash); err != nil {
		recordFailures.WithLabelValues(connector, "other").Inc()
		return "", err
	}
	return kind, nil
}

// promote writes the structured form of one payload transactionally:
// resolved buyer, immutable release row, compiled record rebuild,
// award upserts with resolved suppliers, attachment refs, and the
// change event carrying the field-level diff.
func (o *Orchestrator) promote(ctx context.Context, p RawPayload, raw *domain.RawNotice, norm *Normalised, kind domain.ChangeKind, prevHash, newHash string) error {
	var prevCompiled *domain.CompiledRecord
	if c, err := repo.GetCompiled(ctx, o.db, norm.OCID); err == nil {
		prevCompiled = c
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	var buyerID *string
	if norm.Buyer != nil {
		r, err := o.resolver.Resolve(ctx, domain.OrgBuyer, norm.Buyer)
		if err != nil {
			return err
		}
		buyerID = &r.OrgID
	}

	supplierIDs := make([]*string, len(norm.Awards))
	for i, a := range norm.Awards {
		if a.Supplier == nil {
			continue
		}
		r, err := o.resolver.Resolve(ctx, domain.OrgSupplier, a.Supplier)
		if err != nil {
			// Unresolved supplier is a sentinel, not a record failure;
			// the award lands with a nil reference.
			o.log.Warn().Err(err).Str("ocid", norm.OCID).Msg("supplier resolution failed")
			continue
		}
		supplierIDs[i] = &r.OrgID
	}

	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if norm.Release != nil {
			rec := releaseRow(norm.Release, buyerID, raw.ID)
			if err := repo.InsertRelease(ctx, tx, rec); err != nil && !errors.Is(err, repo.ErrDuplicate) {
				return err
			}
			compiled, err := compileRecord(ctx, tx, norm.OCID)
			if err != nil {
				return err
			}
			if err := repo.ReplaceCompiled(ctx, tx, compiled); err != nil {
				return err
			}
		}

		for i, a := range norm.Awards {
			if a.AwardID == "" {
				continue
			}
			if err := repo.UpsertAward(ctx, tx, awardRow(norm.OCID, a, supplierIDs[i])); err != nil {
				return err
			}
		}

		for _, d := range norm.Documents {
			if err := repo.UpsertDocumentRef(ctx, tx, &domain.DocumentRef{
				OCID:      norm.OCID,
				Title:     d.Title,
				SourceURL: d.URL,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}

		ev := &domain.ChangeEvent{
			LogicalKey:   p.LogicalKey,
			OCID:         norm.OCID,
			BuyerID:      buyerID,
			PreviousHash: prevHash,
			NewHash:      newHash,
			ChangeKind:   kind,
		}
		if kind == domain.ChangeMaterial {
			ev.ChangedFields = datatypes.JSONMap(DiffFields(prevCompiled, norm.Release))
		}
		if err := repo.AppendChange(ctx, tx, ev); err != nil {
			return err
		}
		// Committed atomically with the structured rows: a rolled-back
		// promotion leaves the raw row unprocessed and retryable.
		return repo.MarkRawProcessed(ctx, tx, raw.ID)
	})
}

func releaseRow(f *ReleaseFields, buyerID *string, rawID string) *domain.ReleaseRecord {
	rec := &domain.ReleaseRecord{
		ID:                uuid.NewString(),
		OCID:              f.OCID,
		ReleaseID:         f.ReleaseID,
		ReleaseDate:       f.ReleaseDate,
		Tag:               f.Tag,
		Title:             f.Title,
		Description:       f.Description,
		BuyerID:           buyerID,
		DeadlineDate:      f.DeadlineDate,
		ValueAmount:       f.ValueAmount,
		ValueCurrency:     f.Currency,
		ProcurementMethod: f.Method,
		Region:            f.Region,
		RegionRaw:         f.RegionRaw,
		SourceRef:         rawID,
		CreatedAt:         time.Now().UTC(),
	}
	if len(f.CPVCodes) > 0 {
		rec.CPVCodes = mustJSON(f.CPVCodes)
	}
	if len(f.Overflow) > 0 {
		rec.Overflow = datatypes.JSONMap(f.Overflow)
	}
	return rec
}

func awardRow(ocid string, a AwardFields, supplierID *string) *domain.ContractAward {
	return &domain.ContractAward{
		ID:               uuid.NewString(),
		OCID:             ocid,
		AwardID:          a.AwardID,
		SupplierID:       supplierID,
		ValueAmount:      a.ValueAmount,
		ValueCurrency:    a.Currency,
		AwardDate:        a.AwardDate,
		StartDate:        a.StartDate,
		EndDate:          a.EndDate,
		ExtensionOptions: a.ExtensionOptions,
		Status:           a.Status,
		CreatedAt:        time.Now().UTC(),
	}
}

// compileRecord rebuilds the compiled state for an ocid from its
// ordered release history: the latest non-empty value per field wins,
// publication date is the earliest release date, and DerivedFrom lists
// the contributing release ids in order.
func compileRecord(ctx context.Context, db *gorm.DB, ocid string) (*domain.CompiledRecord, error) {
	releases, err := repo.ListReleases(ctx, db, ocid)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("no releases for %s", ocid)
	}

	c := &domain.CompiledRecord{
		OCID:            ocid,
		PublicationDate: releases[0].ReleaseDate,
	}
	derived := make([]string, 0, len(releases))
	for i := range releases {
		r := &releases[i]
		derived = append(derived, r.ReleaseID)
		if r.Tag != "" {
			c.Tag = r.Tag
		}
		if r.Title != "" {
			c.Title = r.Title
		}
		if r.Description != "" {
			c.Description = r.Description
		}
		if r.BuyerID != nil {
			c.BuyerID = r.BuyerID
		}
		if r.DeadlineDate != nil {
			c.DeadlineDate = r.DeadlineDate
		}
		if r.ValueAmount != nil {
			c.ValueAmount = r.ValueAmount
			c.ValueCurrency = r.ValueCurrency
		}
		if r.ProcurementMethod != "" {
			c.ProcurementMethod = r.ProcurementMethod
		}
		if r.Region != "" && r.Region != RegionUnclassified {
			c.Region = r.Region
			c.RegionRaw = r.RegionRaw
		}
		if len(r.CPVCodes) > 0 {
			c.CPVCodes = r.CPVCodes
		}
	}
	if c.Region == "" {
		c.Region = RegionUnclassified
	}
	c.DerivedFrom = mustJSON(derived)
	return c, nil
}

func mustJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}
