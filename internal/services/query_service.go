// Package services – QueryService
//
// QueryService is the read side over the structured model: compiled
// notices by buyer and publication window, release histories, awards
// approaching their end date, the change feed, organisation lookups with
// their aliases and identifiers, and the quarantine queue.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

const defaultPageSize = 20

// QueryService serves read queries over the ingested data.
type QueryService struct {
	DB *gorm.DB
}

// OrgDetail bundles an organisation with its aliases and identifiers.
type OrgDetail struct {
	Org         domain.Org             `json:"org"`
	Aliases     []domain.OrgAlias      `json:"aliases"`
	Identifiers []domain.OrgIdentifier `json:"identifiers"`
}

// NoticesByBuyer returns compiled records for a buyer published inside
// [from, to), newest first, with the total for pagination.
func (s *QueryService) NoticesByBuyer(ctx context.Context, buyerID string, from, to time.Time, page, pageSize int) ([]domain.CompiledRecord, int64, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "NoticesByBuyer",
		trace.WithAttributes(
			attribute.String("buyer.id", buyerID),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	if !from.Before(to) {
		return nil, 0, ErrInvalidWindow
	}
	offset, limit := pageBounds(page, pageSize)

	total, err := repo.CountCompiledByBuyer(ctx, s.DB, buyerID, from, to)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CompiledRecord{}, 0, nil
	}
	items, err := repo.ListCompiledByBuyer(ctx, s.DB, buyerID, from, to, offset, limit)
	return items, total, err
}

// Notice returns the compiled record for one contracting process.
func (s *QueryService) Notice(ctx context.Context, ocid string) (*domain.CompiledRecord, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Notice",
		trace.WithAttributes(attribute.String("ocid", ocid)),
	)
	defer span.End()

	rec, err := repo.GetCompiled(ctx, s.DB, ocid)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoticeNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Releases returns the full ordered release history for a process.
func (s *QueryService) Releases(ctx context.Context, ocid string) ([]domain.ReleaseRecord, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Releases",
		trace.WithAttributes(attribute.String("ocid", ocid)),
	)
	defer span.End()

	items, err := repo.ListReleases(ctx, s.DB, ocid)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoticeNotFound
	}
	return items, nil
}

// Awards returns the awards recorded for a process.
func (s *QueryService) Awards(ctx context.Context, ocid string) ([]domain.ContractAward, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Awards",
		trace.WithAttributes(attribute.String("ocid", ocid)),
	)
	defer span.End()

	return repo.ListAwardsByOCID(ctx, s.DB, ocid)
}

// AwardsEnding lists awards whose contract end date falls inside
// [from, to), soonest first. This is the feed for spotting contracts
// coming up for renewal.
func (s *QueryService) AwardsEnding(ctx context.Context, from, to time.Time, page, pageSize int) ([]domain.ContractAward, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "AwardsEnding")
	defer span.End()

	if !from.Before(to) {
		return nil, ErrInvalidWindow
	}
	offset, limit := pageBounds(page, pageSize)
	return repo.ListAwardsEndingBetween(ctx, s.DB, from, to, offset, limit)
}

// ChangesSince returns the change feed from a timestamp, optionally
// filtered by logical key, ocid, buyer, or change kind.
func (s *QueryService) ChangesSince(ctx context.Context, since time.Time, f repo.ChangeFilter, page, pageSize int) ([]domain.ChangeEvent, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "ChangesSince",
		trace.WithAttributes(attribute.String("since", since.Format(time.RFC3339))),
	)
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	return repo.ListChangesSince(ctx, s.DB, since, f, offset, limit)
}

// Org returns one organisation with its aliases and identifiers. A
// merged-away id resolves to its surviving organisation.
func (s *QueryService) Org(ctx context.Context, id string) (*OrgDetail, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Org",
		trace.WithAttributes(attribute.String("org.id", id)),
	)
	defer span.End()

	org, err := repo.GetOrg(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	aliases, err := repo.ListAliases(ctx, s.DB, org.ID)
	if err != nil {
		return nil, err
	}
	idents, err := repo.ListIdentifiers(ctx, s.DB, org.ID)
	if err != nil {
		return nil, err
	}
	return &OrgDetail{Org: *org, Aliases: aliases, Identifiers: idents}, nil
}

// Orgs lists canonical organisations of one kind.
func (s *QueryService) Orgs(ctx context.Context, kind string) ([]domain.Org, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Orgs",
		trace.WithAttributes(attribute.String("org.kind", kind)),
	)
	defer span.End()

	k := domain.OrgKind(kind)
	if k != domain.OrgBuyer && k != domain.OrgSupplier {
		return nil, ErrInvalidKind
	}
	return repo.ListOrgsByKind(ctx, s.DB, k)
}

// MergeCandidates lists pending identity-merge reviews.
func (s *QueryService) MergeCandidates(ctx context.Context, status string, page, pageSize int) ([]domain.MergeCandidate, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "MergeCandidates")
	defer span.End()

	if status == "" {
		status = "open"
	}
	offset, limit := pageBounds(page, pageSize)
	return repo.ListMergeCandidates(ctx, s.DB, status, offset, limit)
}

// Merge applies a reviewed merge decision: the secondary organisation's
// aliases, identifiers, and references move to the primary.
func (s *QueryService) Merge(ctx context.Context, kind string, primaryID, secondaryID string) error {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Merge",
		trace.WithAttributes(
			attribute.String("org.primary", primaryID),
			attribute.String("org.secondary", secondaryID),
		),
	)
	defer span.End()

	k := domain.OrgKind(kind)
	if k != domain.OrgBuyer && k != domain.OrgSupplier {
		return ErrInvalidKind
	}
	err := repo.MergeOrgs(ctx, s.DB, k, primaryID, secondaryID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrOrgNotFound
	}
	return err
}

// Quarantine lists quarantined raw payloads with the queue total.
func (s *QueryService) Quarantine(ctx context.Context, page, pageSize int) ([]domain.RawNotice, int64, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Quarantine")
	defer span.End()

	total, err := repo.CountQuarantined(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	offset, limit := pageBounds(page, pageSize)
	items, err := repo.ListQuarantined(ctx, s.DB, offset, limit)
	return items, total, err
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return (page - 1) * pageSize, pageSize
}
