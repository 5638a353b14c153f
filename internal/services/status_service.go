// Package services – StatusService
//
// StatusService reports pipeline health from the job ledger: recent runs
// per connector, the checkpointed cursor, and ingestion lag measured from
// the latest successful run. Lag is also published as a gauge so the
// freshness alert lives in the monitoring layer, not in application code.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/ingest"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

// ConnectorStatus is one connector's ledger summary.
type ConnectorStatus struct {
	Connector     string          `json:"connector"`
	Cursor        string          `json:"cursor"`
	LagSeconds    *float64        `json:"lag_seconds,omitempty"`
	LastSucceeded *time.Time      `json:"last_succeeded,omitempty"`
	RecentRuns    []domain.JobRun `json:"recent_runs"`
}

// StatusService summarises the job ledger.
type StatusService struct {
	DB         *gorm.DB
	Connectors []string

	// now is a clock seam for tests.
	now func() time.Time
}

// NewStatusService builds a StatusService for the configured connectors.
func NewStatusService(db *gorm.DB, connectors []string) *StatusService {
	return &StatusService{DB: db, Connectors: connectors, now: time.Now}
}

// Status returns the ledger summary for one connector and refreshes its
// lag gauge.
func (s *StatusService) Status(ctx context.Context, connector string) (*ConnectorStatus, error) {
	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "Status")
	span.SetAttributes(attribute.String("connector", connector))
	defer span.End()

	if !s.knows(connector) {
		return nil, ErrConnectorNotFound
	}

	state, err := repo.GetConnectorState(ctx, s.DB, connector)
	if err != nil {
		return nil, err
	}
	runs, err := repo.ListJobRuns(ctx, s.DB, connector, 10)
	if err != nil {
		return nil, err
	}

	st := &ConnectorStatus{
		Connector:  connector,
		Cursor:     state.Cursor,
		RecentRuns: runs,
	}

	last, err := repo.LatestSuccessfulRun(ctx, s.DB, connector)
	switch {
	case err == nil && last.FinishedAt != nil:
		lag := s.now().UTC().Sub(last.FinishedAt.UTC()).Seconds()
		st.LagSeconds = &lag
		st.LastSucceeded = last.FinishedAt
		ingest.SetConnectorLag(connector, lag)
	case errors.Is(err, repo.ErrNotFound):
		// no successful run yet; lag is undefined, not zero
	case err != nil:
		return nil, err
	}

	return st, nil
}

// StatusAll returns summaries for every configured connector.
func (s *StatusService) StatusAll(ctx context.Context) ([]ConnectorStatus, error) {
	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "StatusAll")
	defer span.End()

	out := make([]ConnectorStatus, 0, len(s.Connectors))
	for _, name := range s.Connectors {
		st, err := s.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *StatusService) knows(connector string) bool {
	for _, c := range s.Connectors {
		if c == connector {
			return true
		}
	}
	return false
}
