// Package repo – job ledger: per-connector state, run locks, run rows.
//
// The run lock is a conditional update on the ConnectorState row: the
// acquire succeeds only when no owner is set or the previous owner's
// lease has expired. This keeps at most one active run per connector
// without any process-local state, so restarts and multiple schedulers
// are safe.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
)

// GetConnectorState returns the state row for a connector, creating an
// empty one on first use.
func GetConnectorState(ctx context.Context, db *gorm.DB, name string) (*domain.ConnectorState, error) {
	var st domain.ConnectorState
	err := db.WithContext(ctx).Where("connector_name = ?", name).First(&st).Error
	if err == nil {
		return &st, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	st = domain.ConnectorState{ConnectorName: name, UpdatedAt: time.Now().UTC()}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// AcquireRunLock attempts to take the run lock for a connector with a
// lease of ttl, owned by runID. Returns false when a live lock is held
// by another run. Expired leases are stolen, so a crashed run cannot
// block its connector forever.
func AcquireRunLock(ctx context.Context, db *gorm.DB, name, runID string, ttl time.Duration) (bool, error) {
	if _, err := GetConnectorState(ctx, db, name); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)
	res := db.WithContext(ctx).
		Model(&domain.ConnectorState{}).
		Where("connector_name = ? AND (lock_owner = '' OR lock_owner IS NULL OR lock_expires_at < ?)", name, now).
		Updates(map[string]interface{}{
			"lock_owner":      runID,
			"lock_expires_at": expires,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseRunLock releases the lock if still owned by runID. A lock
// stolen after lease expiry is left alone.
func ReleaseRunLock(ctx context.Context, db *gorm.DB, name, runID string) error {
	return db.WithContext(ctx).
		Model(&domain.ConnectorState{}).
		Where("connector_name = ? AND lock_owner = ?", name, runID).
		Updates(map[string]interface{}{
			"lock_owner":      "",
			"lock_expires_at": nil,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// CheckpointCursor persists the cursor for a connector. Only the run
// holding the lock may call this, and only after the page's records are
// durably written.
func CheckpointCursor(ctx context.Context, db *gorm.DB, name, runID, cursor string) error {
	res := db.WithContext(ctx).
		Model(&domain.ConnectorState{}).
		Where("connector_name = ? AND lock_owner = ?", name, runID).
		Updates(map[string]interface{}{"cursor": cursor, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateJobRun opens a JobRun row in RUNNING state.
func CreateJobRun(ctx context.Context, db *gorm.DB, run *domain.JobRun) error {
	run.Status = domain.RunRunning
	run.StartedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(run).Error
}

// FinishJobRun finalises a run row. JobRun rows are immutable once
// finished; this is the single transition that sets FinishedAt.
func FinishJobRun(ctx context.Context, db *gorm.DB, id string, status domain.RunStatus, cursorAfter string, seen, changed, errCount int, errDetail string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.JobRun{}).
		Where("id = ? AND finished_at IS NULL", id).
		Updates(map[string]interface{}{
			"status":          status,
			"finished_at":     now,
			"cursor_after":    cursorAfter,
			"records_seen":    seen,
			"records_changed": changed,
			"error_count":     errCount,
			"error_detail":    errDetail,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobRuns returns recent runs for a connector, newest first. An
// empty name lists runs across all connectors.
func ListJobRuns(ctx context.Context, db *gorm.DB, name string, limit int) ([]domain.JobRun, error) {
	var out []domain.JobRun
	q := db.WithContext(ctx).Order("started_at desc").Limit(limit)
	if name != "" {
		q = q.Where("connector_name = ?", name)
	}
	err := q.Find(&out).Error
	return out, err
}

// LatestSuccessfulRun returns the newest SUCCEEDED or PARTIAL run for a
// connector, used for the lag signal. Returns ErrNotFound when the
// connector has never completed a run.
func LatestSuccessfulRun(ctx context.Context, db *gorm.DB, name string) (*domain.JobRun, error) {
	var run domain.JobRun
	err := db.WithContext(ctx).
		Where("connector_name = ? AND status IN ?", name, []domain.RunStatus{domain.RunSucceeded, domain.RunPartial}).
		Order("started_at desc").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}
