// Package domain – job ledger models.
package domain

import "time"

// RunStatus is the terminal (or in-flight) state of a connector run.
type RunStatus string

const (
	// RunRunning marks a run that is currently executing.
	RunRunning RunStatus = "RUNNING"
	// RunSucceeded marks a run in which every seen record was processed.
	RunSucceeded RunStatus = "SUCCEEDED"
	// RunPartial marks a run in which at least one record failed and at
	// least one succeeded. The run still checkpoints its cursor.
	RunPartial RunStatus = "PARTIAL"
	// RunFailed marks a run whose connector could not be reached after
	// exhausting retries. The cursor stays at the last checkpoint.
	RunFailed RunStatus = "FAILED"
	// RunSkipped marks a scheduled trigger that found a prior run of the
	// same connector still holding the run lock.
	RunSkipped RunStatus = "SKIPPED"
)

// JobRun is one row per connector execution, immutable once finished.
// The ID is a ULID so runs sort lexicographically by start time.
type JobRun struct {
	ID             string     `json:"id"              gorm:"type:char(26);primaryKey"`
	ConnectorName  string     `json:"connector_name"  gorm:"type:varchar(32);not null;index"`
	StartedAt      time.Time  `json:"started_at"      gorm:"not null;index"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CursorBefore   string     `json:"cursor_before"   gorm:"type:text"`
	CursorAfter    string     `json:"cursor_after"    gorm:"type:text"`
	Status         RunStatus  `json:"status"          gorm:"type:varchar(16);not null;index"`
	RecordsSeen    int        `json:"records_seen"    gorm:"not null;default:0"`
	RecordsChanged int        `json:"records_changed" gorm:"not null;default:0"`
	ErrorCount     int        `json:"error_count"     gorm:"not null;default:0"`
	ErrorDetail    string     `json:"error_detail,omitempty" gorm:"type:text"`
}

// TableName returns the database table name for JobRun.
func (JobRun) TableName() string { return "job_runs" }

/// ConnectorState is the single cross-run state record per connector:
// the checkpointed cursor plus the run lock. It is read and written only
// under the lock so restarts and overlapping schedules stay safe.
type ConnectorState struct {
	ConnectorName string     `json:"connector_name" gorm:"type:varchar(32);primaryKey"`
	Cursor        string     `json:"cursor"         gorm:"type:text"`
	LockOwner     string     `json:"lock_owner,omitempty"      gorm:"type:char(26)"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ConnectorState.
func (ConnectorState) TableName() string { return "connector_state" }
