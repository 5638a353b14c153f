package repo

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestAutoMigrate_OCIDColumnName(t *testing.T) {
	db := newRepoDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	// Repository queries and conflict clauses address the column as
	// "ocid"; the migrated schema must expose it under that name on
	// every structured table.
	for _, table := range []string{
		"release_records", "compiled_records", "contract_awards",
		"change_events", "document_refs",
	} {
		var n int64
		if err := db.Table(table).Where("ocid = ?", "ocds-x").Count(&n).Error; err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("UNIQUE constraint failed: orgs.slug"), true},
		{errors.New("constraint failed: UNIQUE constraint failed (1555)"), true},
		{errors.New(`duplicate key value violates unique constraint "ux_org_kind_slug" (SQLSTATE 23505)`), true},
		{gorm.ErrDuplicatedKey, true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := isUniqueViolation(tc.err); got != tc.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
