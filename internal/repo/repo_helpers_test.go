package repo

import (
	"path/filepath"
	"testing"
)

// newTestStore opens a migrated SQLite file in a per-test temp dir. File
// databases are used instead of shared-cache memory so concurrent writers
// see SQLITE_BUSY (retried via busy_timeout) rather than SQLITE_LOCKED.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(db)
}
