package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tbourn/wa-blip-relay/internal/domain"
	"github.com/tbourn/wa-blip-relay/internal/repo"
)

// newStore opens a migrated SQLite file with one route, "pnid-1" → bot42.
func newStore(t *testing.T) *repo.Store {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := repo.NewStore(db)
	if err := st.ImportRoutes(context.Background(), []domain.BotRoute{{
		RoutingKey:    "pnid-1",
		BotID:         "bot42",
		UserDomain:    "tenant.domain",
		MetaAuthToken: "meta-token",
	}}); err != nil {
		t.Fatalf("ImportRoutes: %v", err)
	}
	return st
}
