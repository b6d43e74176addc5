package domain

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "domain.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Credential{}, &BotRoute{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (Credential{}).TableName() != "credentials" {
		t.Fatalf("Credential.TableName() = %q", (Credential{}).TableName())
	}
	if (BotRoute{}).TableName() != "bot_routes" {
		t.Fatalf("BotRoute.TableName() = %q", (BotRoute{}).TableName())
	}
}

func TestMigrations_UniqueCredentialPerUserAndBot(t *testing.T) {
	db := newDomainDB(t)
	if !db.Migrator().HasIndex(&Credential{}, "ux_credential_user_bot") {
		t.Fatalf("expected unique index ux_credential_user_bot")
	}

	now := time.Now().UTC()
	first := &Credential{ID: "c1", UserID: "5511999998888", BotID: "bot42", Password: "pw-123456", Status: CredentialActive, LastInteractionAt: now}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}

	// Same user on another bot is a different credential.
	other := &Credential{ID: "c2", UserID: "5511999998888", BotID: "bot7", Password: "pw-abcdef", Status: CredentialActive, LastInteractionAt: now}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("create other bot: %v", err)
	}

	dup := &Credential{ID: "c3", UserID: "5511999998888", BotID: "bot42", Password: "different", Status: CredentialActive, LastInteractionAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation for duplicate (user_id, bot_id)")
	}
}

func TestCredential_StatusCheckAndMetadataRoundTrip(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	bad := &Credential{ID: "bad", UserID: "u", BotID: "b", Password: "p", Status: "deleted", LastInteractionAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK constraint failure for unknown status")
	}

	c := &Credential{
		ID: "m1", UserID: "u1", BotID: "b1", Password: "p", Status: CredentialActive,
		Metadata:          datatypes.JSONMap{"source": "whatsapp", "display_name": "Ana"},
		LastInteractionAt: now,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got Credential
	if err := db.First(&got, "id = ?", "m1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Metadata["display_name"] != "Ana" || got.Metadata["source"] != "whatsapp" {
		t.Fatalf("metadata not preserved: %#v", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be set by autoCreateTime")
	}
}
