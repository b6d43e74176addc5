// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file opens the relay's SQLite credential database and
// migrates its schema.
package repo

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/wa-blip-relay/internal/domain"
)

// connPragmas run on every pooled connection. Webhook lookups read while a
// provisioning insert writes, so WAL keeps readers off the writer's lock and
// busy_timeout lets a second relay process wait for that lock instead of
// failing the delivery. NORMAL sync is durable enough under WAL: a crash can
// lose the last provisioned credential, which the next message recreates.
var connPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
}

// Lookups and the occasional insert are short; a small pool is plenty.
const (
	maxConns        = 10
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

// OpenSQLite opens (or creates) the credential database at path with the
// pragmas above on every connection and installs the OpenTelemetry tracing
// plugin. The parent directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}

// dsn appends connPragmas as _pragma query parameters so the driver applies
// them whenever it opens a connection.
func dsn(path string) string {
	q := make(url.Values, 1)
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// AutoMigrate creates or updates the credentials and bot_routes tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Credential{},
		&domain.BotRoute{},
	)
}
