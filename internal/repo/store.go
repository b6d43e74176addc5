package repo

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/wa-blip-relay/internal/domain"
)

// Store bundles the credential and route repository functions behind one
// handle that owns the *gorm.DB. Mutations are serialized with a process-wide
// write lock so read-modify-write sequences never interleave; SQLite allows a
// single writer anyway and the lock turns SQLITE_BUSY retries into queueing.
//
// Store is safe for concurrent use.
type Store struct {
	db  *gorm.DB
	now func() time.Time

	mu sync.RWMutex
}

// NewStore wraps db. The caller keeps ownership of the connection pool.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle (used by health checks and CLI commands).
func (s *Store) DB() *gorm.DB { return s.db }

// ResolveRoute returns the route for routingKey or ErrNotFound.
func (s *Store) ResolveRoute(ctx context.Context, routingKey string) (*domain.BotRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return GetRoute(ctx, s.db, routingKey)
}

// ResolveBotID returns the bot id bound to routingKey or ErrNotFound.
func (s *Store) ResolveBotID(ctx context.Context, routingKey string) (string, error) {
	r, err := s.ResolveRoute(ctx, routingKey)
	if err != nil {
		return "", err
	}
	return r.BotID, nil
}

// GetCredential is an exact-match lookup with no side effects.
func (s *Store) GetCredential(ctx context.Context, userID, botID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return GetCredential(ctx, s.db, userID, botID)
}

// CreateCredential inserts a credential or returns ErrDuplicate.
func (s *Store) CreateCredential(ctx context.Context, userID, botID, password string, metadata map[string]any) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CreateCredential(ctx, s.db, userID, botID, password, metadata)
}

// TouchCredential bumps last_interaction_at or returns ErrNotFound.
func (s *Store) TouchCredential(ctx context.Context, userID, botID string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TouchCredential(ctx, s.db, userID, botID, s.now())
}

// ImportRoutes upserts routes under the write lock.
func (s *Store) ImportRoutes(ctx context.Context, routes []domain.BotRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UpsertRoutes(ctx, s.db, routes)
}

// Routes lists every configured route.
func (s *Store) Routes(ctx context.Context) ([]domain.BotRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ListRoutes(ctx, s.db)
}
