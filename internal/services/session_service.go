// Package services – SessionService
//
// SessionService turns (raw user id, routing key) into a bot session: it
// resolves the route, canonicalizes the user, reuses or provisions the
// credential and builds the session identity. Provisioning runs at most once
// per (user, bot) at a time inside this process; the unique index on
// credentials backs that up across processes.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/wa-blip-relay/internal/domain"
	"github.com/tbourn/wa-blip-relay/internal/identity"
	"github.com/tbourn/wa-blip-relay/internal/observability"
	"github.com/tbourn/wa-blip-relay/internal/repo"
)

// CredentialStore is the persistence contract required by SessionService.
type CredentialStore interface {
	// ResolveRoute returns the route for routingKey or repo.ErrNotFound.
	ResolveRoute(ctx context.Context, routingKey string) (*domain.BotRoute, error)
	// GetCredential is an exact-match lookup returning repo.ErrNotFound when absent.
	GetCredential(ctx context.Context, userID, botID string) (*domain.Credential, error)
	// CreateCredential returns repo.ErrDuplicate if the pair already exists.
	CreateCredential(ctx context.Context, userID, botID, password string, metadata map[string]any) (*domain.Credential, error)
	// TouchCredential bumps last_interaction_at; repo.ErrNotFound when absent.
	TouchCredential(ctx context.Context, userID, botID string) (*domain.Credential, error)
}

// provisionTimeout bounds one shared provisioning run. It is detached from
// the callers' contexts so one caller giving up cannot fail the others.
const provisionTimeout = 10 * time.Second

// Session is what the transport needs to speak for a user.
type Session struct {
	Identity string
	UserID   string
	BotID    string
	Password string
	Route    *domain.BotRoute
	// New is true when this call (or the call it was coalesced with)
	// provisioned the credential.
	New bool
}

// SessionService provisions bot sessions.
type SessionService struct {
	Store CredentialStore

	// newPassword is swapped in tests.
	newPassword func() (string, error)
	inflight    singleflight.Group
}

// NewSessionService constructs a SessionService over store.
func NewSessionService(store CredentialStore) *SessionService {
	return &SessionService{Store: store, newPassword: generatePassword}
}

type provisioned struct {
	cred *domain.Credential
	new  bool
}

// EnsureSession resolves the route for routingKey, then reuses or creates
// the credential for the canonical user. metadata is stored only when a
// credential is created.
func (s *SessionService) EnsureSession(ctx context.Context, rawUserID, routingKey string, metadata map[string]any) (*Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "EnsureSession",
		trace.WithAttributes(attribute.String("routing.key", routingKey)),
	)
	defer span.End()

	route, err := s.Store.ResolveRoute(ctx, routingKey)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnroutable, routingKey)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("bot.id", route.BotID))

	userID := identity.Canonicalize(rawUserID)
	id, err := identity.Build(userID, route.BotID, route.UserDomain)
	if err != nil {
		return nil, err
	}

	ch := s.inflight.DoChan(userID+"|"+route.BotID, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return s.provision(pctx, userID, route.BotID, metadata)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	p := res.Val.(provisioned)
	span.SetAttributes(attribute.Bool("credential.new", p.new))

	return &Session{
		Identity: id,
		UserID:   userID,
		BotID:    route.BotID,
		Password: p.cred.Password,
		Route:    route,
		New:      p.new,
	}, nil
}

// provision implements get → touch, or create with duplicate recovery.
func (s *SessionService) provision(ctx context.Context, userID, botID string, metadata map[string]any) (provisioned, error) {
	cred, err := s.Store.GetCredential(ctx, userID, botID)
	switch {
	case err == nil:
		touched, terr := s.Store.TouchCredential(ctx, userID, botID)
		if terr == nil {
			return provisioned{cred: touched}, nil
		}
		if !errors.Is(terr, repo.ErrNotFound) {
			return provisioned{}, terr
		}
		// Deleted between read and touch: provision afresh.
	case !errors.Is(err, repo.ErrNotFound):
		return provisioned{}, err
	}

	pw, err := s.newPassword()
	if err != nil {
		return provisioned{}, fmt.Errorf("generate password: %w", err)
	}
	cred, err = s.Store.CreateCredential(ctx, userID, botID, pw, metadata)
	if err == nil {
		observability.CredentialsProvisioned.Inc()
		return provisioned{cred: cred, new: true}, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return provisioned{}, err
	}

	// Another process won the insert; its row is the one true credential.
	cred, err = s.Store.GetCredential(ctx, userID, botID)
	if errors.Is(err, repo.ErrNotFound) {
		return provisioned{}, fmt.Errorf("%w after %w", ErrCredentialNotFound, ErrDuplicateCredential)
	}
	if err != nil {
		return provisioned{}, err
	}
	return provisioned{cred: cred}, nil
}
