// Package handlers implements the relay's HTTP endpoints:
//   - GET  /webhook          (verification handshake)
//   - POST /webhook          (event delivery)
//   - POST /bot/messages     (bot reply callback, under the API base path)
//   - GET  /health, /ready
//
// Handlers are transport-thin: they validate input, call application services
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/wa-blip-relay/internal/services"
	"github.com/tbourn/wa-blip-relay/internal/whatsapp"
)

// WebhookRelay processes a decoded webhook delivery.
type WebhookRelay interface {
	HandleWebhook(ctx context.Context, payload *whatsapp.WebhookPayload) []services.RelayResult
}

// ReplyDispatcher sends bot replies to users.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, r services.BotReply) (services.DispatchResult, error)
}

// Check is a named readiness check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options configures Handlers.
type Options struct {
	// VerifyToken is the handshake secret; empty makes verification fail with 500.
	VerifyToken string
	// ProcessTimeout bounds synchronous webhook processing. Defaults to 25s.
	ProcessTimeout time.Duration
	// Checks run by Ready.
	Checks []Check
}

// Handlers groups the relay endpoints.
type Handlers struct {
	relay   WebhookRelay
	replies ReplyDispatcher
	opts    Options
}

// New constructs Handlers. replies may be nil when the callback endpoint is
// not mounted.
func New(relay WebhookRelay, replies ReplyDispatcher, opts Options) *Handlers {
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 25 * time.Second
	}
	return &Handlers{relay: relay, replies: replies, opts: opts}
}
