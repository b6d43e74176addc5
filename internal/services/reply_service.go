// Package services – ReplyService
//
// ReplyService delivers bot replies back to WhatsApp users. The bot side
// speaks in typed documents (plain text, select prompts, chat states); the
// service renders them as Cloud API messages and sends them from the business
// number the route belongs to.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/wa-blip-relay/internal/domain"
	"github.com/tbourn/wa-blip-relay/internal/identity"
	"github.com/tbourn/wa-blip-relay/internal/observability"
	"github.com/tbourn/wa-blip-relay/internal/repo"
	"github.com/tbourn/wa-blip-relay/internal/whatsapp"
)

// Bot document types understood by Dispatch.
const (
	TypeText      = "text/plain"
	TypeSelect    = "application/vnd.lime.select+json"
	TypeChatState = "application/vnd.lime.chatstate+json"
)

// RouteResolver looks up bot routes.
type RouteResolver interface {
	ResolveRoute(ctx context.Context, routingKey string) (*domain.BotRoute, error)
}

// Sender posts a rendered message to the Cloud API.
type Sender interface {
	Send(ctx context.Context, token, phoneNumberID string, msg whatsapp.OutboundMessage) (*whatsapp.SendResponse, error)
}

// BotReply is one message produced by a bot for a user.
type BotReply struct {
	RoutingKey string          `json:"routing_key" binding:"required"`
	To         string          `json:"to" binding:"required"`
	Type       string          `json:"type" binding:"required"`
	Content    json.RawMessage `json:"content"`
}

// DispatchResult reports what Dispatch did.
type DispatchResult struct {
	// Sent is false when the reply type is not meant for the user (chat states).
	Sent      bool   `json:"sent"`
	Kind      string `json:"kind,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ReplyService renders and sends bot replies.
type ReplyService struct {
	Routes RouteResolver
	Sender Sender
}

// NewReplyService wires a ReplyService.
func NewReplyService(routes RouteResolver, sender Sender) *ReplyService {
	return &ReplyService{Routes: routes, Sender: sender}
}

type selectContent struct {
	Text    string         `json:"text"`
	Options []selectOption `json:"options"`
}

type selectOption struct {
	Text  string          `json:"text"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Dispatch validates r, renders it and sends it to the user.
func (s *ReplyService) Dispatch(ctx context.Context, r BotReply) (DispatchResult, error) {
	tr := otel.Tracer("services/ReplyService")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("routing.key", r.RoutingKey),
			attribute.String("reply.type", r.Type),
		),
	)
	defer span.End()

	res, err := s.dispatch(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
	}
	return res, err
}

func (s *ReplyService) dispatch(ctx context.Context, r BotReply) (DispatchResult, error) {
	typ := strings.ToLower(strings.TrimSpace(r.Type))
	if typ == TypeChatState {
		return DispatchResult{}, nil
	}

	route, err := s.Routes.ResolveRoute(ctx, strings.TrimSpace(r.RoutingKey))
	if errors.Is(err, repo.ErrNotFound) {
		return DispatchResult{}, fmt.Errorf("%w: %q", ErrUnroutable, r.RoutingKey)
	}
	if err != nil {
		return DispatchResult{}, err
	}

	to, err := recipient(r.To, route.BotID)
	if err != nil {
		return DispatchResult{}, err
	}

	var msg whatsapp.OutboundMessage
	switch typ {
	case TypeText:
		text, err := textContent(r.Content)
		if err != nil {
			return DispatchResult{}, err
		}
		msg = whatsapp.NewText(to, text)
	case TypeSelect:
		var sc selectContent
		if err := json.Unmarshal(r.Content, &sc); err != nil {
			return DispatchResult{}, fmt.Errorf("%w: select content: %v", ErrInvalidReply, err)
		}
		msg = whatsapp.NewSelect(to, sc.Text, toOptions(sc.Options))
	default:
		return DispatchResult{}, fmt.Errorf("%w: %q", ErrUnsupportedReply, r.Type)
	}

	kind := msg.Type
	if msg.Interactive != nil {
		kind = msg.Interactive.Type
	}

	resp, err := s.Sender.Send(ctx, route.MetaAuthToken, route.RoutingKey, msg)
	if err != nil {
		observability.OutboundMessages.WithLabelValues(kind, "error").Inc()
		zerolog.Ctx(ctx).Error().Err(err).
			Str("routing_key", route.RoutingKey).
			Str("user", maskUser(to)).
			Str("kind", kind).
			Msg("bot reply not sent")
		return DispatchResult{Kind: kind}, mapSendError(err)
	}
	observability.OutboundMessages.WithLabelValues(kind, "ok").Inc()

	out := DispatchResult{Sent: true, Kind: kind, MessageID: resp.MessageID()}
	zerolog.Ctx(ctx).Info().
		Str("routing_key", route.RoutingKey).
		Str("user", maskUser(to)).
		Str("kind", kind).
		Str("wamid", out.MessageID).
		Msg("bot reply sent")
	return out, nil
}

// recipient extracts the WhatsApp user from a session identity or bare id.
// An identity addressed to another bot is refused.
func recipient(to, botID string) (string, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		sess, err := identity.Parse(to)
		if err == nil {
			if sess.BotID != botID {
				return "", fmt.Errorf("%w: identity belongs to bot %q", ErrInvalidReply, sess.BotID)
			}
			return sess.UserID, nil
		}
		to = identity.Canonicalize(to)
	}
	if to == "" {
		return "", fmt.Errorf("%w: empty recipient", ErrInvalidReply)
	}
	return to, nil
}

// textContent accepts either a JSON string or a raw text payload.
func textContent(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidReply)
	}
	return s, nil
}

func toOptions(in []selectOption) []whatsapp.Option {
	out := make([]whatsapp.Option, 0, len(in))
	for _, o := range in {
		if strings.TrimSpace(o.Text) == "" {
			continue
		}
		opt := whatsapp.Option{Text: o.Text}
		var v string
		if json.Unmarshal(o.Value, &v) == nil {
			opt.Value = v
		}
		out = append(out, opt)
	}
	return out
}

func mapSendError(err error) error {
	var apiErr *whatsapp.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Unauthorized():
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case errors.As(err, &apiErr) && apiErr.Retryable():
		return fmt.Errorf("%w: %w", ErrTransientTransport, err)
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: %w", ErrRejected, err)
	case errors.Is(err, whatsapp.ErrMissingToken):
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return fmt.Errorf("%w: %w", ErrTransientTransport, err)
}
