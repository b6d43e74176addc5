// Package services – RelayService
//
// RelayService turns webhook events into gateway deliveries. Every message id
// passes through the dedup guard: redeliveries of completed or in-flight ids
// are skipped, failures that deserve another attempt release the id, and
// everything else completes it. Events are isolated from each other; one
// failing (or panicking) event never affects its siblings.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/wa-blip-relay/internal/blip"
	"github.com/tbourn/wa-blip-relay/internal/observability"
	"github.com/tbourn/wa-blip-relay/internal/whatsapp"
)

// botAddressDomain is the bot-protocol domain bots are addressed on.
const botAddressDomain = "msging.net"

// Transport delivers one message to a bot.
type Transport interface {
	Deliver(ctx context.Context, d blip.Delivery) error
}

// DedupGuard is the subset of dedup.Guard used by the relay.
type DedupGuard interface {
	Admit(id string) bool
	Complete(id string)
	Release(id string)
}

// Provisioner yields sessions; satisfied by *SessionService.
type Provisioner interface {
	EnsureSession(ctx context.Context, rawUserID, routingKey string, metadata map[string]any) (*Session, error)
}

// RelayStatus is the outcome of handling one event.
type RelayStatus string

const (
	RelayDelivered RelayStatus = "delivered"
	RelaySkipped   RelayStatus = "skipped"
	RelayFailed    RelayStatus = "failed"
	RelayRecorded  RelayStatus = "recorded" // status receipt bookkeeping
)

// Skip and failure reasons.
const (
	ReasonDuplicate       = "duplicate"
	ReasonUnsupportedType = "unsupported_type"
	ReasonMalformed       = "malformed"
	ReasonUnroutable      = "unroutable"
	ReasonSession         = "session"
	ReasonTransient       = "transport_transient"
	ReasonAuth            = "transport_auth"
	ReasonRejected        = "transport_rejected"
	ReasonPanic           = "panic"
)

// RelayResult describes what happened to one event.
type RelayResult struct {
	MessageID string
	Status    RelayStatus
	Reason    string
	// Retryable is true when the dedup entry was released so a redelivery
	// will be processed again.
	Retryable bool
}

// RelayService coordinates dedup, provisioning and transport.
type RelayService struct {
	Dedup     DedupGuard
	Sessions  Provisioner
	Transport Transport
}

// NewRelayService wires a RelayService.
func NewRelayService(g DedupGuard, p Provisioner, t Transport) *RelayService {
	return &RelayService{Dedup: g, Sessions: p, Transport: t}
}

// HandleWebhook processes every message and status in payload independently
// and returns one result per event, messages first.
func (s *RelayService) HandleWebhook(ctx context.Context, payload *whatsapp.WebhookPayload) []RelayResult {
	msgs, statuses := payload.Events()
	out := make([]RelayResult, 0, len(msgs)+len(statuses))
	for _, ev := range msgs {
		out = append(out, s.isolate(ctx, ev.MessageID, func() RelayResult {
			res, _ := s.HandleInboundEvent(ctx, ev)
			return res
		}))
	}
	for _, st := range statuses {
		out = append(out, s.isolate(ctx, st.MessageID, func() RelayResult {
			return s.HandleStatus(ctx, st)
		}))
	}
	return out
}

// isolate converts a panic in fn into a failed result.
func (s *RelayService) isolate(ctx context.Context, id string, fn func() RelayResult) (res RelayResult) {
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(ctx).Error().
				Interface("panic", rec).
				Str("message_id", id).
				Msg("relay event panicked")
			s.Dedup.Release(id)
			observability.RelayEvents.WithLabelValues(string(RelayFailed)).Inc()
			res = RelayResult{MessageID: id, Status: RelayFailed, Reason: ReasonPanic, Retryable: true}
		}
	}()
	return fn()
}

// HandleInboundEvent relays one user message. The returned error carries the
// taxonomy sentinel for failed results and is nil otherwise.
func (s *RelayService) HandleInboundEvent(ctx context.Context, ev whatsapp.InboundEvent) (RelayResult, error) {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "HandleInboundEvent",
		trace.WithAttributes(
			attribute.String("message.id", ev.MessageID),
			attribute.String("message.type", ev.Type),
			attribute.String("routing.key", ev.RoutingKey),
		),
	)
	defer span.End()

	lg := zerolog.Ctx(ctx).With().
		Str("message_id", ev.MessageID).
		Str("routing_key", ev.RoutingKey).
		Str("user", maskUser(ev.From)).
		Logger()

	res, err := s.handle(ctx, &lg, ev)
	observability.RelayEvents.WithLabelValues(outcome(res)).Inc()
	span.SetAttributes(attribute.String("relay.status", string(res.Status)), attribute.String("relay.reason", res.Reason))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Reason)
	}
	return res, err
}

func (s *RelayService) handle(ctx context.Context, lg *zerolog.Logger, ev whatsapp.InboundEvent) (RelayResult, error) {
	res := RelayResult{MessageID: ev.MessageID}

	if ev.MessageID == "" || ev.From == "" || ev.RoutingKey == "" {
		lg.Warn().Msg("malformed inbound event acknowledged")
		res.Status, res.Reason = RelayFailed, ReasonMalformed
		return res, ErrMalformedEvent
	}

	if !s.Dedup.Admit(ev.MessageID) {
		lg.Debug().Msg("duplicate delivery skipped")
		res.Status, res.Reason = RelaySkipped, ReasonDuplicate
		return res, nil
	}

	if ev.Content == "" {
		s.Dedup.Complete(ev.MessageID)
		lg.Info().Str("type", ev.Type).Msg("message type not relayed")
		res.Status, res.Reason = RelaySkipped, ReasonUnsupportedType
		return res, nil
	}

	meta := map[string]any{"source": "whatsapp"}
	if ev.ContactName != "" {
		meta["profile_name"] = ev.ContactName
	}
	sess, err := s.Sessions.EnsureSession(ctx, ev.From, ev.RoutingKey, meta)
	if err != nil {
		s.Dedup.Release(ev.MessageID)
		res.Status = RelayFailed
		if errors.Is(err, ErrUnroutable) {
			lg.Warn().Err(err).Msg("event dropped: no route")
			res.Reason = ReasonUnroutable
			return res, err
		}
		lg.Error().Err(err).Msg("session provisioning failed")
		res.Reason, res.Retryable = ReasonSession, true
		return res, err
	}

	d := blip.Delivery{
		BotID:         sess.BotID,
		RoutingKey:    ev.RoutingKey,
		UserPhone:     sess.UserID,
		Identity:      sess.Identity,
		Password:      sess.Password,
		MetaAuthToken: sess.Route.MetaAuthToken,
		UserDomain:    sess.Route.UserDomain,
		WSURI:         sess.Route.WSURI,
		NewAccount:    sess.New,
		Message: blip.OutboundMessage{
			ID:      uuid.NewString(),
			To:      sess.BotID + "@" + botAddressDomain,
			Type:    "text/plain",
			Content: ev.Content,
			Source:  ev.Raw,
		},
	}

	start := time.Now()
	err = s.Transport.Deliver(ctx, d)
	kind := transportKind(err)
	observability.TransportDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	lg2 := lg.With().Str("bot_id", sess.BotID).Bool("new_account", sess.New).Logger()
	switch kind {
	case "ok":
		s.Dedup.Complete(ev.MessageID)
		lg2.Info().Msg("message relayed")
		res.Status = RelayDelivered
		return res, nil
	case "transient":
		s.Dedup.Release(ev.MessageID)
		lg2.Warn().Err(err).Msg("transient transport failure, released for redelivery")
		res.Status, res.Reason, res.Retryable = RelayFailed, ReasonTransient, true
		return res, fmt.Errorf("%w: %w", ErrTransientTransport, err)
	case "auth":
		s.Dedup.Release(ev.MessageID)
		lg2.Error().Err(err).Msg("transport authentication failed")
		res.Status, res.Reason = RelayFailed, ReasonAuth
		return res, fmt.Errorf("%w: %w", ErrAuth, err)
	default:
		s.Dedup.Complete(ev.MessageID)
		lg2.Error().Err(err).Msg("transport rejected message")
		res.Status, res.Reason = RelayFailed, ReasonRejected
		return res, fmt.Errorf("%w: %w", ErrRejected, err)
	}
}

// HandleStatus records a delivery receipt. The first receipt of each
// (message, status) pair is logged; every receipt marks the message id as
// completed so a late redelivery of it is skipped.
func (s *RelayService) HandleStatus(ctx context.Context, st whatsapp.StatusEvent) RelayResult {
	res := RelayResult{MessageID: st.MessageID, Status: RelayRecorded}
	if st.MessageID == "" || st.Status == "" {
		res.Status, res.Reason = RelayFailed, ReasonMalformed
		observability.RelayEvents.WithLabelValues(ReasonMalformed).Inc()
		return res
	}

	receipt := st.MessageID + ":" + st.Status
	if !s.Dedup.Admit(receipt) {
		res.Status, res.Reason = RelaySkipped, ReasonDuplicate
		observability.RelayEvents.WithLabelValues(string(RelaySkipped)).Inc()
		return res
	}
	s.Dedup.Complete(receipt)
	s.Dedup.Complete(st.MessageID)

	ev := zerolog.Ctx(ctx).Info()
	if st.Status == whatsapp.StatusFailed {
		ev = zerolog.Ctx(ctx).Warn()
	}
	ev.Str("message_id", st.MessageID).
		Str("status", st.Status).
		Str("recipient", maskUser(st.RecipientID)).
		Msg("delivery status")
	observability.RelayEvents.WithLabelValues("status").Inc()
	return res
}

func transportKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case blip.IsAuth(err):
		return "auth"
	case blip.IsTransient(err):
		return "transient"
	}
	var be *blip.Error
	if errors.As(err, &be) {
		return "rejected"
	}
	// Unclassified errors from other transports are retried.
	return "transient"
}

func outcome(r RelayResult) string {
	if r.Reason == ReasonMalformed {
		return ReasonMalformed
	}
	return string(r.Status)
}

// maskUser keeps the last four characters of a user id for logs.
func maskUser(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}
