package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-blip-relay/internal/http/middleware"
	"github.com/tbourn/wa-blip-relay/internal/services"
	"github.com/tbourn/wa-blip-relay/internal/whatsapp"
)

// eventReceived is the acknowledgement body expected by the webhook source.
const eventReceived = "EVENT_RECEIVED"

// VerifyWebhook godoc
// @ID          verifyWebhook
// @Summary     Webhook verification handshake
// @Description Echoes hub.challenge when hub.mode is "subscribe" and hub.verify_token matches.
// @Tags        Webhook
// @Produce     plain
//
// @Param       hub.mode          query  string  true  "Must be subscribe"  example(subscribe)
// @Param       hub.verify_token  query  string  true  "Configured verify token"
// @Param       hub.challenge     query  string  false "Value to echo"      example(1158201444)
//
// @Success     200  {string}  string                  "The challenge"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing parameters"
// @Failure     403  {object}  handlers.ErrorResponse  "Token mismatch"
// @Failure     500  {object}  handlers.ErrorResponse  "Verify token not configured"
// @Router      /webhook [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "hub.mode and hub.verify_token are required")
		return
	}
	if h.opts.VerifyToken == "" {
		fail(c, http.StatusInternalServerError, ErrCodeMisconfigured, "verify token not configured")
		return
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.VerifyToken)) != 1 {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	middleware.LoggerFrom(c).Info().Msg("webhook verified")
	c.String(http.StatusOK, challenge)
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     Receive webhook events
// @Description Relays every message and status in the delivery. Any structurally valid
// @Description delivery is acknowledged with 200 regardless of downstream outcome.
// @Tags        Webhook
// @Accept      json
// @Produce     plain
//
// @Param       X-Hub-Signature-256  header  string                    false  "sha256=<hex hmac of body>"
// @Param       body                 body    whatsapp.WebhookPayload   true   "Webhook delivery"
//
// @Success     200  {string}  string                  "EVENT_RECEIVED"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid JSON"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad signature"
// @Router      /webhook [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	var payload whatsapp.WebhookPayload
	var err error
	if raw, ok := middleware.RawBody(c); ok {
		err = json.Unmarshal(raw, &payload)
	} else {
		err = c.ShouldBindJSON(&payload)
	}
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	// Processing outlives a client that hangs up; the source redelivers
	// anything it did not see acknowledged and dedup absorbs the repeat.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.opts.ProcessTimeout)
	defer cancel()
	results := h.relay.HandleWebhook(ctx, &payload)

	lg := middleware.LoggerFrom(c)
	counts := make(map[services.RelayStatus]int, 4)
	for _, r := range results {
		counts[r.Status]++
	}
	lg.Debug().
		Str("object", payload.Object).
		Int("events", len(results)).
		Int("delivered", counts[services.RelayDelivered]).
		Int("skipped", counts[services.RelaySkipped]).
		Int("failed", counts[services.RelayFailed]).
		Int("recorded", counts[services.RelayRecorded]).
		Msg("webhook processed")

	c.String(http.StatusOK, eventReceived)
}
