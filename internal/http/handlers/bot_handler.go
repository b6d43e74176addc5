package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-blip-relay/internal/http/middleware"
	"github.com/tbourn/wa-blip-relay/internal/services"
)

// BotMessageRequest is the bot reply callback payload.
type BotMessageRequest struct {
	// RoutingKey is the business phone number id the reply is sent from.
	RoutingKey string `json:"routing_key" binding:"required,max=64" example:"106540352242922"`
	// To is a session identity or a bare WhatsApp user id.
	To string `json:"to" binding:"required,max=255" example:"5511999998888.bot42@tenant.domain"`
	// Type is the bot document type.
	Type string `json:"type" binding:"required" example:"text/plain"`
	// Content is the document: a JSON string for text, {text, options} for selects.
	Content json.RawMessage `json:"content" swaggertype:"object"`
}

// BotMessageResponse reports the outcome of a callback.
type BotMessageResponse struct {
	Sent      bool   `json:"sent"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Kind      string `json:"kind,omitempty" example:"button"`
	MessageID string `json:"message_id,omitempty" example:"wamid.HBgLNTUxMTk5OTk5ODg4OBUCABEYEjQ2"`
}

// PostBotMessage godoc
// @ID          postBotMessage
// @Summary     Deliver a bot reply to a WhatsApp user
// @Description Renders text and select documents as WhatsApp messages and sends them from the
// @Description route's business number. Chat state documents are accepted and ignored.
// @Tags        Bot
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                      false  "Deduplicates client retries"
// @Param       body             body    handlers.BotMessageRequest  true   "Bot reply"
//
// @Success     200  {object}  handlers.BotMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid reply"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still in flight"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown routing key"
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported reply type"
// @Failure     502  {object}  handlers.ErrorResponse  "WhatsApp rejected the message"
// @Failure     503  {object}  handlers.ErrorResponse  "WhatsApp unavailable"
// @Router      /bot/messages [post]
func (h *Handlers) PostBotMessage(c *gin.Context) {
	if middleware.IsReplay(c) {
		ok(c, http.StatusOK, BotMessageResponse{Duplicate: true})
		return
	}

	var req BotMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.replies.Dispatch(c.Request.Context(), services.BotReply{
		RoutingKey: req.RoutingKey,
		To:         req.To,
		Type:       req.Type,
		Content:    req.Content,
	})
	if err != nil {
		status, code := replyErrorStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, BotMessageResponse{Sent: res.Sent, Kind: res.Kind, MessageID: res.MessageID})
}

func replyErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidReply):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrUnroutable):
		return http.StatusNotFound, ErrCodeUnroutable
	case errors.Is(err, services.ErrUnsupportedReply):
		return http.StatusUnsupportedMediaType, ErrCodeUnsupportedType
	case errors.Is(err, services.ErrTransientTransport):
		return http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable
	case errors.Is(err, services.ErrAuth), errors.Is(err, services.ErrRejected):
		return http.StatusBadGateway, ErrCodeUpstreamRejected
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
