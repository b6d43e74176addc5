// Package docs registers the relay's OpenAPI description with swag.
//
// Regenerate with: swag init -g cmd/relay/main.go -o internal/http/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/webhook": {
            "get": {
                "description": "Echoes hub.challenge when hub.mode is \"subscribe\" and hub.verify_token matches.",
                "produces": ["text/plain"],
                "tags": ["Webhook"],
                "summary": "Webhook verification handshake",
                "operationId": "verifyWebhook",
                "parameters": [
                    {"type": "string", "example": "subscribe", "description": "Must be subscribe", "name": "hub.mode", "in": "query", "required": true},
                    {"type": "string", "description": "Configured verify token", "name": "hub.verify_token", "in": "query", "required": true},
                    {"type": "string", "example": "1158201444", "description": "Value to echo", "name": "hub.challenge", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "The challenge", "schema": {"type": "string"}},
                    "400": {"description": "Missing parameters", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Token mismatch", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Verify token not configured", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Relays every message and status in the delivery. Any structurally valid\ndelivery is acknowledged with 200 regardless of downstream outcome.",
                "consumes": ["application/json"],
                "produces": ["text/plain"],
                "tags": ["Webhook"],
                "summary": "Receive webhook events",
                "operationId": "receiveWebhook",
                "parameters": [
                    {"type": "string", "description": "sha256=<hex hmac of body>", "name": "X-Hub-Signature-256", "in": "header"},
                    {"description": "Webhook delivery", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/whatsapp.WebhookPayload"}}
                ],
                "responses": {
                    "200": {"description": "EVENT_RECEIVED", "schema": {"type": "string"}},
                    "400": {"description": "Invalid JSON", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad signature", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/bot/messages": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Renders text and select documents as WhatsApp messages and sends them from the\nroute's business number. Chat state documents are accepted and ignored.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Bot"],
                "summary": "Deliver a bot reply to a WhatsApp user",
                "operationId": "postBotMessage",
                "parameters": [
                    {"type": "string", "description": "Deduplicates client retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Bot reply", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BotMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BotMessageResponse"}},
                    "400": {"description": "Invalid reply", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown routing key", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Same Idempotency-Key still in flight", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "415": {"description": "Unsupported reply type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "WhatsApp rejected the message", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "WhatsApp unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Ops"],
                "summary": "Liveness check",
                "operationId": "health",
                "responses": {"200": {"description": "{\"status\":\"ok\"}", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}}
            }
        },
        "/ready": {
            "get": {
                "description": "Runs every dependency check (database, bot gateway) and reports each result.",
                "produces": ["application/json"],
                "tags": ["Ops"],
                "summary": "Readiness check",
                "operationId": "ready",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "handlers.BotMessageRequest": {
            "type": "object",
            "required": ["routing_key", "to", "type"],
            "properties": {
                "content": {"description": "Content is the document: a JSON string for text, {text, options} for selects.", "type": "object"},
                "routing_key": {"description": "RoutingKey is the business phone number id the reply is sent from.", "type": "string", "maxLength": 64, "example": "106540352242922"},
                "to": {"description": "To is a session identity or a bare WhatsApp user id.", "type": "string", "maxLength": 255, "example": "5511999998888.bot42@tenant.domain"},
                "type": {"description": "Type is the bot document type.", "type": "string", "example": "text/plain"}
            }
        },
        "handlers.BotMessageResponse": {
            "type": "object",
            "properties": {
                "duplicate": {"type": "boolean"},
                "kind": {"type": "string", "example": "button"},
                "message_id": {"type": "string", "example": "wamid.HBgLNTUxMTk5OTk5ODg4OBUCABEYEjQ2"},
                "sent": {"type": "boolean"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"description": "Stable, machine-readable code (see errors.go constants)", "type": "string", "example": "forbidden"},
                "message": {"description": "Human-readable message (safe to show to users)", "type": "string", "example": "verification failed"},
                "request_id": {"description": "Correlates server logs and client errors", "type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "whatsapp.WebhookPayload": {
            "type": "object",
            "properties": {
                "entry": {"type": "array", "items": {"type": "object"}},
                "object": {"type": "string", "example": "whatsapp_business_account"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "WhatsApp ↔ BLiP relay",
	Description:      "Relays WhatsApp Cloud API webhooks to BLiP bots and bot replies back to WhatsApp.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
