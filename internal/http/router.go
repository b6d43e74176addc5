// Package httpapi wires the HTTP transport (Gin) to the relay services,
// middleware and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation ids, redacted logging, panic recovery, metrics, CORS,
// security headers, webhook signatures, idempotency and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/wa-blip-relay/internal/config"
	"github.com/tbourn/wa-blip-relay/internal/dedup"
	"github.com/tbourn/wa-blip-relay/internal/http/docs"
	"github.com/tbourn/wa-blip-relay/internal/http/handlers"
	"github.com/tbourn/wa-blip-relay/internal/http/middleware"
	"github.com/tbourn/wa-blip-relay/internal/repo"
	"github.com/tbourn/wa-blip-relay/internal/services"
)

// maxBodyBytes caps every request body. Webhook deliveries are far smaller.
const maxBodyBytes = 1 << 20

// Pinger is an optional readiness dependency (the bot gateway).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the long-lived collaborators constructed once at startup.
type Deps struct {
	Store *repo.Store
	// Dedup remembers webhook message ids.
	Dedup *dedup.Guard
	// Replays remembers Idempotency-Key values of bot callbacks.
	Replays   *dedup.Guard
	Transport services.Transport
	Sender    services.Sender
	Gateway   Pinger
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (attaches the request-scoped logger)
//  4. Recovery
//  5. Body size limit
//  6. Metrics (+ /metrics)
//  7. CORS and security headers
//
// Per route group: webhook signature on POST /webhook, which is never rate
// limited so the platform always gets its acknowledgement; per-IP rate limit
// on the verify handshake; bearer auth, idempotency and rate limit on the bot
// callback.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Services ← store/dedup/transports
	sessions := services.NewSessionService(d.Store)
	relay := services.NewRelayService(d.Dedup, sessions, d.Transport)
	var replies handlers.ReplyDispatcher
	if d.Sender != nil {
		replies = services.NewReplyService(d.Store, d.Sender)
	}

	checks := []handlers.Check{{Name: "database", Run: func(ctx context.Context) error {
		sqlDB, err := d.Store.DB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}}
	if d.Gateway != nil {
		checks = append(checks, handlers.Check{Name: "gateway", Run: d.Gateway.Ping})
	}

	h := handlers.New(relay, replies, handlers.Options{
		VerifyToken:    cfg.Webhook.VerifyToken,
		ProcessTimeout: cfg.WebhookBudget(),
		Checks:         checks,
	})

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	// Webhook (the platform is configured with this exact path).
	webhookRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	wh := r.Group("/webhook")
	{
		wh.GET("", webhookRL.Handler(), h.VerifyWebhook)
		wh.POST("", middleware.WebhookSignature(cfg.Webhook.AppSecret), h.ReceiveWebhook)
	}

	// Bot callback API; mounted only when it can authenticate and send.
	if replies != nil && cfg.Gateway.CallbackToken != "" && d.Replays != nil {
		callbackRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
		api := groupWithPrefix(r, cfg.APIBasePath)
		api.Use(gzip.Gzip(gzip.DefaultCompression))
		api.POST("/bot/messages",
			middleware.BearerAuth(cfg.Gateway.CallbackToken),
			middleware.Idempotency(middleware.IdempotencyOptions{MaxLen: 200}, d.Replays),
			callbackRL.Handler(),
			h.PostBotMessage,
		)
	}

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = "/"
		r.GET("/swagger/*any", gzip.Gzip(gzip.DefaultCompression), ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// corsMiddleware allows any origin when none are configured (the relay has no
// browser clients; this keeps the docs UI usable) and otherwise echoes only
// allow-listed origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(base)}
}

// limitBody caps the request body at maxBytes; reads beyond it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
