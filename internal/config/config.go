// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes relay settings such
// as server timeouts, logging, the credential database, webhook secrets, the
// outbound WhatsApp Cloud API, the bot gateway, the dedup window, rate
// limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxTransportTimeout bounds TRANSPORT_TIMEOUT; outbound calls must never hang
// long enough for the webhook source to give up and redeliver twice.
const maxTransportTimeout = 30 * time.Second

// writeHeadroom is added to the webhook budget when WRITE_TIMEOUT is unset.
const writeHeadroom = 10 * time.Second

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "wa-blip-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WebhookConfig holds the secrets shared with the WhatsApp webhook source.
type WebhookConfig struct {
	VerifyToken string // WEBHOOK_VERIFY_TOKEN, echoed handshake secret
	AppSecret   string // WEBHOOK_APP_SECRET, enables X-Hub-Signature-256 checks when set
}

// WhatsAppConfig configures the outbound Cloud API client.
type WhatsAppConfig struct {
	BaseURL    string        // WHATSAPP_API_BASE_URL
	APIVersion string        // WHATSAPP_API_VERSION
	RateRPS    float64       // WHATSAPP_RATE_RPS, 0 disables throttling
	Timeout    time.Duration // WHATSAPP_TIMEOUT
}

// GatewayConfig configures the bot transport gateway.
type GatewayConfig struct {
	BaseURL       string        // GATEWAY_BASE_URL
	Username      string        // GATEWAY_USERNAME
	Password      string        // GATEWAY_PASSWORD
	CallbackToken string        // GATEWAY_CALLBACK_TOKEN, bearer for bot reply callbacks
	Timeout       time.Duration // TRANSPORT_TIMEOUT
}

// DedupConfig configures the in-memory webhook dedup window.
type DedupConfig struct {
	TTL           time.Duration // DEDUP_TTL
	SweepInterval time.Duration // DEDUP_SWEEP_INTERVAL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // defaults to WebhookBudget()+10s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath     string // SQLite path
	RoutesFile string // optional YAML routes imported at startup

	Webhook  WebhookConfig
	WhatsApp WhatsAppConfig
	Gateway  GatewayConfig
	Dedup    DedupConfig

	// Rate limiting (webhook ingress)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// WebhookBudget bounds the synchronous processing of one webhook delivery:
// room for a token refresh plus a retried delivery to the gateway.
func (c Config) WebhookBudget() time.Duration {
	return 3*c.Gateway.Timeout + 5*time.Second
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath:     getenv("DB_PATH", "data/relay.db"),
		RoutesFile: getenv("ROUTES_FILE", ""),

		Webhook: WebhookConfig{
			VerifyToken: getenv("WEBHOOK_VERIFY_TOKEN", getenv("VERIFY_TOKEN", "")),
			AppSecret:   getenv("WEBHOOK_APP_SECRET", ""),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:    strings.TrimRight(getenv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"), "/"),
			APIVersion: getenv("WHATSAPP_API_VERSION", "v22.0"),
			RateRPS:    getfloat("WHATSAPP_RATE_RPS", 20),
			Timeout:    getdur("WHATSAPP_TIMEOUT", 10*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:       strings.TrimRight(getenv("GATEWAY_BASE_URL", "http://localhost:8081"), "/"),
			Username:      getenv("GATEWAY_USERNAME", ""),
			Password:      getenv("GATEWAY_PASSWORD", ""),
			CallbackToken: getenv("GATEWAY_CALLBACK_TOKEN", ""),
			Timeout:       getdur("TRANSPORT_TIMEOUT", 10*time.Second),
		},
		Dedup: DedupConfig{
			TTL:           getdur("DEDUP_TTL", time.Hour),
			SweepInterval: getdur("DEDUP_SWEEP_INTERVAL", time.Minute),
		},

		RateRPS:   getfloat("RATE_RPS", 50),
		RateBurst: getint("RATE_BURST", 100),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "wa-blip-relay"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.WriteTimeout = getdur("WRITE_TIMEOUT", cfg.WebhookBudget()+writeHeadroom)

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Webhook.VerifyToken) == "" {
		return cfg, errors.New("WEBHOOK_VERIFY_TOKEN must not be empty")
	}
	if cfg.Gateway.Timeout <= 0 || cfg.Gateway.Timeout > maxTransportTimeout {
		return cfg, errors.New("TRANSPORT_TIMEOUT must be in (0s, 30s]")
	}
	if cfg.WriteTimeout <= cfg.WebhookBudget() {
		return cfg, errors.New("WRITE_TIMEOUT must exceed the webhook processing budget (3*TRANSPORT_TIMEOUT+5s)")
	}
	if cfg.WhatsApp.Timeout <= 0 || cfg.WhatsApp.Timeout > maxTransportTimeout {
		return cfg, errors.New("WHATSAPP_TIMEOUT must be in (0s, 30s]")
	}
	if cfg.WhatsApp.RateRPS < 0 {
		return cfg, errors.New("WHATSAPP_RATE_RPS must be >= 0")
	}
	if cfg.Dedup.TTL <= 0 {
		return cfg, errors.New("DEDUP_TTL must be > 0")
	}
	if cfg.Dedup.SweepInterval <= 0 {
		return cfg, errors.New("DEDUP_SWEEP_INTERVAL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
