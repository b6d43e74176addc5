package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrMissingToken is returned when a send has no access token to use.
var ErrMissingToken = errors.New("whatsapp: missing access token")

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	Status  int
	Code    int    // Graph error code, 0 when the body was not a Graph error
	Message string // Graph error message or a body excerpt
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: http %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Unauthorized reports an invalid or expired access token.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Client sends messages through the Cloud API. A single token-bucket limiter
// is shared by every tenant so the relay stays under the account throughput.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL string
	version string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	BaseURL    string        // e.g. https://graph.facebook.com
	APIVersion string        // e.g. v22.0
	Timeout    time.Duration // per request
	RateRPS    float64       // 0 disables throttling
	HTTPClient *http.Client  // optional; Timeout is ignored when set
}

// NewClient builds a Client.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RateRPS > 0 {
		burst := int(opts.RateRPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	version := strings.Trim(opts.APIVersion, "/")
	if version == "" {
		version = "v22.0"
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		version: version,
		http:    hc,
		limiter: lim,
	}
}

// Send posts msg from the business number phoneNumberID using token.
func (c *Client) Send(ctx context.Context, token, phoneNumberID string, msg OutboundMessage) (*SendResponse, error) {
	tr := otel.Tracer("whatsapp/Client")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("whatsapp.phone_number_id", phoneNumberID),
			attribute.String("whatsapp.type", msg.Type),
		),
	)
	defer span.End()

	resp, err := c.send(ctx, token, phoneNumberID, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, token, phoneNumberID string, msg OutboundMessage) (*SendResponse, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, apiError(res)
	}
	var out SendResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return &out, nil
}

func apiError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	e := &APIError{Status: res.StatusCode}
	var ge graphError
	if json.Unmarshal(raw, &ge) == nil && ge.Error.Code != 0 {
		e.Code = ge.Error.Code
		e.Message = ge.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}
