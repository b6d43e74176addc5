// Package blip is the bot transport: an HTTP client for the gateway that
// holds the bot-protocol connections on the relay's behalf.
//
// The gateway speaks a small JSON API:
//
//	POST /api/auth/login    {username, password} -> {token}
//	GET  /api/health        bearer-authenticated liveness
//	POST /api/blip/messages delivery of one user message to a bot
//
// Tokens are JWTs. The client caches one, refreshes it shortly before its exp
// claim, and on a 401/403 refreshes once and retries the delivery.
package blip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// refreshSkew is how long before exp a cached token is considered stale.
const refreshSkew = 30 * time.Second

// Delivery is one user message handed to a bot.
type Delivery struct {
	BotID         string          `json:"blipBotId"`
	RoutingKey    string          `json:"metaPhoneNumberId"`
	UserPhone     string          `json:"userPhoneNumber"`
	Identity      string          `json:"userId"`
	Password      string          `json:"userPassword"`
	MetaAuthToken string          `json:"metaAuthToken,omitempty"`
	UserDomain    string          `json:"userDomain"`
	WSURI         string          `json:"wsUri,omitempty"`
	NewAccount    bool            `json:"newAccount"`
	Message       OutboundMessage `json:"message"`
}

// OutboundMessage is the bot-protocol envelope the gateway forwards.
type OutboundMessage struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Content string `json:"content"`
	// Source is the original platform message, kept for bots that inspect it.
	Source json.RawMessage `json:"source,omitempty"`
}

// Options configures New.
type Options struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration // per HTTP call, default 10s
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client talks to the gateway. Safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
	now      func() time.Time

	mu    sync.Mutex
	token string
	exp   time.Time // zero when the token carries no exp

	logins singleflight.Group
}

// New builds a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		timeout:  timeout,
		http:     hc,
		now:      now,
	}
}

// Deliver posts d to the gateway. An auth rejection triggers one token refresh
// and a single retry.
func (c *Client) Deliver(ctx context.Context, d Delivery) error {
	tr := otel.Tracer("blip/Client")
	ctx, span := tr.Start(ctx, "Deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bot.id", d.BotID),
			attribute.Bool("bot.new_account", d.NewAccount),
		),
	)
	defer span.End()

	body, err := json.Marshal(d)
	if err != nil {
		return &Error{Op: "deliver", Kind: KindPermanent, Err: err}
	}

	err = c.deliverOnce(ctx, body, false)
	if IsAuth(err) {
		span.AddEvent("token refresh")
		err = c.deliverOnce(ctx, body, true)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deliver failed")
	}
	return err
}

func (c *Client) deliverOnce(ctx context.Context, body []byte, forceLogin bool) error {
	tok, err := c.bearer(ctx, forceLogin)
	if err != nil {
		return err
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/api/blip/messages", tok, body)
	if err != nil {
		return &Error{Op: "deliver", Kind: KindTransient, Err: err}
	}
	if status < 200 || status > 299 {
		return &Error{Op: "deliver", Kind: classifyStatus(status), Status: status, Err: errors.New(excerpt(raw))}
	}
	return nil
}

// Ping checks the gateway with the current token.
func (c *Client) Ping(ctx context.Context) error {
	tok, err := c.bearer(ctx, false)
	if err != nil {
		return err
	}
	status, raw, err := c.do(ctx, http.MethodGet, "/api/health", tok, nil)
	if err != nil {
		return &Error{Op: "health", Kind: KindTransient, Err: err}
	}
	if status != http.StatusOK {
		return &Error{Op: "health", Kind: classifyStatus(status), Status: status, Err: errors.New(excerpt(raw))}
	}
	return nil
}

// Invalidate drops the cached token.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.token, c.exp = "", time.Time{}
	c.mu.Unlock()
}

// bearer returns a usable token, logging in when none is cached, the cached
// one is about to expire, or force is set. Concurrent logins are coalesced.
// With no username configured the gateway is assumed open and "" is returned.
func (c *Client) bearer(ctx context.Context, force bool) (string, error) {
	if c.username == "" {
		return "", nil
	}
	c.mu.Lock()
	tok, exp := c.token, c.exp
	c.mu.Unlock()
	if !force && tok != "" && (exp.IsZero() || c.now().Add(refreshSkew).Before(exp)) {
		return tok, nil
	}
	if force {
		c.Invalidate()
	}

	// The shared login must not inherit one waiter's cancellation.
	ch := c.logins.DoChan("login", func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.login(lctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &Error{Op: "login", Kind: KindTransient, Err: ctx.Err()}
	}
}

type loginResponse struct {
	Token string `json:"token"`
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	status, raw, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body)
	if err != nil {
		return "", &Error{Op: "login", Kind: KindTransient, Err: err}
	}
	if status < 200 || status > 299 {
		kind := classifyStatus(status)
		if kind == KindPermanent {
			kind = KindAuth
		}
		return "", &Error{Op: "login", Kind: kind, Status: status, Err: errors.New(excerpt(raw))}
	}
	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil || strings.TrimSpace(lr.Token) == "" {
		return "", &Error{Op: "login", Kind: KindAuth, Status: status, Err: errors.New("no token in login response")}
	}
	tok := strings.TrimSpace(strings.TrimPrefix(lr.Token, "Bearer "))

	c.mu.Lock()
	c.token, c.exp = tok, tokenExpiry(tok)
	c.mu.Unlock()
	return tok, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// gateway is the only party that needs to trust it.
func tokenExpiry(tok string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return 0, nil, err
	}
	return res.StatusCode, raw, nil
}

func excerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	if s == "" {
		return "empty response"
	}
	return fmt.Sprintf("%q", s)
}
