package blip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("gateway-secret"))
	require.NoError(t, err)
	return tok
}

// fakeGateway issues tokens from next() and records deliveries.
type fakeGateway struct {
	t *testing.T

	logins     atomic.Int32
	deliveries atomic.Int32
	next       func(n int32) string
	// deliverStatus answers POST /api/blip/messages for the given bearer.
	deliverStatus func(bearer string) int

	mu   sync.Mutex
	last Delivery
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/login":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "relay" || body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := g.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": g.next(n)})
	case "/api/health":
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	case "/api/blip/messages":
		g.deliveries.Add(1)
		var d Delivery
		_ = json.NewDecoder(r.Body).Decode(&d)
		g.mu.Lock()
		g.last = d
		g.mu.Unlock()
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		w.WriteHeader(g.deliverStatus(bearer))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func sampleDelivery() Delivery {
	return Delivery{
		BotID:      "bot42",
		RoutingKey: "106540352242922",
		UserPhone:  "5511999998888",
		Identity:   "5511999998888.bot42@tenant.domain",
		Password:   "s3cretpw",
		UserDomain: "tenant.domain",
		NewAccount: true,
		Message:    OutboundMessage{ID: "m1", To: "bot42@msging.net", Type: "text/plain", Content: "oi"},
	}
}

func TestDeliver_LogsInOnceAndReusesToken(t *testing.T) {
	gw := &fakeGateway{t: t, deliverStatus: func(string) int { return http.StatusAccepted }}
	gw.next = func(int32) string { return signedToken(t, "relay", time.Now().Add(time.Hour)) }
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "pw"})
	ctx := context.Background()
	require.NoError(t, c.Deliver(ctx, sampleDelivery()))
	require.NoError(t, c.Deliver(ctx, sampleDelivery()))

	require.EqualValues(t, 1, gw.logins.Load())
	require.EqualValues(t, 2, gw.deliveries.Load())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Equal(t, "5511999998888.bot42@tenant.domain", gw.last.Identity)
	require.Equal(t, "s3cretpw", gw.last.Password)
	require.True(t, gw.last.NewAccount)
	require.Equal(t, "oi", gw.last.Message.Content)
}

func TestDeliver_RefreshesNearExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{t: t, deliverStatus: func(string) int { return http.StatusOK }}
	gw.next = func(int32) string { return signedToken(t, "relay", now.Add(time.Minute)) }
	srv := httptest.NewServer(gw)
	defer srv.Close()

	clock := now
	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "pw", Now: func() time.Time { return clock }})
	require.NoError(t, c.Deliver(context.Background(), sampleDelivery()))
	require.EqualValues(t, 1, gw.logins.Load())

	clock = now.Add(40 * time.Second) // inside the 30s skew
	require.NoError(t, c.Deliver(context.Background(), sampleDelivery()))
	require.EqualValues(t, 2, gw.logins.Load())
}

func TestDeliver_UnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	gw := &fakeGateway{t: t}
	gw.next = func(n int32) string { return signedToken(t, "gen"+string(rune('0'+n)), time.Time{}) }
	first := ""
	gw.deliverStatus = func(bearer string) int {
		if first == "" {
			first = bearer
		}
		if bearer == first {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "pw"})
	require.NoError(t, c.Deliver(context.Background(), sampleDelivery()))
	require.EqualValues(t, 2, gw.logins.Load())
	require.EqualValues(t, 2, gw.deliveries.Load())
}

func TestDeliver_PersistentAuthFailureSurfaces(t *testing.T) {
	gw := &fakeGateway{t: t, deliverStatus: func(string) int { return http.StatusForbidden }}
	gw.next = func(int32) string { return "opaque-token" }
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "pw"})
	err := c.Deliver(context.Background(), sampleDelivery())
	require.True(t, IsAuth(err), "got %v", err)
	require.EqualValues(t, 2, gw.deliveries.Load(), "exactly one retry")
}

func TestDeliver_BadLoginIsAuthError(t *testing.T) {
	gw := &fakeGateway{t: t, deliverStatus: func(string) int { return http.StatusOK }}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "wrong"})
	err := c.Deliver(context.Background(), sampleDelivery())
	require.True(t, IsAuth(err), "got %v", err)
	require.Zero(t, gw.deliveries.Load())
}

func TestDeliver_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusBadRequest, KindPermanent},
		{http.StatusUnprocessableEntity, KindPermanent},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
	}
	for _, tc := range cases {
		gw := &fakeGateway{t: t, deliverStatus: func(string) int { return tc.status }}
		srv := httptest.NewServer(gw)
		c := New(Options{BaseURL: srv.URL}) // open gateway, no login
		err := c.Deliver(context.Background(), sampleDelivery())
		srv.Close()

		var ge *Error
		require.ErrorAs(t, err, &ge, "status %d", tc.status)
		require.Equal(t, tc.kind, ge.Kind, "status %d", tc.status)
		require.Equal(t, tc.status, ge.Status)
		require.Equal(t, tc.kind == KindTransient, ge.Retryable())
	}
}

func TestDeliver_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	err := c.Deliver(context.Background(), sampleDelivery())
	require.True(t, IsTransient(err), "got %v", err)
	require.Less(t, time.Since(start), time.Second)
}

func TestPing(t *testing.T) {
	gw := &fakeGateway{t: t, deliverStatus: func(string) int { return http.StatusOK }}
	gw.next = func(int32) string { return "tok" }
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "pw"})
	require.NoError(t, c.Ping(context.Background()))

	open := New(Options{BaseURL: srv.URL})
	require.True(t, IsAuth(open.Ping(context.Background())))
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	require.True(t, tokenExpiry(signedToken(t, "x", exp)).Equal(exp))
	require.True(t, tokenExpiry(signedToken(t, "x", time.Time{})).IsZero())
	require.True(t, tokenExpiry("not-a-jwt").IsZero())
}

func TestDeliver_SharedLoginSurvivesOneCallersDeadline(t *testing.T) {
	gw := &fakeGateway{t: t, deliverStatus: func(string) int { return http.StatusAccepted }}
	gw.next = func(int32) string { return signedToken(t, "relay", time.Now().Add(time.Hour)) }
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			once.Do(func() { close(entered) })
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		gw.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "relay", Password: "pw", Timeout: 2 * time.Second})

	shortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	errA := make(chan error, 1)
	go func() { errA <- c.Deliver(shortCtx, sampleDelivery()) }()
	<-entered

	errB := make(chan error, 1)
	go func() { errB <- c.Deliver(context.Background(), sampleDelivery()) }()

	err := <-errA
	require.Error(t, err)
	require.True(t, IsTransient(err), "got %v", err)

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-errB)
	require.EqualValues(t, 1, gw.logins.Load())
	require.EqualValues(t, 1, gw.deliveries.Load())
}
