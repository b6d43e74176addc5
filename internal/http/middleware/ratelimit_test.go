package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestKeyByIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c.Request = req

	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q", got)
	}
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, nil)
	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.POST("/webhook", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/webhook", nil, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	w := do(r, http.MethodPost, "/webhook", nil, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" || !strings.Contains(w.Body.String(), "rate_limited") {
		t.Fatalf("bad 429 response: %v %s", w.Header(), w.Body.String())
	}
}

func TestRateLimiter_ZeroRPSDisables(t *testing.T) {
	rl := NewRateLimiter(0, 1, nil)
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		if w := do(r, http.MethodGet, "/", nil, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_ReplayBypass(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}, rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, http.MethodGet, "/", nil, nil)
	if w := do(r, http.MethodGet, "/", nil, map[string]string{"X-Replay": "1"}); w.Code != http.StatusOK {
		t.Fatalf("replay should bypass, got %d", w.Code)
	}
}

func TestRateLimiter_IdleSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	now := time.Now()
	rl.now = func() time.Time { return now }

	old := rl.limiter("old")
	now = now.Add(rl.idleTTL)
	_ = rl.limiter("new")

	rl.mu.Lock()
	_, hasOld := rl.visitors["old"]
	_, hasNew := rl.visitors["new"]
	rl.mu.Unlock()
	if hasOld || !hasNew {
		t.Fatalf("old=%v new=%v", hasOld, hasNew)
	}
	if rl.limiter("old") == old {
		t.Fatal("evicted bucket should be recreated")
	}
}
