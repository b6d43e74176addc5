package middleware

import (
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-blip-relay/internal/dedup"
)

// memWindow is a minimal KeyWindow.
type memWindow struct {
	mu    sync.Mutex
	state map[string]string
}

func newMemWindow() *memWindow { return &memWindow{state: map[string]string{}} }

func (m *memWindow) Admit(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[id]; ok {
		return false
	}
	m.state[id] = "inflight"
	return true
}

func (m *memWindow) Complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[id] = "done"
}

func (m *memWindow) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, id)
}

func (m *memWindow) StateOf(id string) dedup.State {
	switch m.get(id) {
	case "inflight":
		return dedup.InFlight
	case "done":
		return dedup.Completed
	}
	return dedup.Absent
}

func (m *memWindow) get(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[id]
}

func idemRouter(win KeyWindow, status *int) *gin.Engine {
	r := gin.New()
	r.Use(Idempotency(IdempotencyOptions{MaxLen: 16}, win))
	r.POST("/send", func(c *gin.Context) {
		if IsReplay(c) {
			c.JSON(http.StatusOK, gin.H{"duplicate": true})
			return
		}
		key, _ := GetIdempotencyKey(c)
		c.JSON(*status, gin.H{"key": key})
	})
	return r
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	win := newMemWindow()
	status := http.StatusOK
	w := do(idemRouter(win, &status), http.MethodPost, "/send", nil, nil)
	if w.Code != http.StatusOK || len(win.state) != 0 {
		t.Fatalf("code=%d state=%v", w.Code, win.state)
	}
}

func TestIdempotency_InvalidKey(t *testing.T) {
	status := http.StatusOK
	r := idemRouter(newMemWindow(), &status)
	for _, k := range []string{"has space", strings.Repeat("a", 17)} {
		w := do(r, http.MethodPost, "/send", nil, map[string]string{HeaderIdempotencyKey: k})
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: code=%d body=%s", k, w.Code, w.Body.String())
		}
	}
}

func TestIdempotency_ReplayAfterSuccess(t *testing.T) {
	win := newMemWindow()
	status := http.StatusOK
	r := idemRouter(win, &status)
	hdr := map[string]string{HeaderIdempotencyKey: "k-1"}

	w := do(r, http.MethodPost, "/send", nil, hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"key":"k-1"`) {
		t.Fatalf("first: %d %s", w.Code, w.Body.String())
	}
	if got := win.get("/send|k-1"); got != "done" {
		t.Fatalf("key state = %q", got)
	}

	w = do(r, http.MethodPost, "/send", nil, hdr)
	if !strings.Contains(w.Body.String(), `"duplicate":true`) {
		t.Fatalf("replay not detected: %s", w.Body.String())
	}
}

func TestIdempotency_InFlightRepeatIsConflict(t *testing.T) {
	win := newMemWindow()
	entered := make(chan struct{})
	release := make(chan struct{})
	r := gin.New()
	r.Use(Idempotency(IdempotencyOptions{}, win))
	r.POST("/send", func(c *gin.Context) {
		if IsReplay(c) {
			c.JSON(http.StatusOK, gin.H{"duplicate": true})
			return
		}
		close(entered)
		<-release
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	hdr := map[string]string{HeaderIdempotencyKey: "k-4"}

	first := make(chan int, 1)
	go func() { first <- do(r, http.MethodPost, "/send", nil, hdr).Code }()
	<-entered

	w := do(r, http.MethodPost, "/send", nil, hdr)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "idempotency_in_flight") {
		t.Fatalf("in-flight repeat: code=%d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	close(release)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first: code=%d", code)
	}

	w = do(r, http.MethodPost, "/send", nil, hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"duplicate":true`) {
		t.Fatalf("completed repeat: code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestIdempotency_FailureReleasesKey(t *testing.T) {
	win := newMemWindow()
	status := http.StatusBadGateway
	r := idemRouter(win, &status)
	hdr := map[string]string{HeaderIdempotencyKey: "k-2"}

	do(r, http.MethodPost, "/send", nil, hdr)
	if got := win.get("/send|k-2"); got != "" {
		t.Fatalf("failed attempt must release the key, state=%q", got)
	}

	status = http.StatusOK
	w := do(r, http.MethodPost, "/send", nil, hdr)
	if strings.Contains(w.Body.String(), "duplicate") {
		t.Fatalf("retry after failure must be processed: %s", w.Body.String())
	}
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	captureLogs(t)
	win := newMemWindow()
	r := gin.New()
	r.Use(Recovery(), Idempotency(IdempotencyOptions{}, win))
	r.POST("/send", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodPost, "/send", nil, map[string]string{HeaderIdempotencyKey: "k-3"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", w.Code)
	}
	if got := win.get("/send|k-3"); got != "" {
		t.Fatalf("state = %q", got)
	}
}
