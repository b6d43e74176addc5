package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/wa-blip-relay/internal/domain"
)

const sampleRoutes = `
routes:
  - routing_key: "106540352242922"
    bot_id: bot42
    user_domain: tenant.domain
    ws_uri: wss://ws.tenant.domain:443
    meta_auth_token: EAAGtoken
  - routing_key: "200000000000001"
    bot_id: helpdesk
    user_domain: msging.net
`

func TestParseRoutes_OK(t *testing.T) {
	routes, err := ParseRoutes([]byte(sampleRoutes))
	if err != nil {
		t.Fatalf("ParseRoutes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	r := routes[0]
	if r.RoutingKey != "106540352242922" || r.BotID != "bot42" || r.UserDomain != "tenant.domain" ||
		r.WSURI != "wss://ws.tenant.domain:443" || r.MetaAuthToken != "EAAGtoken" {
		t.Fatalf("unexpected first route: %+v", r)
	}
}

func TestParseRoutes_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing bot":   "routes:\n  - routing_key: a\n    user_domain: x.io\n",
		"bad domain":    "routes:\n  - routing_key: a\n    bot_id: b\n    user_domain: 'not a host'\n",
		"bad ws uri":    "routes:\n  - routing_key: a\n    bot_id: b\n    user_domain: x.io\n    ws_uri: '::nope'\n",
		"duplicate key": "routes:\n  - {routing_key: a, bot_id: b, user_domain: x.io}\n  - {routing_key: a, bot_id: c, user_domain: y.io}\n",
		"not yaml":      "routes: [",
	}
	for name, raw := range cases {
		if _, err := ParseRoutes([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadRoutesFile_MissingFile(t *testing.T) {
	_, err := LoadRoutesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRoutes_UpsertResolveList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte(sampleRoutes), 0o600); err != nil {
		t.Fatal(err)
	}
	routes, err := LoadRoutesFile(path)
	if err != nil {
		t.Fatalf("LoadRoutesFile: %v", err)
	}
	if err := s.ImportRoutes(ctx, routes); err != nil {
		t.Fatalf("ImportRoutes: %v", err)
	}

	botID, err := s.ResolveBotID(ctx, "106540352242922")
	if err != nil || botID != "bot42" {
		t.Fatalf("ResolveBotID = %q, %v", botID, err)
	}
	if _, err := s.ResolveBotID(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown key, got %v", err)
	}
	if _, err := s.ResolveRoute(ctx, "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank key, got %v", err)
	}

	// Re-import overwrites in place.
	err = s.ImportRoutes(ctx, []domain.BotRoute{{RoutingKey: "106540352242922", BotID: "bot43", UserDomain: "tenant.domain"}})
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	r, err := s.ResolveRoute(ctx, "106540352242922")
	if err != nil || r.BotID != "bot43" {
		t.Fatalf("expected overwritten route, got %+v, %v", r, err)
	}

	all, err := s.Routes(ctx)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(all) != 2 || !strings.HasPrefix(all[0].RoutingKey, "1065") {
		t.Fatalf("unexpected list: %+v", all)
	}

	if err := s.ImportRoutes(ctx, nil); err != nil {
		t.Fatalf("empty import should be a no-op: %v", err)
	}
}
