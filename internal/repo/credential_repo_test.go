package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCredential_CreateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetCredential(ctx, "5511999998888", "bot42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}

	c, err := s.CreateCredential(ctx, "5511999998888", "bot42", "s3cretpw", map[string]any{"source": "whatsapp"})
	if err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	if c.ID == "" || c.Status != "active" {
		t.Fatalf("unexpected credential: %+v", c)
	}
	if !c.CreatedAt.Equal(c.LastInteractionAt) {
		t.Fatalf("timestamps should start equal: %v vs %v", c.CreatedAt, c.LastInteractionAt)
	}

	got, err := s.GetCredential(ctx, "5511999998888", "bot42")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.Password != "s3cretpw" || got.Metadata["source"] != "whatsapp" {
		t.Fatalf("readback mismatch: %+v", got)
	}

	// Same user under another bot is a separate credential.
	if _, err := s.CreateCredential(ctx, "5511999998888", "bot7", "otherpw1", nil); err != nil {
		t.Fatalf("create for other bot: %v", err)
	}
}

func TestCredential_CreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateCredential(ctx, "u1", "b1", "pw-one-1", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateCredential(ctx, "u1", "b1", "pw-two-2", nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, _ := s.GetCredential(ctx, "u1", "b1")
	if got.Password != "pw-one-1" {
		t.Fatalf("password must never be overwritten, got %q", got.Password)
	}
}

func TestCredential_ConcurrentCreate_OneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dups    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateCredential(ctx, "u1", "b1", "password", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicate):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || dups != n-1 {
		t.Fatalf("created=%d dups=%d; want 1 and %d", created, dups, n-1)
	}
	if cnt, _ := CountCredentials(ctx, s.DB(), "b1"); cnt != 1 {
		t.Fatalf("expected exactly one row, got %d", cnt)
	}
}

func TestCredential_Touch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.TouchCredential(ctx, "ghost", "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent credential, got %v", err)
	}

	c, err := s.CreateCredential(ctx, "u1", "b1", "password", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := c.LastInteractionAt.Add(90 * time.Second)
	s.now = func() time.Time { return later }

	got, err := s.TouchCredential(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !got.LastInteractionAt.Equal(later) {
		t.Fatalf("last_interaction_at=%v; want %v", got.LastInteractionAt, later)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) || got.Password != c.Password {
		t.Fatalf("touch must not change created_at or password: %+v", got)
	}
}
