// Package dedup suppresses duplicate processing of re-delivered webhook
// events.
//
// Each message id moves through a small state machine:
//
//	absent -> in-flight -> completed -> (evicted)
//	             |
//	             +-- release --> absent
//
// Entries older than the retention window are treated as absent and removed by
// an amortized sweep that runs from Admit/Complete, or by Run when a background
// sweeper is wanted. State is process-local; a restart forgets everything.
package dedup

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a tracked message id.
type State uint8

const (
	// Absent means the id is unknown (never seen, released or evicted).
	Absent State = iota
	// InFlight means the id was admitted and is being processed.
	InFlight
	// Completed means processing finished; redeliveries are skipped.
	Completed
)

func (s State) String() string {
	switch s {
	case InFlight:
		return "in-flight"
	case Completed:
		return "completed"
	default:
		return "absent"
	}
}

// DefaultTTL is the retention window used when Options.TTL is zero.
const DefaultTTL = time.Hour

type entry struct {
	state      State
	recordedAt time.Time
}

// Options configures a Guard. Zero values pick sensible defaults.
type Options struct {
	// TTL is how long an entry is remembered. Defaults to DefaultTTL.
	TTL time.Duration
	// SweepInterval is the minimum spacing between amortized sweeps.
	// Defaults to TTL/60.
	SweepInterval time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
	// OnSize, when set, receives the entry count after every mutation.
	OnSize func(n int)
}

// Guard tracks in-flight and recently completed message ids.
//
// Guard is safe for concurrent use; Admit is atomic per id.
type Guard struct {
	mu         sync.Mutex
	entries    map[string]*entry
	ttl        time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
	onSize     func(int)
}

// New constructs a Guard.
func New(opts Options) *Guard {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	every := opts.SweepInterval
	if every <= 0 {
		every = ttl / 60
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Guard{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		sweepEvery: every,
		lastSweep:  now(),
		now:        now,
		onSize:     opts.OnSize,
	}
}

// Admit records id as in-flight and returns true, unless a live entry already
// exists for it, in which case it returns false. Expired entries count as
// absent. Empty ids are never admitted.
func (g *Guard) Admit(id string) bool {
	if id == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeSweepLocked(now)

	if e, ok := g.entries[id]; ok && now.Sub(e.recordedAt) < g.ttl {
		return false
	}
	g.entries[id] = &entry{state: InFlight, recordedAt: now}
	g.reportLocked()
	return true
}

// Complete marks id completed and stamps the completion time. Unknown ids are
// recorded as completed too, so a delivery receipt that arrives before (or
// without) its message still suppresses a later redelivery.
func (g *Guard) Complete(id string) {
	if id == "" {
		return
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeSweepLocked(now)

	if e, ok := g.entries[id]; ok {
		e.state = Completed
		e.recordedAt = now
	} else {
		g.entries[id] = &entry{state: Completed, recordedAt: now}
	}
	g.reportLocked()
}

// Release forgets id so a redelivery can be admitted again.
func (g *Guard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entries[id]; ok {
		delete(g.entries, id)
		g.reportLocked()
	}
}

// StateOf returns the current state of id, treating expired entries as absent.
func (g *Guard) StateOf(id string) State {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	if !ok || now.Sub(e.recordedAt) >= g.ttl {
		return Absent
	}
	return e.state
}

// EvictOlderThan removes every entry recorded d or more ago and returns how
// many were removed. An entry exactly d old is evicted.
func (g *Guard) EvictOlderThan(d time.Duration) int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.evictLocked(now, d)
	g.lastSweep = now
	return n
}

// Len returns the number of tracked entries, including expired ones not yet
// swept.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Run sweeps expired entries every SweepInterval until ctx is done.
func (g *Guard) Run(ctx context.Context) {
	t := time.NewTicker(g.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.EvictOlderThan(g.ttl)
		}
	}
}

func (g *Guard) maybeSweepLocked(now time.Time) {
	if now.Sub(g.lastSweep) < g.sweepEvery {
		return
	}
	g.evictLocked(now, g.ttl)
	g.lastSweep = now
}

func (g *Guard) evictLocked(now time.Time, d time.Duration) int {
	n := 0
	for k, e := range g.entries {
		if now.Sub(e.recordedAt) >= d {
			delete(g.entries, k)
			n++
		}
	}
	if n > 0 {
		g.reportLocked()
	}
	return n
}

func (g *Guard) reportLocked() {
	if g.onSize != nil {
		g.onSize(len(g.entries))
	}
}
