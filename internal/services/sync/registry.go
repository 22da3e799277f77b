package sync

import (
	"sync"

	"beadboard/internal/models"
)

/*
LEARNING: SHARED MUTABLE STATE UNDER CONCURRENCY

The registry is touched from every connection goroutine (subscribe,
unsubscribe, disconnect) and from the refresh scheduler's per-key workers.
Two lock levels keep that safe without serializing everything:

1. registry.mu guards the entry map and subscriber sets - held briefly.
2. entry.keyMu is the per-key lock - held across an entire
   fetch -> diff -> apply sequence so two overlapping refreshes for the
   SAME key can never interleave and emit deltas out of causal order.
   Refreshes for different keys run fully in parallel.
*/

// Delta is the membership/content difference between two successive
// fetches for one key.
type Delta struct {
	Added   []string
	Updated []string
	Removed []string
}

// Empty reports whether a refresh produced no observable change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// entry is the canonical server-side state for one subscription key:
// the last known full item set plus the connections interested in it.
type entry struct {
	keyMu       sync.Mutex
	itemsByID   map[string]*models.Issue
	populated   bool // false until the first ApplyItems
	subscribers map[*Conn]bool
}

// Registry owns one entry per live subscription key. It is the single
// point of truth for "what changed" between fetches.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// getOrCreate lazily creates the entry for a key. Idle entries are cheap
// and deliberately kept around after their last subscriber detaches.
func (r *Registry) getOrCreate(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{
			itemsByID:   make(map[string]*models.Issue),
			subscribers: make(map[*Conn]bool),
		}
		r.entries[key] = e
	}
	return e
}

// Attach adds a connection to a key's subscriber set. Idempotent per
// (key, connection) pair.
func (r *Registry) Attach(key string, c *Conn) {
	e := r.getOrCreate(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	e.subscribers[c] = true
}

// Detach removes a connection from a key's subscriber set and reports
// whether it was present. The entry itself is kept even when the set
// becomes empty; Clear is the explicit full wipe.
func (r *Registry) Detach(key string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if !e.subscribers[c] {
		return false
	}
	delete(e.subscribers, c)
	return true
}

// DetachAll removes a connection from every entry it was attached to.
// Called on connection close.
func (r *Registry) DetachAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		delete(e.subscribers, c)
	}
}

// Subscribers returns a snapshot of the connections attached to a key.
func (r *Registry) Subscribers(key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	conns := make([]*Conn, 0, len(e.subscribers))
	for c := range e.subscribers {
		conns = append(conns, c)
	}
	return conns
}

// lockEntry resolves the live entry for key and returns it with its key
// lock held. If Clear swaps the entry map while we wait for the lock, the
// lock we acquired belongs to a retired entry; retry against the live one
// so two "locked" holders can never coexist for the same key.
func (r *Registry) lockEntry(key string) *entry {
	for {
		e := r.getOrCreate(key)
		e.keyMu.Lock()
		r.mu.RLock()
		live := r.entries[key] == e
		r.mu.RUnlock()
		if live {
			return e
		}
		e.keyMu.Unlock()
	}
}

// WithKeyLock runs fn while holding the key lock for key's live entry,
// serializing concurrent fetch -> diff -> apply sequences for the same
// key. The registry-level lock is NOT held while fn runs, so slow fetches
// never block other keys. fn receives the locked entry; apply and attach
// through it so a concurrent Clear cannot redirect writes onto a
// different entry object.
func (r *Registry) WithKeyLock(key string, fn func(e *entry)) {
	e := r.lockEntry(key)
	defer e.keyMu.Unlock()
	fn(e)
}

// attachLocked adds a connection to a locked entry's subscriber set.
func (r *Registry) attachLocked(e *entry, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.subscribers[c] = true
}

// entrySubscribers snapshots the connections attached to a specific
// (usually locked) entry.
func (r *Registry) entrySubscribers(e *entry) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(e.subscribers))
	for c := range e.subscribers {
		conns = append(conns, c)
	}
	return conns
}

// ApplyItems resolves the live entry for key and applies a fresh fetch
// under its key lock. Lock-taking convenience form; code already inside
// WithKeyLock uses applyLocked on the entry it holds.
func (r *Registry) ApplyItems(key string, items []*models.Issue) (delta Delta, wasPopulated bool) {
	r.WithKeyLock(key, func(e *entry) {
		delta, wasPopulated = r.applyLocked(e, items)
	})
	return delta, wasPopulated
}

// applyLocked replaces a locked entry's item set and returns the delta
// plus whether the entry had already been populated. The delta MUST be
// computed before the old state is overwritten, and the caller MUST hold
// e.keyMu (via WithKeyLock).
func (r *Registry) applyLocked(e *entry, items []*models.Issue) (Delta, bool) {
	next := make(map[string]*models.Issue, len(items))
	for _, item := range items {
		next[item.ID] = item
	}

	var delta Delta
	for id, item := range next {
		prev, existed := e.itemsByID[id]
		switch {
		case !existed:
			delta.Added = append(delta.Added, id)
		case !prev.Equal(item):
			delta.Updated = append(delta.Updated, id)
		}
	}
	for id := range e.itemsByID {
		if _, still := next[id]; !still {
			delta.Removed = append(delta.Removed, id)
		}
	}

	wasPopulated := e.populated

	r.mu.Lock()
	e.itemsByID = next
	e.populated = true
	r.mu.Unlock()

	return delta, wasPopulated
}

// Items returns the stored issues for a key. Caller should hold the key
// lock when consistency with a concurrent refresh matters.
func (r *Registry) Items(key string) []*models.Issue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	items := make([]*models.Issue, 0, len(e.itemsByID))
	for _, item := range e.itemsByID {
		items = append(items, item)
	}
	return items
}

// Clear wipes every entry (workspace/database switch). Callers are
// responsible for notifying connections out-of-band; subscriber sets are
// not torn down individually.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}
