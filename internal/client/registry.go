package client

import (
	"sync"

	"beadboard/internal/models"
)

type storeEntry struct {
	store  *IssueStore
	key    string
	cancel func() // detaches the registry fan-out listener
}

// StoreRegistry owns one IssueStore per active subscription id and
// resolves subscription-id reuse.
//
// Revision counters are meaningful only within a single (connection, key)
// stream. When an id is re-registered with a DIFFERENT spec, the old
// store is disposed and replaced with a fresh one (lastRevision = 0) so
// the new stream's lower revisions are accepted instead of being
// mistaken for stale deliveries. Re-registering the same spec is
// idempotent and preserves revision state (e.g. on remount).
type StoreRegistry struct {
	mu      sync.Mutex
	entries map[string]*storeEntry

	listeners    map[int]func()
	nextListener int
}

func NewStoreRegistry() *StoreRegistry {
	return &StoreRegistry{
		entries:   make(map[string]*storeEntry),
		listeners: make(map[int]func()),
	}
}

// Register returns the store for a subscription id, creating or
// replacing it according to the spec-change rule above. A nil spec never
// replaces an existing store.
func (r *StoreRegistry) Register(id string, spec *models.SubscriptionSpec) *IssueStore {
	key := ""
	if spec != nil {
		key = spec.Key()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		if spec == nil || e.key == key {
			return e.store
		}
		// Spec changed: retire the old stream's store entirely.
		e.cancel()
		e.store.Dispose()
	}

	store := NewIssueStore(id)
	cancel := store.Subscribe(r.notifyAll)
	r.entries[id] = &storeEntry{store: store, key: key, cancel: cancel}
	return store
}

// Unregister disposes and removes the store for a subscription id.
func (r *StoreRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.cancel()
		e.store.Dispose()
		delete(r.entries, id)
	}
}

// Get returns the store for a subscription id, if registered.
func (r *StoreRegistry) Get(id string) (*IssueStore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.store, true
}

// SnapshotFor returns the ordered view for a subscription id, or nil.
func (r *StoreRegistry) SnapshotFor(id string) []*models.Issue {
	store, ok := r.Get(id)
	if !ok {
		return nil
	}
	return store.Snapshot()
}

// Apply routes one push envelope to the matching store. Envelopes for
// unknown subscription ids are dropped (e.g. pushes in flight for a
// subscription the client just retired).
func (r *StoreRegistry) Apply(env *models.PushEnvelope) {
	store, ok := r.Get(env.ID)
	if !ok {
		return
	}
	store.ApplyPush(env)
}

// Subscribe registers a global listener notified once per underlying
// store mutation, for any store in the registry. Lets a view layer
// re-render once per logical change regardless of how many stores it
// watches. Returns a cancel function.
func (r *StoreRegistry) Subscribe(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *StoreRegistry) notifyAll() {
	r.mu.Lock()
	listeners := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
