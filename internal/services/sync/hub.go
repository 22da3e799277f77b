package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"beadboard/internal/middleware"
	"beadboard/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: HUB AS THE CENTRAL COORDINATION POINT

One hub per server instance ties the pieces together:

  watcher signal ──► scheduler ──► refresh pass ──► per-key workers
                                                      │ fetch (bd CLI)
                                                      │ diff (registry)
                                                      ▼ fan out envelopes

Connection lifecycle runs through register/unregister channels handled by
a single event-loop goroutine, so the connection set has one writer.
*/

// ItemSource is what the hub needs from the record store: the current
// full membership for a spec. Must be safe to call concurrently for
// different specs. (Consumer-driven interface; bd-backed in production.)
type ItemSource interface {
	Fetch(ctx context.Context, spec models.SubscriptionSpec) ([]*models.Issue, error)
}

// Hub owns the registry, the scheduler and the set of live connections.
type Hub struct {
	source    ItemSource
	registry  *Registry
	scheduler *Scheduler

	register    chan *Conn
	unregister  chan *Conn
	connections map[*Conn]bool
	mu          sync.RWMutex

	done chan struct{}
}

func NewHub(source ItemSource, debounce, gateTimeout time.Duration) *Hub {
	h := &Hub{
		source:      source,
		registry:    NewRegistry(),
		register:    make(chan *Conn),
		unregister:  make(chan *Conn),
		connections: make(map[*Conn]bool),
		done:        make(chan struct{}),
	}
	h.scheduler = NewScheduler(debounce, gateTimeout, h.refreshPass)
	return h
}

// Registry exposes the subscription registry (used by tests and tooling).
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Start begins the hub event loop.
func (h *Hub) Start() {
	log.Println("🔄 Starting sync hub...")

	go func() {
		for {
			select {
			case <-h.done:
				log.Println("Sync hub shutting down...")
				return
			case c := <-h.register:
				h.handleRegister(c)
			case c := <-h.unregister:
				h.handleUnregister(c)
			}
		}
	}()

	log.Println("✓ Sync hub started")
}

// ConsumeSignals bridges a Change Notifier channel into the scheduler.
func (h *Hub) ConsumeSignals(signals <-chan struct{}) {
	go func() {
		for {
			select {
			case <-h.done:
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				h.scheduler.NotifyChange()
			}
		}
	}()
}

// AfterMutation arms the mutation gate. Called by the REST surface right
// after it drives a write through the bd CLI.
func (h *Hub) AfterMutation() {
	h.scheduler.AfterMutation()
}

func (h *Hub) handleRegister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[c] = true
	log.Printf("  Connection %s joined (total: %d)", c.ID, len(h.connections))
}

func (h *Hub) handleUnregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[c]; !ok {
		return
	}
	delete(h.connections, c)
	c.close()
	// Connection close tears down every subscription it held.
	h.registry.DetachAll(c)
	log.Printf("  Connection %s left (remaining: %d)", c.ID, len(h.connections))
}

// collectSpecs scans every live connection's subscription table and
// returns the distinct keys currently referenced, each with a
// representative spec to fetch with.
func (h *Hub) collectSpecs() map[string]models.SubscriptionSpec {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	specs := make(map[string]models.SubscriptionSpec)
	for _, c := range conns {
		for key, spec := range c.specsByKey() {
			if _, seen := specs[key]; !seen {
				specs[key] = spec
			}
		}
	}
	return specs
}

// refreshPass runs exactly one refresh over every active key. Keys are
// refreshed concurrently; a failing key is logged and skipped without
// touching the others.
func (h *Hub) refreshPass(reason string) {
	specs := h.collectSpecs()
	if len(specs) == 0 {
		return
	}

	ctx, span := middleware.StartSpan(context.Background(), "Sync.RefreshPass",
		attribute.String("refresh.reason", reason),
		attribute.Int("refresh.keys", len(specs)),
	)
	defer span.End()

	var wg sync.WaitGroup
	for key, spec := range specs {
		wg.Add(1)
		go func(key string, spec models.SubscriptionSpec) {
			defer wg.Done()
			h.refreshKey(ctx, key, spec)
		}(key, spec)
	}
	wg.Wait()
}

// refreshKey re-fetches one key under its key lock, applies the delta,
// and fans out envelopes. First population emits snapshots instead of
// deltas (covers keys that were attached but never populated).
func (h *Hub) refreshKey(ctx context.Context, key string, spec models.SubscriptionSpec) {
	h.registry.WithKeyLock(key, func(e *entry) {
		// Fetch under the key lock: the whole fetch -> diff -> apply
		// sequence is atomic per key, so a slow fetch can never apply
		// stale data over a newer refresh.
		items, err := h.source.Fetch(ctx, spec)
		if err != nil {
			// The failing key simply does not advance; viewers keep
			// their last-known-good state until a future pass succeeds.
			log.Printf("⚠️  Refresh fetch failed for %s: %v", key, err)
			middleware.AddSpanError(ctx, err)
			return
		}

		delta, wasPopulated := h.registry.applyLocked(e, items)

		if !wasPopulated {
			for _, c := range h.registry.entrySubscribers(e) {
				for _, subID := range c.subsForKey(key) {
					h.emitSnapshot(c, subID, key, items)
				}
			}
			return
		}
		if delta.Empty() {
			return
		}
		h.emitDelta(key, e, delta, items, nil)
	})
}

// SwitchWorkspace wipes the registry and tells every viewer to re-open
// its subscriptions against the new workspace.
func (h *Hub) SwitchWorkspace(path string) {
	h.registry.Clear()

	notice := &models.WorkspaceChanged{Type: models.MsgWorkspaceChanged, Path: path}
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.enqueue(notice); err != nil {
			log.Printf("⚠️  Failed to notify %s of workspace change: %v", c.ID, err)
		}
	}
}

// Shutdown gracefully closes all connections and stops the scheduler.
func (h *Hub) Shutdown() {
	log.Println("🛑 Shutting down sync hub...")

	h.scheduler.Stop()
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.connections {
		c.close()
		c.sock.Close()
	}
	h.connections = make(map[*Conn]bool)

	log.Println("✓ Sync hub shutdown complete")
}
