package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"beadboard/internal/middleware"
	"beadboard/internal/models"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

// subEntry records what one client-chosen subscription id on this
// connection points at.
type subEntry struct {
	Key  string
	Spec models.SubscriptionSpec
}

// Conn is one viewer connection. It owns the per-connection subscription
// table and the per-key revision counters.
//
// Revision counters are keyed by subscription KEY, not subscription id:
// two subscription ids on one connection that resolve to the same key
// consume a single shared sequence. Clients only compare revisions within
// one (connection, key) stream, so this stays consistent.
type Conn struct {
	ID   string
	sock *websocket.Conn
	hub  *Hub
	send chan []byte // Buffered channel for outbound messages

	mu        sync.Mutex
	closed    bool
	subs      map[string]subEntry // client subscription id -> entry
	revisions map[string]uint64   // key -> last issued revision
}

func newConn(hub *Hub, sock *websocket.Conn) *Conn {
	return &Conn{
		ID:        ksuid.New().String(),
		sock:      sock,
		hub:       hub,
		send:      make(chan []byte, 256),
		subs:      make(map[string]subEntry),
		revisions: make(map[string]uint64),
	}
}

// nextRevision issues the next revision for a key on this connection.
// Strictly increasing per (connection, key); called once per envelope.
func (c *Conn) nextRevision(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revisions[key]++
	return c.revisions[key]
}

// subsForKey returns the subscription ids on this connection mapped to key.
func (c *Conn) subsForKey(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, e := range c.subs {
		if e.Key == key {
			ids = append(ids, id)
		}
	}
	return ids
}

// specsByKey returns the distinct keys this connection references, with
// a representative spec for each. Scanned by the refresh pass.
func (c *Conn) specsByKey() map[string]models.SubscriptionSpec {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]models.SubscriptionSpec, len(c.subs))
	for _, e := range c.subs {
		out[e.Key] = e.Spec
	}
	return out
}

// setSub records a subscription id -> key mapping, returning the key it
// previously pointed at ("" if none or unchanged) and whether that old
// key is still referenced by another subscription id on this connection.
func (c *Conn) setSub(subID, key string, spec models.SubscriptionSpec) (oldKey string, oldKeyStillUsed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.subs[subID]; ok && prev.Key != key {
		oldKey = prev.Key
	}
	c.subs[subID] = subEntry{Key: key, Spec: spec}

	if oldKey != "" {
		for id, e := range c.subs {
			if id != subID && e.Key == oldKey {
				oldKeyStillUsed = true
				break
			}
		}
	}
	return oldKey, oldKeyStillUsed
}

// removeSub deletes a subscription id and reports its entry plus whether
// its key remains referenced by other subscription ids.
func (c *Conn) removeSub(subID string) (e subEntry, found, keyStillUsed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found = c.subs[subID]
	if !found {
		return e, false, false
	}
	delete(c.subs, subID)
	for _, other := range c.subs {
		if other.Key == e.Key {
			keyStillUsed = true
			break
		}
	}
	return e, true, keyStillUsed
}

// enqueue marshals a message and queues it for the write pump.
// Fire-and-forget: a slow or dead connection gets dropped rather than
// blocking refreshes for everyone else.
func (c *Conn) enqueue(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %s is closed", c.ID)
	}
	select {
	case c.send <- data:
		return nil
	default:
		// Buffer full - connection is slow/dead
		log.Printf("⚠️  Connection %s buffer full, dropping connection", c.ID)
		go func() { c.hub.unregister <- c }()
		return fmt.Errorf("connection %s send buffer full", c.ID)
	}
}

// close marks the connection dead and closes the send channel exactly once.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads client requests from the websocket.
// Each connection has its own goroutine reading from the socket.
func (c *Conn) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.sock.Close()
	}()

	c.sock.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", c.ID, err)
			}
			break
		}
		c.handleMessage(ctx, message)
	}
}

// handleMessage dispatches one inbound client request.
func (c *Conn) handleMessage(ctx context.Context, raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("", models.ErrCodeBadMessage, fmt.Errorf("malformed message: %w", err))
		return
	}

	ctx, span := middleware.StartSpan(ctx, "Sync.HandleMessage",
		attribute.String("connection.id", c.ID),
		attribute.String("message.action", msg.Action),
		attribute.String("subscription.id", msg.ID),
	)
	defer span.End()

	switch msg.Action {
	case models.ActionSubscribe:
		c.handleSubscribe(ctx, &msg)
	case models.ActionUnsubscribe:
		c.handleUnsubscribe(&msg)
	default:
		c.sendError(msg.ID, models.ErrCodeBadMessage, fmt.Errorf("unknown action %q", msg.Action))
	}
}

// handleSubscribe runs the full subscribe sequence: validate, fetch,
// attach, populate, snapshot, acknowledge. On any failure the client is
// left with NO partial state - it must never believe it is subscribed
// when the server has nothing for it.
func (c *Conn) handleSubscribe(ctx context.Context, msg *models.ClientMessage) {
	if msg.ID == "" {
		c.sendError("", models.ErrCodeBadMessage, fmt.Errorf("subscribe requires an id"))
		return
	}

	spec := msg.Spec()
	if err := spec.Validate(); err != nil {
		c.sendError(msg.ID, models.ErrCodeInvalidSpec, err)
		return
	}
	key := spec.Key()

	// The fetch runs INSIDE the key lock: the subscribe-time first fetch
	// must serialize with scheduled refreshes for the same key, or a slow
	// subscribe fetch returning stale data after a refresh applied newer
	// data would diff against it and push a reverting delta to every
	// other subscriber. Fetch BEFORE attaching: a source failure must not
	// leave the connection attached to an entry it never got a snapshot
	// for.
	var fetchErr error
	c.hub.registry.WithKeyLock(key, func(e *entry) {
		items, err := c.hub.source.Fetch(ctx, spec)
		if err != nil {
			fetchErr = err
			return
		}

		// Re-subscribing an existing id with a different spec replaces
		// the mapping; drop the old key's attachment unless another
		// subscription id on this connection still uses it.
		oldKey, oldKeyStillUsed := c.setSub(msg.ID, key, spec)
		if oldKey != "" && !oldKeyStillUsed {
			c.hub.registry.Detach(oldKey, c)
		}

		c.hub.registry.attachLocked(e, c)
		delta, wasPopulated := c.hub.registry.applyLocked(e, items)

		// The fresh fetch may have moved an already-populated entry;
		// everyone else interested in this key hears about it now
		// rather than waiting for the next scheduled pass.
		if wasPopulated && !delta.Empty() {
			c.hub.emitDelta(key, e, delta, items, &subRef{conn: c, subID: msg.ID})
		}

		c.hub.emitSnapshot(c, msg.ID, key, items)
	})
	if fetchErr != nil {
		middleware.AddSpanError(ctx, fetchErr)
		c.sendError(msg.ID, models.ErrCodeFetchFailed, fetchErr)
		return
	}

	if err := c.enqueue(&models.SubscribeAck{Type: models.MsgSubscribed, ID: msg.ID, Key: key}); err != nil {
		log.Printf("⚠️  Failed to ack subscribe on %s: %v", c.ID, err)
	}
}

// handleUnsubscribe removes a subscription id and detaches from the
// registry when no other id on this connection references the key.
func (c *Conn) handleUnsubscribe(msg *models.ClientMessage) {
	e, found, keyStillUsed := c.removeSub(msg.ID)

	removed := false
	if found && !keyStillUsed {
		removed = c.hub.registry.Detach(e.Key, c)
	}

	ack := &models.UnsubscribeAck{Type: models.MsgUnsubscribed, ID: msg.ID, Unsubscribed: removed}
	if err := c.enqueue(ack); err != nil {
		log.Printf("⚠️  Failed to ack unsubscribe on %s: %v", c.ID, err)
	}
}

func (c *Conn) sendError(subID, code string, err error) {
	wire := &models.WireError{
		Type:    models.MsgError,
		ID:      subID,
		Code:    code,
		Message: err.Error(),
	}
	if enqErr := c.enqueue(wire); enqErr != nil {
		log.Printf("⚠️  Failed to send error to %s: %v", c.ID, enqErr)
	}
}

// WritePump drains the send channel onto the websocket.
// A separate goroutine per connection prevents slow clients from
// blocking the refresh path.
func (c *Conn) WritePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second) // Ping interval
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
