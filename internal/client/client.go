package client

import (
	"context"
	"fmt"
	"log"
	"sync"

	"beadboard/internal/models"

	"github.com/gorilla/websocket"
)

// Client is a Go viewer for the sync websocket. It dials the server,
// issues subscribe/unsubscribe requests, and routes push envelopes into
// a StoreRegistry by subscription id - no other correlation is needed.
type Client struct {
	sock   *websocket.Conn
	stores *StoreRegistry

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	pending map[string]chan *models.ServerMessage

	// OnWorkspaceChanged, if set, is invoked when the server wipes its
	// registry; every subscription must be re-opened afterwards.
	OnWorkspaceChanged func(path string)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a sync server, e.g. "ws://localhost:8080/ws/sync".
func Dial(ctx context.Context, url string) (*Client, error) {
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		sock:    sock,
		stores:  NewStoreRegistry(),
		pending: make(map[string]chan *models.ServerMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Stores returns the client's store registry.
func (c *Client) Stores() *StoreRegistry {
	return c.stores
}

// Subscribe opens (or re-specs) a subscription and waits for the server
// acknowledgment. The local store is registered BEFORE the request goes
// out so the snapshot push has somewhere to land even if it races the
// ack; a failed subscribe retires it again so no dead store (or its
// fan-out listener) lingers. Returns the resolved canonical key.
func (c *Client) Subscribe(ctx context.Context, id string, spec models.SubscriptionSpec) (string, error) {
	c.stores.Register(id, &spec)

	reply, err := c.request(ctx, id, &models.ClientMessage{
		Action: models.ActionSubscribe,
		ID:     id,
		Type:   spec.Type,
		Params: spec.Params,
	})
	if err != nil {
		c.stores.Unregister(id)
		return "", err
	}
	if reply.Type == models.MsgError {
		c.stores.Unregister(id)
		return "", fmt.Errorf("subscribe %s failed: %s (%s)", id, reply.Message, reply.Code)
	}
	return reply.Key, nil
}

// Unsubscribe closes a subscription and retires the local store.
func (c *Client) Unsubscribe(ctx context.Context, id string) (bool, error) {
	defer c.stores.Unregister(id)

	reply, err := c.request(ctx, id, &models.ClientMessage{
		Action: models.ActionUnsubscribe,
		ID:     id,
	})
	if err != nil {
		return false, err
	}
	if reply.Type == models.MsgError {
		return false, fmt.Errorf("unsubscribe %s failed: %s (%s)", id, reply.Message, reply.Code)
	}
	return reply.Unsubscribed, nil
}

// request sends one client message and waits for the reply carrying the
// same subscription id.
func (c *Client) request(ctx context.Context, id string, msg *models.ClientMessage) (*models.ServerMessage, error) {
	ch := make(chan *models.ServerMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.sock.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", msg.Action, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

// readLoop routes inbound server messages: pushes go to the matching
// store, replies go to the waiting request, everything else is logged.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		var msg models.ServerMessage
		if err := c.sock.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("sync client read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case models.MsgSnapshot, models.MsgUpsert, models.MsgDelete:
			c.stores.Apply(msg.Envelope())

		case models.MsgSubscribed, models.MsgUnsubscribed, models.MsgError:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- &msg:
				default:
				}
			} else if msg.Type == models.MsgError {
				log.Printf("sync server error: %s (%s)", msg.Message, msg.Code)
			}

		case models.MsgWorkspaceChanged:
			log.Printf("workspace changed to %q; subscriptions must be re-opened", msg.Path)
			if c.OnWorkspaceChanged != nil {
				c.OnWorkspaceChanged(msg.Path)
			}

		default:
			log.Printf("unknown server message type %q", msg.Type)
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sock.Close()
	})
	return err
}
