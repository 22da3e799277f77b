package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beadboard/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rejectingServer upgrades connections and answers every request with a
// structured error, standing in for a server that refuses the spec.
func rejectingServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer sock.Close()
		for {
			var msg models.ClientMessage
			if sock.ReadJSON(&msg) != nil {
				return
			}
			_ = sock.WriteJSON(&models.WireError{
				Type:    models.MsgError,
				ID:      msg.ID,
				Code:    models.ErrCodeInvalidSpec,
				Message: "unknown query type",
			})
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubscribeFailureRetiresStore(t *testing.T) {
	url := rejectingServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Subscribe(ctx, "tab:bad", models.SubscriptionSpec{Type: "everything"})
	require.Error(t, err)

	// The store registered ahead of the request must not outlive the
	// failed subscribe.
	_, ok := c.Stores().Get("tab:bad")
	assert.False(t, ok)

	// Nor may its fan-out listener: pushes for the dead id change nothing
	// and wake nobody.
	var calls int
	cancelSub := c.Stores().Subscribe(func() { calls++ })
	defer cancelSub()
	c.Stores().Apply(snapshotEnv("tab:bad", 1, wireIssue("bb-1", "ghost", time.Now())))
	assert.Nil(t, c.Stores().SnapshotFor("tab:bad"))
	assert.Equal(t, 0, calls)
}
