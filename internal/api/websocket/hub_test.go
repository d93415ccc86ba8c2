package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func TestHubBroadcastsCheckEvents(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.register <- client

	hub.Publish(&models.CheckEvent{
		UserProfileID: "u1",
		Resource:      "document",
		Action:        models.ActionRead,
		Allowed:       true,
		Source:        models.SourceCache,
	})

	select {
	case payload := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "check", msg.Type)
		data, _ := json.Marshal(msg.Data)
		assert.Contains(t, string(data), `"userId":"u1"`)
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestHubDropsFramesForSlowClients(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := &Client{hub: hub, send: make(chan []byte)} // unbuffered, never read
	hub.register <- slow

	for i := 0; i < 10; i++ {
		hub.Publish(&models.CheckEvent{UserProfileID: "u1", Allowed: false})
	}
	// Publishing against a stalled client must not block.
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client
	hub.unregister <- client

	select {
	case _, open := <-client.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}
