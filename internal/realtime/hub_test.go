package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(hub *Hub, resourceID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), ResourceID: resourceID, hub: hub, send: make(chan WSMessage, 4)}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return WSMessage{}
	}
}

func TestPublishStaysInRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	roomA, roomB := uuid.New(), uuid.New()
	a, b := testClient(hub, roomA), testClient(hub, roomB)
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 1, hub.RoomSize(roomA))

	require.NoError(t, hub.Publish(context.Background(), roomA, "reservation.created", map[string]string{"id": "r1"}))

	msg := receive(t, a)
	assert.Equal(t, "reservation.created", msg.Event)
	assert.JSONEq(t, `{"id":"r1"}`, string(msg.Data))
	assert.Empty(t, b.send)

	hub.Unregister(a)
	assert.Zero(t, hub.RoomSize(roomA))
}

func TestPublishThroughRedisReachesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bridge := NewRedisPubSub(client, nil)
	t.Cleanup(func() { _ = bridge.Close() })
	origin := NewHub(nil, bridge, bridge)
	remote := NewHub(nil, bridge, bridge)

	room := uuid.New()
	watcher := testClient(remote, room)
	remote.Register(watcher)
	t.Cleanup(func() { remote.Unregister(watcher) })

	require.NoError(t, origin.Publish(context.Background(), room, "reservation.cancelled", map[string]string{"id": "r2"}))

	msg := receive(t, watcher)
	assert.Equal(t, "reservation.cancelled", msg.Event)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "r2", body["id"])
}

func TestRedisBridgeFiltersRoomsAndCancels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bridge := NewRedisPubSub(client, nil)
	t.Cleanup(func() { _ = bridge.Close() })

	watched, other := uuid.New(), uuid.New()
	got := make(chan string, 4)
	cancel, err := bridge.SubscribeResource(watched, func(event string, _ []byte) { got <- event })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bridge.PublishResourceEvent(ctx, other, "reservation.created", []byte(`{}`)))
	require.NoError(t, bridge.PublishResourceEvent(ctx, watched, "reservation.updated", []byte(`{}`)))
	select {
	case ev := <-got:
		assert.Equal(t, "reservation.updated", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for watched room")
	}

	// an envelope naming another resource is dropped
	forged, err := json.Marshal(RoomEnvelope{ResourceID: other, Event: "reservation.cancelled", Data: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, roomChannel(watched), forged).Err())
	require.NoError(t, bridge.PublishResourceEvent(ctx, watched, "reservation.promoted", []byte(`{}`)))
	select {
	case ev := <-got:
		assert.Equal(t, "reservation.promoted", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after forged envelope")
	}

	cancel()
	require.NoError(t, bridge.PublishResourceEvent(ctx, watched, "reservation.cancelled", []byte(`{}`)))
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %q", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
