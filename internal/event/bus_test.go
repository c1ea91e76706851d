package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sent := New(SessionCreated, "sess-1", map[string]any{"messages": 2})
	require.NoError(t, bus.Publish(sent))

	select {
	case msg := <-msgs:
		got, err := Decode(msg)
		require.NoError(t, err)
		msg.Ack()

		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, SessionCreated, got.Type)
		assert.Equal(t, "sess-1", got.SessionID)
		assert.Equal(t, float64(2), got.Data["messages"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusSubscribeEndsOnContextCancel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-msgs:
		assert.False(t, open, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New(SessionCreated, "s", nil)
	b := New(SessionCreated, "s", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}
