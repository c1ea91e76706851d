package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
	"github.com/agentbridge/agentbridge/internal/event"
)

func userMsg(text string) types.ChatMessage {
	return types.ChatMessage{Role: types.RoleUser, Content: text}
}

// backdate shifts a session's LastActive into the past.
func backdate(t *testing.T, r *Registry, id string, d time.Duration) {
	t.Helper()
	e := r.get(id)
	require.NotNil(t, e)
	e.mu.Lock()
	e.s.LastActive = e.s.LastActive.Add(-d)
	e.mu.Unlock()
}

func TestResolvePassthroughWithoutSessionID(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	in := []types.ChatMessage{
		{Role: types.RoleSystem, Content: "be terse"},
		userMsg("hello"),
	}

	out := r.Resolve(in, "")

	assert.Equal(t, in, out)
	assert.Empty(t, r.List(), "passthrough must not create sessions")
}

func TestResolveAccumulatesHistory(t *testing.T) {
	r := NewRegistry(time.Hour, nil)

	first := r.Resolve([]types.ChatMessage{userMsg("A")}, "sess")
	require.Len(t, first, 1)
	assert.Equal(t, "A", first[0].Content)

	r.AppendAssistant("sess", "reply to A")

	second := r.Resolve([]types.ChatMessage{userMsg("B")}, "sess")
	require.Len(t, second, 3)
	assert.Equal(t, "A", second[0].Content)
	assert.Equal(t, types.RoleAssistant, second[1].Role)
	assert.Equal(t, "reply to A", second[1].Content)
	assert.Equal(t, "B", second[2].Content)
}

func TestResolveExcludesSystemMessages(t *testing.T) {
	r := NewRegistry(time.Hour, nil)

	out := r.Resolve([]types.ChatMessage{
		{Role: types.RoleSystem, Content: "be terse"},
		userMsg("hello"),
	}, "sess")

	require.Len(t, out, 1)
	assert.Equal(t, types.RoleUser, out[0].Role)

	got, ok := r.Get("sess")
	require.True(t, ok)
	for _, m := range got.Messages {
		assert.NotEqual(t, types.RoleSystem, m.Role)
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	r := NewRegistry(time.Hour, nil)

	out := r.Resolve([]types.ChatMessage{userMsg("original")}, "sess")
	out[0].Content = "mutated"

	got, ok := r.Get("sess")
	require.True(t, ok)
	assert.Equal(t, "original", got.Messages[0].Content)
}

func TestBindThread(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	r.Resolve([]types.ChatMessage{userMsg("hi")}, "sess")

	r.BindThread("sess", "thread-1")
	got, _ := r.Get("sess")
	assert.Equal(t, "thread-1", got.ThreadID)

	// Idempotent rebind.
	r.BindThread("sess", "thread-1")
	got, _ = r.Get("sess")
	assert.Equal(t, "thread-1", got.ThreadID)

	// Last write wins.
	r.BindThread("sess", "thread-2")
	got, _ = r.Get("sess")
	assert.Equal(t, "thread-2", got.ThreadID)

	// Unknown session is a no-op.
	r.BindThread("ghost", "thread-3")
	_, ok := r.Get("ghost")
	assert.False(t, ok)
}

func TestAppendAssistantAfterExpiryIsNoOp(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	r.Resolve([]types.ChatMessage{userMsg("hi")}, "sess")

	backdate(t, r, "sess", 2*time.Minute)
	require.Equal(t, 1, r.sweepOnce(time.Now()))

	r.AppendAssistant("sess", "too late")

	_, ok := r.Get("sess")
	assert.False(t, ok, "expired session must not resurrect")
}

func TestSweepSparesRecentlyTouchedSessions(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	r.Resolve([]types.ChatMessage{userMsg("old")}, "stale")
	r.Resolve([]types.ChatMessage{userMsg("old")}, "busy")

	backdate(t, r, "stale", 5*time.Minute)
	backdate(t, r, "busy", 5*time.Minute)

	// The busy session gets touched before the sweep decision is applied.
	r.Resolve([]types.ChatMessage{userMsg("new activity")}, "busy")

	removed := r.sweepOnce(time.Now())

	assert.Equal(t, 1, removed)
	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("busy")
	assert.True(t, ok)
}

func TestSweepPublishesExpiryEvents(t *testing.T) {
	bus := event.NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	r := NewRegistry(time.Minute, bus)
	r.Resolve([]types.ChatMessage{userMsg("hi")}, "sess")
	backdate(t, r, "sess", 2*time.Minute)
	r.sweepOnce(time.Now())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-msgs:
			evt, err := event.Decode(msg)
			require.NoError(t, err)
			msg.Ack()
			if evt.Type == event.SessionExpired {
				assert.Equal(t, "sess", evt.SessionID)
				return
			}
		case <-deadline:
			t.Fatal("expiry event never arrived")
		}
	}
}

func TestRunSweeperStopsOnContextCancel(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.RunSweeper(ctx, 10*time.Millisecond) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestListOrderedByCreation(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	r.Resolve([]types.ChatMessage{userMsg("1")}, "b")
	r.Resolve([]types.ChatMessage{userMsg("2")}, "a")
	r.Resolve([]types.ChatMessage{userMsg("3")}, "c")

	list := r.List()
	require.Len(t, list, 3)

	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		ordered := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID)
		assert.True(t, ordered, "list out of order at %d", i)
	}

	assert.Equal(t, 1, list[0].MessageCount)
	assert.False(t, list[0].ExpiresAt.IsZero())
}

func TestDelete(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	r.Resolve([]types.ChatMessage{userMsg("hi")}, "sess")

	assert.True(t, r.Delete("sess"))
	assert.False(t, r.Delete("sess"), "second delete reports absence")
	_, ok := r.Get("sess")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	r := NewRegistry(time.Hour, nil)

	empty := r.Stats()
	assert.Zero(t, empty.ActiveSessions)
	assert.Nil(t, empty.OldestCreated)
	assert.Nil(t, empty.NewestCreated)

	r.Resolve([]types.ChatMessage{userMsg("one"), userMsg("two")}, "a")
	r.Resolve([]types.ChatMessage{userMsg("three")}, "b")
	r.AppendAssistant("b", "reply")

	stats := r.Stats()
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 4, stats.TotalMessages)
	assert.Positive(t, stats.TotalTokens)
	require.NotNil(t, stats.OldestCreated)
	require.NotNil(t, stats.NewestCreated)
	assert.False(t, stats.NewestCreated.Before(*stats.OldestCreated))
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	r := NewRegistry(time.Hour, nil)

	const workers = 20
	const perWorker = 10

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				r.Resolve([]types.ChatMessage{userMsg(fmt.Sprintf("w%d-%d", w, i))}, "shared")
				r.AppendAssistant("shared", fmt.Sprintf("r%d-%d", w, i))
			}
		}()
	}
	wg.Wait()

	got, ok := r.Get("shared")
	require.True(t, ok)
	assert.Len(t, got.Messages, workers*perWorker*2)
}

func TestConcurrentSweepAndTouch(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.Resolve([]types.ChatMessage{userMsg("hi")}, "sess")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Resolve([]types.ChatMessage{userMsg("tick")}, "sess")
				time.Sleep(time.Millisecond)
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.sweepOnce(time.Now())
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()

	// The run is far shorter than the TTL, so no sweep pass may have
	// removed the session regardless of interleaving.
	_, ok := r.Get("sess")
	assert.True(t, ok)
}
