// Package session tracks caller conversations across independent requests.
//
// A session maps a caller-chosen ID to the accumulated message history and
// the engine's native thread handle. Sessions live in memory only and expire
// after a TTL of inactivity; durability is explicitly not a goal.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/prompt"
)

// Defaults applied when the configuration does not say otherwise.
const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Session is the registry's record of one conversation. History never
// contains system messages; system prompts are derived per request.
type Session struct {
	ID         string              `json:"id"`
	ThreadID   string              `json:"thread_id,omitempty"`
	Messages   []types.ChatMessage `json:"messages"`
	CreatedAt  time.Time           `json:"created_at"`
	LastActive time.Time           `json:"last_active"`
	TokensUsed int                 `json:"tokens_used"`
}

// Summary is the listing view of a session, without the message bodies.
type Summary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	ThreadID     string    `json:"thread_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokensUsed   int       `json:"tokens_used"`
}

// Stats aggregates registry-wide counters for the stats endpoint.
type Stats struct {
	ActiveSessions int        `json:"active_sessions"`
	TotalMessages  int        `json:"total_messages"`
	TotalTokens    int        `json:"total_tokens"`
	OldestCreated  *time.Time `json:"oldest_created,omitempty"`
	NewestCreated  *time.Time `json:"newest_created,omitempty"`
}

// entry pairs a session with its own lock. Appends within one session
// serialize on this lock; sessions never contend with each other.
type entry struct {
	mu sync.Mutex
	s  Session
}

// snapshotLocked returns a copy safe to hand out. Callers must hold e.mu.
func (e *entry) snapshotLocked() Session {
	s := e.s
	s.Messages = slices.Clone(e.s.Messages)
	return s
}

// Registry is the in-memory session store. All methods are safe for
// concurrent use. Construct with NewRegistry and inject where needed.
type Registry struct {
	ttl time.Duration
	bus *event.Bus

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates a registry with the given idle TTL. bus may be nil
// when no observer cares about lifecycle events.
func NewRegistry(ttl time.Duration, bus *event.Bus) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		bus:     bus,
		entries: make(map[string]*entry),
	}
}

// TTL returns the configured idle lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Resolve merges incoming messages into the session's history and returns
// the full accumulated history, so the engine always sees complete context.
//
// With an empty sessionID the registry stays untouched and the input is
// returned as-is (stateless passthrough). Otherwise the session is created
// on first use, incoming non-system messages are appended in order, and the
// returned slice is a copy the caller may hold across the request.
func (r *Registry) Resolve(messages []types.ChatMessage, sessionID string) []types.ChatMessage {
	if sessionID == "" {
		return messages
	}

	e, created := r.getOrCreate(sessionID)

	e.mu.Lock()
	appended := 0
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			continue
		}
		e.s.Messages = append(e.s.Messages, m)
		e.s.TokensUsed += prompt.EstimateTokens(m.Content)
		appended++
	}
	e.s.LastActive = time.Now()
	effective := slices.Clone(e.s.Messages)
	e.mu.Unlock()

	if created {
		r.publish(event.SessionCreated, sessionID, nil)
	}
	if appended > 0 {
		r.publish(event.MessageAppended, sessionID, map[string]any{"count": appended})
	}

	return effective
}

// BindThread records the engine's thread handle for the session. Binding the
// same handle again is a no-op; on concurrent rebinds the last write wins.
// Unknown sessions are ignored.
func (r *Registry) BindThread(sessionID, threadID string) {
	if sessionID == "" || threadID == "" {
		return
	}

	e := r.get(sessionID)
	if e == nil {
		return
	}

	e.mu.Lock()
	changed := e.s.ThreadID != threadID
	e.s.ThreadID = threadID
	e.s.LastActive = time.Now()
	e.mu.Unlock()

	if changed {
		r.publish(event.ThreadBound, sessionID, map[string]any{"thread_id": threadID})
	}
}

// AppendAssistant appends the assistant's reply to the session history.
// A session that expired mid-request is a silent no-op, not an error.
func (r *Registry) AppendAssistant(sessionID, text string) {
	if sessionID == "" {
		return
	}

	e := r.get(sessionID)
	if e == nil {
		return
	}

	e.mu.Lock()
	e.s.Messages = append(e.s.Messages, types.ChatMessage{Role: types.RoleAssistant, Content: text})
	e.s.TokensUsed += prompt.EstimateTokens(text)
	e.s.LastActive = time.Now()
	e.mu.Unlock()

	r.publish(event.MessageAppended, sessionID, map[string]any{"count": 1, "role": types.RoleAssistant})
}

// Get returns a copy of the session. Mutating the copy does not affect the
// registry.
func (r *Registry) Get(id string) (Session, bool) {
	e := r.get(id)
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), true
}

// List returns summaries of all live sessions ordered by creation time,
// with the ID as tie-break so the order is deterministic.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	live := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		live = append(live, e)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(live))
	for _, e := range live {
		e.mu.Lock()
		out = append(out, Summary{
			ID:           e.s.ID,
			MessageCount: len(e.s.Messages),
			ThreadID:     e.s.ThreadID,
			CreatedAt:    e.s.CreatedAt,
			LastActive:   e.s.LastActive,
			ExpiresAt:    e.s.LastActive.Add(r.ttl),
			TokensUsed:   e.s.TokensUsed,
		})
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// Delete removes a session, reporting whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		r.publish(event.SessionDeleted, id, nil)
	}
	return ok
}

// Stats aggregates counters across all live sessions.
func (r *Registry) Stats() Stats {
	var stats Stats

	r.mu.RLock()
	live := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		live = append(live, e)
	}
	r.mu.RUnlock()

	for _, e := range live {
		e.mu.Lock()
		stats.ActiveSessions++
		stats.TotalMessages += len(e.s.Messages)
		stats.TotalTokens += e.s.TokensUsed
		created := e.s.CreatedAt
		e.mu.Unlock()

		if stats.OldestCreated == nil || created.Before(*stats.OldestCreated) {
			c := created
			stats.OldestCreated = &c
		}
		if stats.NewestCreated == nil || created.After(*stats.NewestCreated) {
			c := created
			stats.NewestCreated = &c
		}
	}

	return stats
}

// RunSweeper removes expired sessions on a fixed interval until ctx is
// canceled. Run it from the application's task group so the sweep stops
// with the process.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if removed := r.sweepOnce(now); removed > 0 {
				slog.InfoContext(ctx, "removed expired sessions", "count", removed)
			}
		}
	}
}

// sweepOnce removes every session idle past the TTL as of now. Candidates
// are snapshotted first, then each expiry is re-checked under the session's
// lock so a record touched after the snapshot survives.
func (r *Registry) sweepOnce(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	r.mu.RLock()
	candidates := make([]string, 0)
	for id, e := range r.entries {
		e.mu.Lock()
		last := e.s.LastActive
		e.mu.Unlock()
		if last.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range candidates {
		r.mu.Lock()
		e := r.entries[id]
		if e == nil {
			r.mu.Unlock()
			continue
		}

		e.mu.Lock()
		expired := e.s.LastActive.Before(cutoff)
		if expired {
			delete(r.entries, id)
		}
		e.mu.Unlock()
		r.mu.Unlock()

		if expired {
			removed++
			r.publish(event.SessionExpired, id, nil)
		}
	}

	return removed
}

// get returns the live entry or nil. Never creates.
func (r *Registry) get(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// getOrCreate returns the entry for id, creating it when absent. The double
// lookup avoids holding the write lock on the common hit path.
func (r *Registry) getOrCreate(id string) (*entry, bool) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e != nil {
		return e, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		return e, false
	}

	now := time.Now()
	e = &entry{s: Session{
		ID:         id,
		Messages:   []types.ChatMessage{},
		CreatedAt:  now,
		LastActive: now,
	}}
	r.entries[id] = e
	return e, true
}

func (r *Registry) publish(t event.Type, sessionID string, data map[string]any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(event.New(t, sessionID, data)); err != nil {
		slog.Warn("failed to publish session event", "type", string(t), "error", err)
	}
}
