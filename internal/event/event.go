// Package event publishes session lifecycle notifications over an in-process
// pub/sub bus so observers (the /v1/events feed, tests) can watch registry
// activity without coupling to it.
package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies what happened.
type Type string

const (
	SessionCreated  Type = "session.created"
	SessionDeleted  Type = "session.deleted"
	SessionExpired  Type = "session.expired"
	ThreadBound     Type = "session.thread_bound"
	MessageAppended Type = "message.appended"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh ID and the current timestamp.
func New(t Type, sessionID string, data map[string]any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      t,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Data:      data,
	}
}
