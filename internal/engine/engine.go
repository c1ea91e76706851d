// Package engine abstracts the backend agent engine the bridge dispatches
// prompts to.
//
// The engine's interface is deliberately linear: one prompt in, one response
// out, with continuity carried by opaque thread IDs the engine mints. Two
// implementations exist: Local runs the engine binary as a subprocess,
// Remote talks to an engine daemon over HTTP. Both emit the same event
// stream; neither retries, that policy belongs to the engine or the caller.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates stream events.
type Kind string

const (
	// KindContent carries an assistant text fragment.
	KindContent Kind = "content"
	// KindUsage carries a cumulative token usage snapshot.
	KindUsage Kind = "usage"
	// KindCompleted terminates a successful run.
	KindCompleted Kind = "completed"
	// KindErrored terminates a failed run.
	KindErrored Kind = "errored"
)

// Usage is the engine's token accounting. Snapshots are cumulative; the
// latest one wins.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is one element of a run's event stream. Exactly one terminal event
// (KindCompleted or KindErrored) ends every well-behaved stream.
type Event struct {
	Kind         Kind
	Text         string // KindContent
	Usage        *Usage // KindUsage, KindCompleted
	ThreadID     string // KindCompleted
	FinishReason string // KindCompleted, may be empty
	Err          error  // KindErrored
}

// Result is the folded outcome of a buffered run.
type Result struct {
	Text         string
	ThreadID     string
	FinishReason string
	Usage        *Usage
}

// Handle identifies the conversation a run continues. Handles are cheap
// descriptors; the engine materializes state on first run.
type Handle struct {
	ThreadID string
	Workdir  string
}

// Engine is the dispatch boundary to the backend agent.
//
// RunStreamed returns a channel that the implementation closes after the
// terminal event. Consumers must either drain the channel or cancel ctx;
// implementations never block forever on an abandoned stream.
type Engine interface {
	StartConversation(ctx context.Context, workdir string) (Handle, error)
	ResumeConversation(ctx context.Context, threadID string) (Handle, error)
	Run(ctx context.Context, h Handle, promptText, systemPrompt string) (Result, error)
	RunStreamed(ctx context.Context, h Handle, promptText, systemPrompt string) (<-chan Event, error)
}

// wireEvent is the JSON payload of one engine event. The local engine's
// stdout lines and the remote daemon's SSE data fields share this shape.
type wireEvent struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Message      string `json:"message,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// decodeEvent parses one wire payload. known is false for event types this
// version does not understand; callers skip those to stay forward
// compatible. A decode error means the stream itself is broken.
func decodeEvent(data []byte) (ev Event, known bool, err error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, false, fmt.Errorf("malformed engine event: %w", err)
	}

	switch w.Type {
	case "content":
		return Event{Kind: KindContent, Text: w.Text}, true, nil
	case "usage":
		return Event{Kind: KindUsage, Usage: w.Usage}, true, nil
	case "done":
		return Event{
			Kind:         KindCompleted,
			ThreadID:     w.ThreadID,
			FinishReason: w.FinishReason,
			Usage:        w.Usage,
		}, true, nil
	case "error":
		msg := w.Message
		if msg == "" {
			msg = "engine reported an error"
		}
		return Event{Kind: KindErrored, Err: errors.New(msg)}, true, nil
	default:
		return Event{}, false, nil
	}
}

// send delivers ev unless ctx ends first, reporting whether delivery
// happened.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// collect folds a run's event stream into a buffered Result. The stream
// ending without a terminal event is an error.
func collect(ctx context.Context, events <-chan Event) (Result, error) {
	var res Result
	var sb strings.Builder

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return Result{}, errors.New("engine stream ended without completion")
			}
			switch ev.Kind {
			case KindContent:
				sb.WriteString(ev.Text)
			case KindUsage:
				if ev.Usage != nil {
					res.Usage = ev.Usage
				}
			case KindCompleted:
				res.Text = sb.String()
				res.ThreadID = ev.ThreadID
				res.FinishReason = ev.FinishReason
				if ev.Usage != nil {
					res.Usage = ev.Usage
				}
				return res, nil
			case KindErrored:
				return Result{}, fmt.Errorf("engine run failed: %w", ev.Err)
			}
		}
	}
}
