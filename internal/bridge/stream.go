package bridge

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
	"github.com/agentbridge/agentbridge/internal/engine"
	"github.com/agentbridge/agentbridge/internal/prompt"
	"github.com/agentbridge/agentbridge/internal/session"
)

// streamState tracks where a translation is in its lifecycle. Transitions
// are strictly forward: started -> emitting -> finished or errored. Both
// terminal states are sinks; no chunk follows them.
type streamState int

const (
	stateStarted streamState = iota
	stateEmitting
	stateFinished
	stateErrored
)

// streamTranslator converts one engine event stream into OpenAI chat
// completion chunks. It owns the stream's lifecycle: ordering of content
// deltas, the single terminal chunk, and persistence of whatever thread ID
// and assistant text materialized, including on error and cancellation.
type streamTranslator struct {
	id      string
	model   string
	created int64

	events    <-chan engine.Event
	sessions  *session.Registry
	sessionID string

	promptTokens int

	state    streamState
	text     strings.Builder
	threadID string
	usage    *engine.Usage
}

// translate drives the event stream. Content chunks are yielded in engine
// order; the first one carries the assistant role. A successful run ends
// with exactly one terminal chunk holding the finish reason and usage. Any
// failure, including the stream ending without a terminal event, surfaces
// as a single yielded error after the chunks already delivered.
func (t *streamTranslator) translate(ctx context.Context) iter.Seq2[*types.ChatCompletionChunk, error] {
	return func(yield func(*types.ChatCompletionChunk, error) bool) {
		defer t.persist()

		for {
			select {
			case <-ctx.Done():
				t.state = stateErrored
				yield(nil, types.NewEngineError("run canceled: "+ctx.Err().Error()))
				return
			case ev, ok := <-t.events:
				if !ok {
					t.state = stateErrored
					yield(nil, types.NewEngineError("engine stream ended unexpectedly"))
					return
				}
				if done := t.handle(ev, yield); done {
					return
				}
			}
		}
	}
}

// handle processes one engine event, reporting whether the stream is done.
func (t *streamTranslator) handle(ev engine.Event, yield func(*types.ChatCompletionChunk, error) bool) bool {
	switch ev.Kind {
	case engine.KindContent:
		if ev.Text == "" {
			return false
		}
		chunk := t.contentChunk(ev.Text)
		t.text.WriteString(ev.Text)
		t.state = stateEmitting
		return !yield(chunk, nil)

	case engine.KindUsage:
		if ev.Usage != nil {
			t.usage = ev.Usage
		}
		return false

	case engine.KindCompleted:
		t.threadID = ev.ThreadID
		if ev.Usage != nil {
			t.usage = ev.Usage
		}
		t.state = stateFinished
		yield(t.terminalChunk(ev.FinishReason), nil)
		return true

	case engine.KindErrored:
		t.state = stateErrored
		yield(nil, streamError(ev.Err))
		return true

	default:
		return false
	}
}

// contentChunk shapes a text fragment as a delta chunk. The first chunk of
// the stream announces the assistant role.
func (t *streamTranslator) contentChunk(text string) *types.ChatCompletionChunk {
	delta := types.Delta{Content: text}
	if t.state == stateStarted {
		delta.Role = types.RoleAssistant
	}
	return &types.ChatCompletionChunk{
		ID:      t.id,
		Object:  types.ObjectChatCompletionChunk,
		Created: t.created,
		Model:   t.model,
		Choices: []types.ChunkChoice{{Index: 0, Delta: delta}},
	}
}

// terminalChunk closes the stream: empty delta, finish reason, and the
// run's usage, estimated when the engine reported none.
func (t *streamTranslator) terminalChunk(finishReason string) *types.ChatCompletionChunk {
	reason := toFinishReason(finishReason)
	usage := toUsage(t.usage, t.promptTokens, prompt.EstimateTokens(t.text.String()))
	return &types.ChatCompletionChunk{
		ID:      t.id,
		Object:  types.ObjectChatCompletionChunk,
		Created: t.created,
		Model:   t.model,
		Choices: []types.ChunkChoice{{Index: 0, FinishReason: &reason}},
		Usage:   &usage,
	}
}

// persist writes the run's surviving state back to the session: the thread
// handle the engine minted and the text that made it out. Runs that errored
// or were canceled keep their partial text so the session history reflects
// what the client saw.
func (t *streamTranslator) persist() {
	if t.sessionID == "" {
		return
	}
	if t.threadID != "" {
		t.sessions.BindThread(t.sessionID, t.threadID)
	}
	if text := t.text.String(); text != "" {
		t.sessions.AppendAssistant(t.sessionID, text)
	}
}

// streamError normalizes a failure into the client-facing error envelope.
func streamError(err error) error {
	var errResp *types.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp
	}
	return types.NewEngineError(err.Error())
}
