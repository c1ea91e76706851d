package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
	"github.com/agentbridge/agentbridge/internal/engine"
	"github.com/agentbridge/agentbridge/internal/session"
)

// runStream drains a chunk iterator, returning the chunks delivered before
// any error and the first error yielded.
func runStream(t *testing.T, b *Bridge, req ChatCompletionRequest) ([]*ChatCompletionChunk, error) {
	t.Helper()
	stream, err := b.ProcessStreamingRequest(context.Background(), req)
	require.NoError(t, err)

	var chunks []*ChatCompletionChunk
	for chunk, err := range stream {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStreamTranslation(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindContent, Text: "Hel"},
		{Kind: engine.KindContent, Text: "lo"},
		{Kind: engine.KindCompleted, ThreadID: "th_1", FinishReason: "stop", Usage: &engine.Usage{InputTokens: 4, OutputTokens: 2}},
	}}
	b, _ := newTestBridge(eng)

	chunks, err := runStream(t, b, userRequest("Hi"))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	first := chunks[0]
	assert.Equal(t, types.ObjectChatCompletionChunk, first.Object)
	assert.Equal(t, types.RoleAssistant, first.Choices[0].Delta.Role)
	assert.Equal(t, "Hel", first.Choices[0].Delta.Content)
	assert.Nil(t, first.Choices[0].FinishReason)
	assert.Nil(t, first.Usage)

	second := chunks[1]
	assert.Empty(t, second.Choices[0].Delta.Role, "only the first chunk announces the role")
	assert.Equal(t, "lo", second.Choices[0].Delta.Content)

	terminal := chunks[2]
	assert.Empty(t, terminal.Choices[0].Delta.Content)
	require.NotNil(t, terminal.Choices[0].FinishReason)
	assert.Equal(t, types.FinishReasonStop, *terminal.Choices[0].FinishReason)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, types.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, *terminal.Usage)

	// One response identity across the whole stream.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, terminal.ID)
	assert.Equal(t, first.Created, terminal.Created)
}

func TestStreamEmptyRun(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindCompleted, ThreadID: "th_1"},
	}}
	b, _ := newTestBridge(eng)

	chunks, err := runStream(t, b, userRequest("Hi"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	terminal := chunks[0]
	require.NotNil(t, terminal.Choices[0].FinishReason)
	assert.Equal(t, types.FinishReasonStop, *terminal.Choices[0].FinishReason)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 0, terminal.Usage.CompletionTokens)
}

func TestStreamUsageEstimateFallback(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindContent, Text: "abcd"},
		{Kind: engine.KindCompleted, ThreadID: "th_1"},
	}}
	b, _ := newTestBridge(eng)

	chunks, err := runStream(t, b, userRequest("Hi"))
	require.NoError(t, err)

	terminal := chunks[len(chunks)-1]
	require.NotNil(t, terminal.Usage)
	// "User: Hi" is 8 chars -> 2 tokens; "abcd" is 4 chars -> 1 token.
	assert.Equal(t, types.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3}, *terminal.Usage)
}

func TestStreamUsageSnapshots(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindUsage, Usage: &engine.Usage{InputTokens: 4, OutputTokens: 1}},
		{Kind: engine.KindContent, Text: "hi"},
		{Kind: engine.KindUsage, Usage: &engine.Usage{InputTokens: 4, OutputTokens: 3}},
		{Kind: engine.KindCompleted, ThreadID: "th_1"},
	}}
	b, _ := newTestBridge(eng)

	chunks, err := runStream(t, b, userRequest("Hi"))
	require.NoError(t, err)

	terminal := chunks[len(chunks)-1]
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 3, terminal.Usage.CompletionTokens, "latest usage snapshot wins")
}

func TestStreamEngineError(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindContent, Text: "partial answer"},
		{Kind: engine.KindErrored, Err: assert.AnError},
	}}
	b, _ := newTestBridge(eng)

	chunks, err := runStream(t, b, userRequest("Hi"))
	require.Error(t, err)

	// Chunks delivered before the failure stay delivered.
	require.Len(t, chunks, 1)
	assert.Equal(t, "partial answer", chunks[0].Choices[0].Delta.Content)

	var errResp *types.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, types.ErrorTypeEngine, errResp.Err.Type)
}

func TestStreamEndsWithoutTerminalEvent(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindContent, Text: "cut"},
	}}
	b, _ := newTestBridge(eng)

	chunks, err := runStream(t, b, userRequest("Hi"))
	require.Error(t, err)
	require.Len(t, chunks, 1)

	var errResp *types.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Contains(t, errResp.Err.Message, "ended unexpectedly")
}

func TestStreamDispatchFailure(t *testing.T) {
	eng := &fakeEngine{runErr: assert.AnError}
	b, _ := newTestBridge(eng)

	_, err := b.ProcessStreamingRequest(context.Background(), userRequest("Hi"))
	require.Error(t, err)

	var errResp *types.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, types.ErrorTypeEngine, errResp.Err.Type)
}

func TestStreamPersistsSessionState(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindContent, Text: "Hello "},
		{Kind: engine.KindContent, Text: "there"},
		{Kind: engine.KindCompleted, ThreadID: "th_7", FinishReason: "stop"},
	}}
	b, sessions := newTestBridge(eng)

	req := userRequest("Hi")
	req.SessionID = "s1"
	_, err := runStream(t, b, req)
	require.NoError(t, err)

	s, ok := sessions.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "th_7", s.ThreadID)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, types.RoleAssistant, s.Messages[1].Role)
	assert.Equal(t, "Hello there", s.Messages[1].Content)
}

func TestStreamPersistsPartialTextOnError(t *testing.T) {
	eng := &fakeEngine{events: []engine.Event{
		{Kind: engine.KindContent, Text: "partial"},
		{Kind: engine.KindErrored, Err: assert.AnError},
	}}
	b, sessions := newTestBridge(eng)

	req := userRequest("Hi")
	req.SessionID = "s1"
	_, err := runStream(t, b, req)
	require.Error(t, err)

	s, ok := sessions.Get("s1")
	require.True(t, ok)
	assert.Empty(t, s.ThreadID, "no thread is bound when the run never completed")
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "partial", s.Messages[1].Content)
}

func TestStreamPersistsPartialTextOnCancellation(t *testing.T) {
	events := make(chan engine.Event)
	sessions := session.NewRegistry(time.Hour, nil)
	sessions.Resolve([]types.ChatMessage{{Role: types.RoleUser, Content: "Hi"}}, "s1")

	ctx, cancel := context.WithCancel(context.Background())
	tr := &streamTranslator{
		id:        "chatcmpl-test",
		model:     "agent-default",
		events:    events,
		sessions:  sessions,
		sessionID: "s1",
	}

	go func() {
		events <- engine.Event{Kind: engine.KindContent, Text: "partial"}
		cancel()
	}()

	var chunks []*types.ChatCompletionChunk
	var streamErr error
	for chunk, err := range tr.translate(ctx) {
		if err != nil {
			streamErr = err
			break
		}
		chunks = append(chunks, chunk)
	}

	require.Error(t, streamErr)
	require.Len(t, chunks, 1)

	s, ok := sessions.Get("s1")
	require.True(t, ok)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "partial", s.Messages[1].Content)
}

func TestStreamStateTransitions(t *testing.T) {
	tests := []struct {
		name   string
		events []engine.Event
		want   streamState
	}{
		{
			name: "completed run finishes",
			events: []engine.Event{
				{Kind: engine.KindContent, Text: "hi"},
				{Kind: engine.KindCompleted, ThreadID: "t"},
			},
			want: stateFinished,
		},
		{
			name: "failed run errors",
			events: []engine.Event{
				{Kind: engine.KindErrored, Err: assert.AnError},
			},
			want: stateErrored,
		},
		{
			name:   "closed stream errors",
			events: nil,
			want:   stateErrored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan engine.Event, len(tt.events))
			for _, ev := range tt.events {
				ch <- ev
			}
			close(ch)

			tr := &streamTranslator{id: "chatcmpl-test", model: "m", events: ch}
			for range tr.translate(context.Background()) {
			}
			assert.Equal(t, tt.want, tr.state)
		})
	}
}
