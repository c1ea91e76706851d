// Package bridge translates OpenAI-compatible chat completion requests into
// engine runs and engine output back into completion responses.
//
// The engine speaks a flat dialect: one prompt string in, one response out,
// continuity through opaque thread IDs, and no structured tool-call channel.
// The bridge flattens chat histories into prompts, resolves session-scoped
// context, recovers tool calls from the assistant's text, and shapes both
// buffered and streamed responses.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
	"github.com/agentbridge/agentbridge/internal/engine"
	"github.com/agentbridge/agentbridge/internal/prompt"
	"github.com/agentbridge/agentbridge/internal/session"
	"github.com/agentbridge/agentbridge/internal/tool"
	"github.com/agentbridge/agentbridge/internal/toolcall"
)

// Adapter defines the contract for transforming client requests into engine
// runs and back.
//
// Type parameters:
//   - TRequest:  Client-specific request structure
//   - TResponse: Client-specific response structure
//   - TChunk:    Client-specific streaming chunk protocol
type Adapter[TRequest, TResponse, TChunk any] interface {
	// ProcessRequest transforms the client request, runs the engine to
	// completion, and returns the transformed response.
	ProcessRequest(ctx context.Context, clientReq TRequest) (*TResponse, error)

	// ProcessStreamingRequest transforms the client request, starts a
	// streamed engine run, and returns an iterator of transformed chunks.
	ProcessStreamingRequest(ctx context.Context, clientReq TRequest) (iter.Seq2[*TChunk, error], error)
}

// Type aliases for OpenAI-compatible chat completion operations.
type (
	ChatCompletionRequest = types.ChatCompletionRequest
	ChatCompletion        = types.ChatCompletion
	ChatCompletionChunk   = types.ChatCompletionChunk

	ChatCompletionAdapter = Adapter[
		ChatCompletionRequest,
		ChatCompletion,
		ChatCompletionChunk,
	]
)

// Bridge is the chat-completions adapter over an agent engine.
type Bridge struct {
	engine   engine.Engine
	sessions *session.Registry
	tools    *tool.Registry
	validate *validator.Validate
	workdir  string
}

var _ ChatCompletionAdapter = (*Bridge)(nil)

// Option customizes a Bridge.
type Option func(*Bridge)

// WithWorkdir sets the working directory new conversations start in.
func WithWorkdir(dir string) Option {
	return func(b *Bridge) {
		b.workdir = dir
	}
}

func New(eng engine.Engine, sessions *session.Registry, tools *tool.Registry, opts ...Option) *Bridge {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// Report wire field names, not Go field names, in validation errors.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	b := &Bridge{
		engine:   eng,
		sessions: sessions,
		tools:    tools,
		validate: validate,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ProcessRequest handles a buffered chat completion.
func (b *Bridge) ProcessRequest(ctx context.Context, req ChatCompletionRequest) (*ChatCompletion, error) {
	run, err := b.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := b.engine.Run(ctx, run.handle, run.promptText, run.systemPrompt)
	if err != nil {
		return nil, types.NewEngineError(err.Error())
	}

	if req.SessionID != "" {
		b.sessions.BindThread(req.SessionID, res.ThreadID)
		b.sessions.AppendAssistant(req.SessionID, res.Text)
	}

	message := types.AssistantMessage{
		Role:    types.RoleAssistant,
		Content: &res.Text,
	}
	finishReason := toFinishReason(res.FinishReason)
	if calls := b.extractToolCalls(req, res.Text); len(calls) > 0 {
		message.Content = nil
		message.ToolCalls = calls
		finishReason = types.FinishReasonToolCalls
	}

	return &ChatCompletion{
		ID:      newResponseID(),
		Object:  types.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: toUsage(res.Usage, run.promptTokens, prompt.EstimateTokens(res.Text)),
	}, nil
}

// ProcessStreamingRequest handles a streamed chat completion. The returned
// iterator yields content chunks as the engine produces them, then exactly
// one terminal chunk; failures surface as a single yielded error.
func (b *Bridge) ProcessStreamingRequest(ctx context.Context, req ChatCompletionRequest) (iter.Seq2[*ChatCompletionChunk, error], error) {
	run, err := b.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	events, err := b.engine.RunStreamed(ctx, run.handle, run.promptText, run.systemPrompt)
	if err != nil {
		return nil, types.NewEngineError(err.Error())
	}

	t := &streamTranslator{
		id:           newResponseID(),
		model:        req.Model,
		created:      time.Now().Unix(),
		events:       events,
		sessions:     b.sessions,
		sessionID:    req.SessionID,
		promptTokens: run.promptTokens,
	}
	return t.translate(ctx), nil
}

// run carries the request-derived inputs of one engine dispatch.
type run struct {
	handle       engine.Handle
	promptText   string
	systemPrompt string
	promptTokens int
}

// prepare validates the request, resolves session context, flattens the
// effective history into a prompt, and picks the conversation handle.
func (b *Bridge) prepare(ctx context.Context, req ChatCompletionRequest) (run, error) {
	if err := b.validate.Struct(&req); err != nil {
		return run{}, toValidationError(err)
	}
	if err := prompt.Validate(req.Messages); err != nil {
		return run{}, err
	}

	effective := b.sessions.Resolve(req.Messages, req.SessionID)

	promptText, systemPrompt := prompt.ToPrompt(effective)
	if req.SessionID != "" {
		// Session history never holds system messages, so the system prompt
		// is derived from the incoming request on every turn.
		systemPrompt = prompt.System(req.Messages)
	}

	handle, err := b.resolveHandle(ctx, req.SessionID)
	if err != nil {
		return run{}, types.NewEngineError(err.Error())
	}

	return run{
		handle:       handle,
		promptText:   promptText,
		systemPrompt: systemPrompt,
		promptTokens: prompt.EstimateTokens(promptText) + prompt.EstimateTokens(systemPrompt),
	}, nil
}

// resolveHandle resumes the session's engine thread when one is bound,
// otherwise starts a fresh conversation.
func (b *Bridge) resolveHandle(ctx context.Context, sessionID string) (engine.Handle, error) {
	if sessionID != "" {
		if s, ok := b.sessions.Get(sessionID); ok && s.ThreadID != "" {
			return b.engine.ResumeConversation(ctx, s.ThreadID)
		}
	}
	return b.engine.StartConversation(ctx, b.workdir)
}

// extractToolCalls recovers structured tool calls from the assistant text
// when the client opted in. Recognized names are the server's registry plus
// any request-scoped tool definitions.
func (b *Bridge) extractToolCalls(req ChatCompletionRequest, text string) []types.ToolCall {
	if !req.EnableTools || req.ToolChoiceNone() {
		return nil
	}

	names := make(nameSet)
	for _, name := range b.tools.Names() {
		names[name] = struct{}{}
	}
	for _, t := range req.Tools {
		if t.Function.Name != "" {
			names[t.Function.Name] = struct{}{}
		}
	}
	return toolcall.Extract(text, names)
}

// nameSet is a toolcall.NameSet over a plain map.
type nameSet map[string]struct{}

func (s nameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// toFinishReason maps engine finish reasons to OpenAI finish reasons.
// Engines report "stop" or "length"; anything else collapses to "stop".
func toFinishReason(reason string) string {
	switch reason {
	case "length":
		return "length"
	default:
		return types.FinishReasonStop
	}
}

// toUsage converts engine token accounting to the OpenAI usage block,
// falling back to character-based estimates when the engine reported none.
func toUsage(u *engine.Usage, promptEstimate, completionEstimate int) types.Usage {
	promptTokens := promptEstimate
	completionTokens := completionEstimate
	if u != nil {
		promptTokens = u.InputTokens
		completionTokens = u.OutputTokens
	}
	return types.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// toValidationError converts validator failures into the client-facing
// invalid_request error, naming the first offending field.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0].Field()
		return types.NewInvalidRequestError(
			fmt.Sprintf("invalid request: field %q failed on %q", field, verrs[0].Tag()),
			field,
		)
	}
	return types.NewInvalidRequestError(err.Error(), "")
}

// newResponseID generates an OpenAI-compatible response ID (chatcmpl-<token>).
func newResponseID() string {
	b := make([]byte, 24) // 24 bytes yields 32 URL-safe base64 characters
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	// Use RawURLEncoding to avoid '+', '/' and trailing '='
	token := base64.RawURLEncoding.EncodeToString(b)
	return "chatcmpl-" + token
}
