// Package prompt flattens OpenAI-style message arrays into the linear
// prompt/system-prompt pair the agent engine consumes.
//
// The flattening is lossy on structure (roles collapse into text prefixes)
// but deterministic: the same message array always renders to the same
// bytes, so downstream caching and tests can rely on the output.
package prompt

import (
	"fmt"
	"strings"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
)

// estimateDivisor is the chars-per-token ratio used when the engine reports
// no usage. Coarse, but stable across requests.
const estimateDivisor = 4

// Role prefixes in the rendered prompt. The engine sees these as plain text.
const (
	userPrefix       = "User: "
	assistantPrefix  = "Assistant: "
	toolResultPrefix = "Tool result: "
)

// blockSeparator joins rendered message blocks and system prompt segments.
const blockSeparator = "\n\n"

// ToPrompt renders a message array into a single prompt string plus an
// optional system prompt.
//
// System messages never appear in the prompt body; their contents are joined
// into systemPrompt in input order. User, assistant, and tool messages render
// as prefixed blocks in input order. Assistant tool calls render after the
// content as one name(arguments) line per call, preserving what the engine
// originally emitted as text.
func ToPrompt(messages []types.ChatMessage) (promptText, systemPrompt string) {
	var blocks []string

	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			blocks = append(blocks, userPrefix+m.Content)
		case types.RoleAssistant:
			blocks = append(blocks, renderAssistant(m))
		case types.RoleTool:
			blocks = append(blocks, toolResultPrefix+m.Content)
		}
	}

	return strings.Join(blocks, blockSeparator), System(messages)
}

// System joins the contents of all system messages with a double newline.
// Session history stores no system messages, so callers resolving a session
// derive the system prompt from the incoming request with this.
func System(messages []types.ChatMessage) string {
	var system []string
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
		}
	}
	return strings.Join(system, blockSeparator)
}

// renderAssistant renders an assistant message block. Tool calls follow the
// content, one per line, as name(arguments).
func renderAssistant(m types.ChatMessage) string {
	var sb strings.Builder
	if m.Content != "" {
		sb.WriteString(assistantPrefix)
		sb.WriteString(m.Content)
	} else {
		sb.WriteString(strings.TrimRight(assistantPrefix, " "))
	}
	for _, call := range m.ToolCalls {
		sb.WriteByte('\n')
		sb.WriteString(call.Function.Name)
		sb.WriteByte('(')
		sb.WriteString(call.Function.Arguments)
		sb.WriteByte(')')
	}
	return sb.String()
}

// Validate checks a message array before any engine work is dispatched.
// The first violation wins and is reported as an invalid_request_error
// naming the offending index.
func Validate(messages []types.ChatMessage) error {
	if len(messages) == 0 {
		return types.NewInvalidRequestError("messages must not be empty", "messages")
	}

	for i, m := range messages {
		param := fmt.Sprintf("messages[%d]", i)
		switch {
		case m.Role == "":
			return types.NewInvalidRequestError(fmt.Sprintf("messages[%d]: role is required", i), param)
		case !knownRole(m.Role):
			return types.NewInvalidRequestError(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role), param)
		case m.Role == types.RoleUser && m.Content == "":
			return types.NewInvalidRequestError(fmt.Sprintf("messages[%d]: user message content must not be empty", i), param)
		}
	}

	return nil
}

func knownRole(role string) bool {
	switch role {
	case types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool:
		return true
	}
	return false
}

// EstimateTokens approximates the token count of text as
// ceil(len(text)/4). Used for usage accounting whenever the engine does not
// report counts of its own.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + estimateDivisor - 1) / estimateDivisor
}
