// Package toolcall recovers structured tool calls from free-form assistant
// text.
//
// The engine has no structured tool-call channel; when a response contains
// tool intent it appears inline in the text. Recovery is a best-effort
// heuristic: candidates that do not parse as strict JSON are dropped
// silently, and extraction never fails a request.
package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
)

// NameSet reports whether a tool name is currently known. Only calls to
// known names are recovered.
type NameSet interface {
	Has(name string) bool
}

var (
	// inlinePattern locates candidates of the form name({ ... }). The JSON
	// object itself is consumed by a decoder, not the regexp, so nested
	// braces and strings survive.
	inlinePattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\(\s*\{`)

	// fencedPattern locates code fences whose info string is a bare
	// identifier, e.g. ```read_file\n{...}\n```.
	fencedPattern = regexp.MustCompile("(?s)```([A-Za-z_][A-Za-z0-9_]*)[ \t]*\r?\n(.*?)```")
)

// span marks the half-open byte range [start, end) a match occupied.
type span struct {
	start, end int
}

func (s span) overlaps(other span) bool {
	return s.start < other.end && other.start < s.end
}

// Extract scans text for tool calls to names registered in names.
//
// Two passes run in order: inline name({...}) occurrences first, then fenced
// blocks tagged with a tool name whose body is a JSON object. Results are
// concatenated pass 1 then pass 2, each in text order, and every call gets a
// fresh ID. A fenced match overlapping an inline match's span is dropped, so
// the same text span never produces two calls. Returns nil when nothing was
// recovered.
func Extract(text string, names NameSet) []types.ToolCall {
	if text == "" || names == nil {
		return nil
	}

	var calls []types.ToolCall
	var spans []span

	for _, m := range inlineMatches(text, names) {
		calls = append(calls, newCall(m.name, m.arguments))
		spans = append(spans, m.span)
	}

	for _, m := range fencedMatches(text, names) {
		if overlapsAny(m.span, spans) {
			continue
		}
		calls = append(calls, newCall(m.name, m.arguments))
	}

	return calls
}

// match is one recovered candidate before ID assignment.
type match struct {
	name      string
	arguments string
	span      span
}

// inlineMatches finds name({...}) occurrences with a balanced, strictly
// parsed JSON object argument followed by a closing parenthesis.
func inlineMatches(text string, names NameSet) []match {
	var out []match
	lastEnd := 0

	for _, idx := range inlinePattern.FindAllStringSubmatchIndex(text, -1) {
		start := idx[0]
		if start < lastEnd {
			// Inside the span of a call already recovered.
			continue
		}

		name := text[idx[2]:idx[3]]
		if !names.Has(name) {
			continue
		}

		bracePos := idx[1] - 1 // the pattern always ends on '{'
		raw, consumed, ok := decodeObject(text[bracePos:])
		if !ok {
			continue
		}

		rest := text[bracePos+consumed:]
		closing := len(rest) - len(strings.TrimLeft(rest, " \t\r\n"))
		if closing >= len(rest) || rest[closing] != ')' {
			continue
		}

		end := bracePos + consumed + closing + 1
		out = append(out, match{name: name, arguments: raw, span: span{start: start, end: end}})
		lastEnd = end
	}

	return out
}

// fencedMatches finds code fences tagged with a tool name whose body is a
// single JSON object.
func fencedMatches(text string, names NameSet) []match {
	var out []match

	for _, idx := range fencedPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[idx[2]:idx[3]]
		if !names.Has(name) {
			continue
		}

		body := strings.TrimSpace(text[idx[4]:idx[5]])
		if !strings.HasPrefix(body, "{") {
			continue
		}

		var raw json.RawMessage
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			continue
		}

		out = append(out, match{
			name:      name,
			arguments: compact(raw),
			span:      span{start: idx[0], end: idx[1]},
		})
	}

	return out
}

// decodeObject parses exactly one JSON object from the start of s. It
// returns the compacted object text, the number of bytes consumed, and
// whether parsing succeeded.
func decodeObject(s string) (string, int, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "", 0, false
	}
	return compact(raw), int(dec.InputOffset()), true
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func overlapsAny(s span, spans []span) bool {
	for _, other := range spans {
		if s.overlaps(other) {
			return true
		}
	}
	return false
}

func newCall(name, arguments string) types.ToolCall {
	return types.ToolCall{
		ID:   newCallID(),
		Type: "function",
		Function: types.FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// newCallID generates an OpenAI-style tool call ID (format: call_<8-char-uuid>).
func newCallID() string {
	return fmt.Sprintf("call_%s", uuid.New().String()[:8])
}
