package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nameSet map[string]struct{}

func (n nameSet) Has(name string) bool {
	_, ok := n[name]
	return ok
}

func registered(names ...string) nameSet {
	set := make(nameSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func TestExtractInlineCall(t *testing.T) {
	text := `I'll read that file.` + "\n" + `read_file({"path":"a.txt"})`

	calls := Extract(text, registered("read_file"))

	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Function.Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, calls[0].Function.Arguments)
	assert.Equal(t, "function", calls[0].Type)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
}

func TestExtractIgnoresUnregisteredNames(t *testing.T) {
	text := `delete_everything({"path":"/"})`

	assert.Nil(t, Extract(text, registered("read_file")))
}

func TestExtractDropsInvalidJSON(t *testing.T) {
	text := `read_file({path: a.txt})` + "\n" + `read_file({"path":"b.txt",})`

	assert.Nil(t, Extract(text, registered("read_file")))
}

func TestExtractHandlesNestedObjects(t *testing.T) {
	text := `search({"query":{"pattern":"func (s *Server)","glob":"*.go"},"limit":3})`

	calls := Extract(text, registered("search"))

	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"query":{"pattern":"func (s *Server)","glob":"*.go"},"limit":3}`, calls[0].Function.Arguments)
}

func TestExtractRequiresClosingParen(t *testing.T) {
	text := `read_file({"path":"a.txt"}`

	assert.Nil(t, Extract(text, registered("read_file")))
}

func TestExtractFencedBlock(t *testing.T) {
	text := "Run this:\n```read_file\n{\n  \"path\": \"a.txt\"\n}\n```\nDone."

	calls := Extract(text, registered("read_file"))

	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Function.Name)
	assert.Equal(t, `{"path":"a.txt"}`, calls[0].Function.Arguments)
}

func TestExtractIgnoresNonToolFences(t *testing.T) {
	text := "```json\n{\"path\":\"a.txt\"}\n```"

	assert.Nil(t, Extract(text, registered("read_file")))
}

func TestExtractDropsFencedNonJSONBody(t *testing.T) {
	text := "```read_file\nnot json at all\n```"

	assert.Nil(t, Extract(text, registered("read_file")))
}

func TestExtractOrdersInlineBeforeFenced(t *testing.T) {
	text := "```list_dir\n{\"path\":\".\"}\n```\n" + `read_file({"path":"a.txt"})`

	calls := Extract(text, registered("read_file", "list_dir"))

	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Function.Name, "inline matches come first even when the fence appears earlier")
	assert.Equal(t, "list_dir", calls[1].Function.Name)
}

func TestExtractMultipleInlineInTextOrder(t *testing.T) {
	text := `read_file({"path":"a.txt"}) then list_dir({"path":"."})`

	calls := Extract(text, registered("read_file", "list_dir"))

	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Function.Name)
	assert.Equal(t, "list_dir", calls[1].Function.Name)
}

func TestExtractInlineInsideFenceBody(t *testing.T) {
	// The fence tag is registered but its body is an inline call, not an
	// object, so only the inline pass recovers anything.
	text := "```bash\nread_file({\"path\":\"a.txt\"})\n```"

	calls := Extract(text, registered("read_file", "bash"))

	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Function.Name)
}

func TestSpanOverlapTieBreak(t *testing.T) {
	inline := span{start: 10, end: 40}

	assert.True(t, span{start: 5, end: 15}.overlaps(inline))
	assert.True(t, span{start: 12, end: 38}.overlaps(inline))
	assert.True(t, span{start: 39, end: 60}.overlaps(inline))
	assert.False(t, span{start: 40, end: 60}.overlaps(inline), "touching spans do not overlap")
	assert.False(t, span{start: 0, end: 10}.overlaps(inline))

	assert.True(t, overlapsAny(span{start: 12, end: 38}, []span{{start: 0, end: 5}, inline}))
	assert.False(t, overlapsAny(span{start: 50, end: 60}, []span{{start: 0, end: 5}, inline}))
}

func TestExtractAssignsFreshIDs(t *testing.T) {
	text := `read_file({"path":"a.txt"}) read_file({"path":"a.txt"})`

	calls := Extract(text, registered("read_file"))

	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestExtractReturnsNilNotEmpty(t *testing.T) {
	calls := Extract("no calls here", registered("read_file"))
	assert.Nil(t, calls)

	calls = Extract("", registered("read_file"))
	assert.Nil(t, calls)
}

func TestExtractIgnoresArgumentsThatAreNotObjects(t *testing.T) {
	text := "```read_file\n[1, 2, 3]\n```"

	assert.Nil(t, Extract(text, registered("read_file")))
}
