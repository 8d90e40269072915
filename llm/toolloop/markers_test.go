package toolloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/mcpflow/types"
)

func TestFormatMarker(t *testing.T) {
	assert.Equal(t, "{{FF_MCP_TOOL_START}}:search:3 hits{{FF_MCP_TOOL_END}}:", FormatMarker("search", "3 hits"))
}

func TestParseMarkers(t *testing.T) {
	text := "Looking. " + FormatMarker("search", "a:b:c") + FormatMarker("fetch", "") + "Done."
	segs := ParseMarkers(text)

	assert.Equal(t, []Segment{
		{Text: "Looking. "},
		{Tool: &ToolActivity{Name: "search", Result: "a:b:c"}},
		{Tool: &ToolActivity{Name: "fetch", Result: ""}},
		{Text: "Done."},
	}, segs)
}

func TestParseMarkers_Incomplete(t *testing.T) {
	text := "before {{FF_MCP_TOOL_START}}:search:partial"
	assert.Equal(t, []Segment{{Text: text}}, ParseMarkers(text))
	assert.Empty(t, ParseMarkers(""))
}

func TestParseMarkers_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "name")
		result := rapid.StringMatching(`[a-zA-Z0-9 :.,]{0,40}`).Draw(rt, "result")
		prefix := rapid.StringMatching(`[a-z .]{0,20}`).Draw(rt, "prefix")

		segs := ParseMarkers(prefix + FormatMarker(name, result))

		tool := segs[len(segs)-1].Tool
		if tool == nil || tool.Name != name || tool.Result != result {
			rt.Fatalf("round trip mismatch: %+v", segs)
		}
	})
}

func TestFlattenToolTraffic(t *testing.T) {
	history := []types.Message{
		types.NewUserMessage("q"),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{{ID: "1", Name: "search", Arguments: `{"q":"x"}`}}),
		types.NewToolMessage("1", "search", "found"),
		types.NewAssistantMessage("answer"),
	}
	flat := flattenToolTraffic(history)

	assert.Len(t, flat, 4)
	assert.Equal(t, `[Called tool search with arguments {"q":"x"}]`, flat[1].Content)
	assert.Empty(t, flat[1].ToolCalls)
	assert.Equal(t, types.RoleUser, flat[2].Role)
	assert.Equal(t, "[Tool search returned]\nfound", flat[2].Content)
	assert.Equal(t, history[3], flat[3])
	assert.Len(t, history[1].ToolCalls, 1, "input is not modified")
}
