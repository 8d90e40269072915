package toolloop

import "strings"

// 工具活动标记，嵌在输出文本中供下游渲染：
//
//	{{FF_MCP_TOOL_START}}:<name>:<result>{{FF_MCP_TOOL_END}}:
const (
	MarkerStart = "{{FF_MCP_TOOL_START}}"
	MarkerEnd   = "{{FF_MCP_TOOL_END}}"
)

// FormatMarker 生成单个工具调用的标记文本
func FormatMarker(name, result string) string {
	return MarkerStart + ":" + name + ":" + result + MarkerEnd + ":"
}

// ToolActivity 是一个已完成的工具调用
type ToolActivity struct {
	Name   string
	Result string
}

// Segment 是输出中的一段：普通文本或工具活动，二者取其一。
type Segment struct {
	Text string
	Tool *ToolActivity
}

// ParseMarkers 把完整输出切分为文本段与工具活动段。
// 不完整的标记按普通文本保留。
func ParseMarkers(text string) []Segment {
	var segs []Segment
	pushText := func(s string) {
		if s == "" {
			return
		}
		if n := len(segs); n > 0 && segs[n-1].Tool == nil {
			segs[n-1].Text += s
			return
		}
		segs = append(segs, Segment{Text: s})
	}

	rest := text
	for {
		i := strings.Index(rest, MarkerStart+":")
		if i < 0 {
			pushText(rest)
			return segs
		}
		pushText(rest[:i])

		body := rest[i+len(MarkerStart)+1:]
		colon := strings.IndexByte(body, ':')
		end := strings.Index(body, MarkerEnd+":")
		if colon < 0 || end < 0 || colon > end {
			pushText(rest[i:])
			return segs
		}
		segs = append(segs, Segment{Tool: &ToolActivity{
			Name:   body[:colon],
			Result: body[colon+1 : end],
		}})
		rest = body[end+len(MarkerEnd)+1:]
	}
}
