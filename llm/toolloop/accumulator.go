package toolloop

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/types"
)

type pendingCall struct {
	id     string
	name   strings.Builder
	args   strings.Builder
	closed bool
}

// callAccumulator 按位置索引拼接流式工具调用增量
type callAccumulator struct {
	byIndex map[int]*pendingCall
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{byIndex: make(map[int]*pendingCall)}
}

func (a *callAccumulator) add(d llm.ToolCallDelta) {
	p, ok := a.byIndex[d.Index]
	if !ok {
		p = &pendingCall{}
		a.byIndex[d.Index] = p
	}
	if p.closed {
		return
	}
	if d.ID != "" {
		p.id = d.ID
	}
	p.name.WriteString(d.Name)
	p.args.WriteString(d.Arguments)
	if d.Closed {
		p.closed = true
	}
}

func (a *callAccumulator) empty() bool {
	return len(a.byIndex) == 0
}

// calls 按索引顺序返回结果；缺失的 ID 以 call_<uuid> 补齐，空参数视为 {}。
func (a *callAccumulator) calls() []types.ToolCall {
	idx := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]types.ToolCall, 0, len(idx))
	for _, i := range idx {
		p := a.byIndex[i]
		name := strings.TrimSpace(p.name.String())
		if name == "" {
			continue
		}
		id := p.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := p.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out = append(out, types.ToolCall{ID: id, Name: name, Arguments: args})
	}
	return out
}
