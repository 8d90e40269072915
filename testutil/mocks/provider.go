// MockProvider 的 LLM 提供商测试模拟实现。
//
// 按调用顺序回放预设的流式回合，支持工具调用增量、连接错误与流中错误注入。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/types"
)

// --- 脚本回合 ---

// Turn 是一次 Stream 调用的预设结果。
// Err 非空时 Stream 在连接阶段直接返回该错误。
type Turn struct {
	Chunks []llm.StreamChunk
	Err    error
}

// TextTurn 创建逐段输出文本的回合
func TextTurn(parts ...string) Turn {
	t := Turn{}
	for _, p := range parts {
		t.Chunks = append(t.Chunks, llm.StreamChunk{Text: p})
	}
	t.Chunks = append(t.Chunks, llm.StreamChunk{FinishReason: "stop"})
	return t
}

// ToolCallTurn 创建在可选前导文本后发起工具调用的回合。
// 每个调用的名称与参数被拆成两段增量发送，以覆盖拼接逻辑。
func ToolCallTurn(text string, calls ...types.ToolCall) Turn {
	t := Turn{}
	if text != "" {
		t.Chunks = append(t.Chunks, llm.StreamChunk{Text: text})
	}
	for i, c := range calls {
		nameCut := len(c.Name) / 2
		argCut := len(c.Arguments) / 2
		t.Chunks = append(t.Chunks,
			llm.StreamChunk{ToolCalls: []llm.ToolCallDelta{{Index: i, ID: c.ID, Name: c.Name[:nameCut], Arguments: c.Arguments[:argCut]}}},
			llm.StreamChunk{ToolCalls: []llm.ToolCallDelta{{Index: i, Name: c.Name[nameCut:], Arguments: c.Arguments[argCut:]}}},
			llm.StreamChunk{ToolCalls: []llm.ToolCallDelta{{Index: i, Closed: true}}},
		)
	}
	t.Chunks = append(t.Chunks, llm.StreamChunk{FinishReason: "tool_calls"})
	return t
}

// ErrorTurn 创建连接阶段失败的回合
func ErrorTurn(err error) Turn {
	return Turn{Err: err}
}

// MidStreamErrorTurn 创建输出部分文本后以错误结束的回合
func MidStreamErrorTurn(text string, err *types.Error) Turn {
	t := Turn{}
	if text != "" {
		t.Chunks = append(t.Chunks, llm.StreamChunk{Text: text})
	}
	t.Chunks = append(t.Chunks, llm.StreamChunk{Err: err})
	return t
}

// --- MockProvider 结构 ---

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	name          string
	turns         []Turn
	repeat        *Turn
	supportsTools bool
	chunkDelay    time.Duration
	streamFunc    func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

	// 调用记录
	calls []*llm.ChatRequest
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock", supportsTools: true}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithTurns 追加按顺序回放的回合
func (m *MockProvider) WithTurns(turns ...Turn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
	return m
}

// WithRepeat 设置预设回合耗尽后重复回放的回合
func (m *MockProvider) WithRepeat(turn Turn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = &turn
	return m
}

// WithChunkDelay 设置相邻 chunk 之间的延迟
func (m *MockProvider) WithChunkDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkDelay = d
	return m
}

// WithStreamFunc 设置自定义 Stream 函数
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// WithoutNativeTools 声明不支持原生函数调用
func (m *MockProvider) WithoutNativeTools() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supportsTools = false
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// SupportsNativeFunctionCalling 返回是否支持原生函数调用
func (m *MockProvider) SupportsNativeFunctionCalling() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supportsTools
}

// Stream 回放下一个预设回合
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	recorded := *req
	recorded.Messages = types.CloneMessages(req.Messages)
	recorded.Tools = append([]types.ToolDefinition(nil), req.Tools...)
	idx := len(m.calls)
	m.calls = append(m.calls, &recorded)

	if m.streamFunc != nil {
		fn := m.streamFunc
		m.mu.Unlock()
		return fn(ctx, req)
	}

	var turn Turn
	switch {
	case idx < len(m.turns):
		turn = m.turns[idx]
	case m.repeat != nil:
		turn = *m.repeat
	default:
		turn = TextTurn("Mock response")
	}
	delay := m.chunkDelay
	m.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, c := range turn.Chunks {
			if delay > 0 && i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			c.Provider = m.Name()
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// --- 查询方法 ---

// GetCalls 获取所有调用的请求副本
func (m *MockProvider) GetCalls() []*llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*llm.ChatRequest{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// GetLastCall 获取最后一次调用
func (m *MockProvider) GetLastCall() *llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Reset 重置调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// --- 预设 Provider 工厂 ---

// NewSuccessProvider 创建总是输出固定文本的 Provider
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithRepeat(TextTurn(response))
}

// NewErrorProvider 创建总是在连接阶段失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithRepeat(ErrorTurn(err))
}

// NewToolCallProvider 创建总是请求工具调用的 Provider
func NewToolCallProvider(calls ...types.ToolCall) *MockProvider {
	return NewMockProvider().WithRepeat(ToolCallTurn("", calls...))
}
