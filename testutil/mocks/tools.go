// MockToolBackend 的工具后端测试模拟实现。
//
// 支持工具注册、按调用序列返回结果与错误注入。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/mcpflow/types"
)

// --- MockToolBackend 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// ToolCall 记录单次工具调用
type ToolCall struct {
	ServerID string
	Name     string
	Args     map[string]any
	Result   string
	Error    error
}

// MockToolBackend 是 MCP 工具后端的模拟实现
type MockToolBackend struct {
	mu sync.RWMutex

	defs      []types.ToolDefinition
	toolFuncs map[string]ToolFunc
	results   map[string][]string
	errors    map[string][]error

	calls []ToolCall
}

// NewMockToolBackend 创建新的 MockToolBackend
func NewMockToolBackend() *MockToolBackend {
	return &MockToolBackend{
		toolFuncs: make(map[string]ToolFunc),
		results:   make(map[string][]string),
		errors:    make(map[string][]error),
	}
}

// WithTool 注册工具定义及其执行函数，fn 可为 nil
func (m *MockToolBackend) WithTool(def types.ToolDefinition, fn ToolFunc) *MockToolBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def.ServerID == "" {
		def.ServerID = "mock-server"
	}
	if def.Description == "" {
		def.Description = "Mock tool: " + def.Name
	}
	m.defs = append(m.defs, def)
	if fn != nil {
		m.toolFuncs[def.Name] = fn
	}
	return m
}

// WithResults 设置工具按调用顺序返回的结果，耗尽后重复最后一个
func (m *MockToolBackend) WithResults(name string, results ...string) *MockToolBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[name] = results
	return m
}

// WithErrors 设置工具按调用顺序返回的错误，nil 表示该次成功
func (m *MockToolBackend) WithErrors(name string, errs ...error) *MockToolBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[name] = errs
	return m
}

// Definitions 返回已注册的工具定义
func (m *MockToolBackend) Definitions() []types.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.ToolDefinition{}, m.defs...)
}

// Invoke 满足 types.ToolInvoker
func (m *MockToolBackend) Invoke(ctx context.Context, serverID, name string, args map[string]any) (string, error) {
	m.mu.Lock()
	n := 0
	for _, c := range m.calls {
		if c.Name == name {
			n++
		}
	}
	fn := m.toolFuncs[name]
	var (
		result string
		err    error
	)
	if errs := m.errors[name]; n < len(errs) {
		err = errs[n]
	}
	if rs := m.results[name]; len(rs) > 0 {
		if n < len(rs) {
			result = rs[n]
		} else {
			result = rs[len(rs)-1]
		}
	} else {
		result = fmt.Sprintf("%s ok", name)
	}
	m.mu.Unlock()

	if err == nil && fn != nil {
		result, err = fn(ctx, args)
	}
	if err != nil {
		result = ""
	}

	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{ServerID: serverID, Name: name, Args: args, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockToolBackend) GetCalls() []ToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolCall{}, m.calls...)
}

// GetCallCount 获取指定工具的调用次数
func (m *MockToolBackend) GetCallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
