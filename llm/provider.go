package llm

import (
	"context"

	"github.com/BaSui01/mcpflow/types"
)

// ChatRequest 是一次流式对话调用的 Provider 无关描述。
type ChatRequest struct {
	Model       string                 `json:"model,omitempty"`
	Messages    []types.Message        `json:"messages"`
	Tools       []types.ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string                 `json:"tool_choice,omitempty"` // auto/none/<tool name>
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Temperature float32                `json:"temperature,omitempty"`
}

// ChatUsage 是最终 chunk 可能携带的 token 用量。
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ToolCallDelta 是按位置索引到达的工具调用增量。
// Name 与 Arguments 是需要拼接的片段；Closed 表示该索引的内容块已结束。
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
}

// StreamChunk 是流式响应中的一个增量。Err 非空时流随即结束。
type StreamChunk struct {
	ID           string          `json:"id,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *ChatUsage      `json:"usage,omitempty"`
	Err          *types.Error    `json:"error,omitempty"`
}

// Provider 定义了统一的流式 LLM 适配接口。
// 工具通过 ChatRequest.Tools 传递，各 Provider 负责编码为自身的 wire 格式
// （OpenAI function tools 或 Claude tool_use/tool_result 内容块），
// 并把响应解码为共享的 StreamChunk 模型。
type Provider interface {
	// Stream 发起流式聊天请求，返回增量响应通道。
	// 连接阶段的失败以 *types.Error 返回；流中途的失败以 StreamChunk.Err 送达。
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name 返回 Provider 的唯一标识
	Name() string

	// SupportsNativeFunctionCalling 返回是否支持原生 Function Calling
	SupportsNativeFunctionCalling() bool
}

// WithoutTools 返回去掉工具定义的请求副本。
func (r *ChatRequest) WithoutTools() *ChatRequest {
	cp := *r
	cp.Tools = nil
	cp.ToolChoice = ""
	return &cp
}
