package openaicompat

import (
	"github.com/BaSui01/mcpflow/llm/providers"
	"github.com/BaSui01/mcpflow/types"
)

// Message 表示 OpenAI 兼容的消息格式.
// Content 为 string、[]ContentPart 或 nil（仅含工具调用的 assistant 消息）。
type Message struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ContentPart 是多模态消息中的一段内容.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 表示图片引用.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall 表示 OpenAI 兼容的工具调用.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 的 Arguments 是 JSON 文本.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool 表示 OpenAI 兼容的工具定义.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef 描述一个可调用函数.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// StreamOptions 控制流式响应附带的信息.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Request 表示 OpenAI 兼容的聊天完成请求.
type Request struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    any            `json:"tool_choice,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// ConvertMessages 将统一消息转换为 OpenAI 兼容格式.
func ConvertMessages(msgs []types.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		oa := Message{
			Role:       string(m.Role),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		// tool 消息没有 name 字段，严格的兼容实现会拒绝
		if m.Role == types.RoleTool {
			oa.Name = ""
		}

		switch {
		case m.Role == types.RoleUser && hasImages(m.Embeds):
			parts := []ContentPart{}
			if m.Content != "" {
				parts = append(parts, ContentPart{Type: "text", Text: m.Content})
			}
			for _, e := range m.Embeds {
				if e.IsImage() {
					parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: providers.DataURL(e)}})
				}
			}
			oa.Content = parts
		case m.Role == types.RoleAssistant && len(m.ToolCalls) > 0 && m.Content == "":
			oa.Content = nil
		default:
			oa.Content = m.Content
		}

		if len(m.ToolCalls) > 0 {
			oa.ToolCalls = make([]ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				oa.ToolCalls = append(oa.ToolCalls, ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
		}
		out = append(out, oa)
	}
	return out
}

// ConvertTools 将工具定义转换为 function tools.
func ConvertTools(defs []types.ToolDefinition) []Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  providers.ObjectSchema(d),
			},
		})
	}
	return out
}

// convertToolChoice 支持 auto / none / required 以及具体工具名.
func convertToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	default:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice},
		}
	}
}

func hasImages(embeds []types.Attachment) bool {
	for _, e := range embeds {
		if e.IsImage() {
			return true
		}
	}
	return false
}
