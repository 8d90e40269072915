package anthropic

import (
	"encoding/base64"
	"strings"

	"github.com/BaSui01/mcpflow/llm/providers"
	"github.com/BaSui01/mcpflow/types"
)

// Request 是 /v1/messages 的请求体。
type Request struct {
	Model       string         `json:"model"`
	System      string         `json:"system,omitempty"`
	Messages    []Message      `json:"messages"`
	Tools       []Tool         `json:"tools,omitempty"`
	ToolChoice  map[string]any `json:"tool_choice,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float32        `json:"temperature,omitempty"`
	Stream      bool           `json:"stream"`
}

// Message 是 user/assistant 消息，content 总是内容块数组。
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock 覆盖 text / image / tool_use / tool_result 四种块。
type ContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Source    *ImageSource   `json:"source,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     any            `json:"input,omitempty"` // tool_use 必须携带，空参数时为 {}
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// ImageSource 是 base64 或 url 图片源。
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool 是 Claude 工具定义。
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ConvertMessages 提取 system 文本并把其余消息转换为内容块消息。
// tool 消息成为 user 角色的 tool_result 块，相邻同角色消息合并为一条。
func ConvertMessages(msgs []types.Message) (string, []Message) {
	var (
		system []string
		out    []Message
	)

	appendBlocks := func(role string, blocks []ContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, Message{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
		case types.RoleTool:
			appendBlocks("user", []ContentBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
				IsError:   m.IsError,
			}})
		case types.RoleAssistant:
			var blocks []ContentBlock
			if m.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: providers.ParseArguments(tc.Arguments),
				})
			}
			appendBlocks("assistant", blocks)
		default:
			var blocks []ContentBlock
			for _, e := range m.Embeds {
				if e.IsImage() {
					blocks = append(blocks, ContentBlock{Type: "image", Source: imageSource(e)})
				}
			}
			if m.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: m.Content})
			}
			appendBlocks("user", blocks)
		}
	}
	return strings.Join(system, "\n\n"), out
}

// ConvertTools 将工具定义转换为 Claude 工具。
func ConvertTools(defs []types.ToolDefinition) []Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: providers.ObjectSchema(d),
		})
	}
	return out
}

func convertToolChoice(choice string) map[string]any {
	switch choice {
	case "":
		return nil
	case "auto", "none":
		return map[string]any{"type": choice}
	case "required":
		return map[string]any{"type": "any"}
	default:
		return map[string]any{"type": "tool", "name": choice}
	}
}

func imageSource(a types.Attachment) *ImageSource {
	if a.URL != "" && len(a.Data) == 0 {
		return &ImageSource{Type: "url", URL: a.URL}
	}
	return &ImageSource{
		Type:      "base64",
		MediaType: a.MimeType,
		Data:      base64.StdEncoding.EncodeToString(a.Data),
	}
}
