package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/mcpflow/types"
)

// MCP (Model Context Protocol) 客户端所需的 JSON-RPC 2.0 子集

// MCPVersion MCP 协议版本
const MCPVersion = "2024-11-05"

// 方法名
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// 标准错误码
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// MCPMessage MCP 消息（JSON-RPC 2.0）
type MCPMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// IsResponse 判断是否为某个请求的响应
func (m *MCPMessage) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// IDString 以字符串形式返回 ID，数字 ID 转为十进制文本
func (m *MCPMessage) IDString() string {
	switch id := m.ID.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// MCPError MCP 错误
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewMCPRequest 创建 MCP 请求
func NewMCPRequest(id any, method string, params map[string]any) *MCPMessage {
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewMCPNotification 创建无需响应的通知
func NewMCPNotification(method string, params map[string]any) *MCPMessage {
	return &MCPMessage{JSONRPC: "2.0", Method: method, Params: params}
}

// NewMCPResponse 创建 MCP 响应
func NewMCPResponse(id any, result any) (*MCPMessage, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &MCPMessage{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewMCPError 创建 MCP 错误响应
func NewMCPError(id any, code int, message string, data any) *MCPMessage {
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// ServerInfo 服务器信息
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult initialize 的响应
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	Instructions    string         `json:"instructions,omitempty"`
}

// ToolDefinition MCP 工具定义
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToTypes 转换为带 server 归属的管线工具定义
func (t ToolDefinition) ToTypes(serverID string) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		ServerID:    serverID,
	}
}

// ListToolsResult tools/list 的响应
type ListToolsResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// ContentItem tools/call 结果中的单项内容
type ContentItem struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Data     string          `json:"data,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CallToolResult tools/call 的响应
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text 把结果内容拼成一段文本，非文本内容以占位描述代替
func (r *CallToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		switch item.Type {
		case "text":
			parts = append(parts, item.Text)
		case "resource":
			res := gjson.ParseBytes(item.Resource)
			if text := res.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			} else {
				parts = append(parts, fmt.Sprintf("[resource: %s]", res.Get("uri").String()))
			}
		case "image", "audio":
			parts = append(parts, fmt.Sprintf("[%s: %s]", item.Type, item.MimeType))
		default:
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
