package types

import "context"

// ToolDefinition describes one tool exposed by an MCP backend.
// Name is unique within a request; ServerID identifies the backend that hosts it.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	ServerID    string         `json:"server_id"`
}

// ToolInvoker invokes a named tool on a named backend and returns its textual result.
type ToolInvoker func(ctx context.Context, serverID, toolName string, args map[string]any) (string, error)

// FindTool returns the definition with the given name.
func FindTool(defs []ToolDefinition, name string) (ToolDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return ToolDefinition{}, false
}
