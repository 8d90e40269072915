package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// fakeServer 是测试用的最小 MCP 服务端
type fakeServer struct {
	name  string
	pages [][]ToolDefinition
	call  func(name string, args map[string]any) (*CallToolResult, *MCPError)

	sse      bool
	failList bool

	mu       sync.Mutex
	methods  []string
	sessions []string
}

func newFakeServer(name string, tools ...string) *fakeServer {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t,
			Description: "tool " + t,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return &fakeServer{
		name:  name,
		pages: [][]ToolDefinition{defs},
		call: func(tool string, args map[string]any) (*CallToolResult, *MCPError) {
			body, _ := json.Marshal(args)
			return &CallToolResult{Content: []ContentItem{{Type: "text", Text: name + ":" + tool + ":" + string(body)}}}, nil
		},
	}
}

func (f *fakeServer) record(method, session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, method)
	f.sessions = append(f.sessions, session)
}

func (f *fakeServer) countMethod(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

// handle 返回 nil 表示通知无需响应
func (f *fakeServer) handle(msg *MCPMessage) *MCPMessage {
	if msg.ID == nil {
		return nil
	}
	switch msg.Method {
	case MethodInitialize:
		resp, _ := NewMCPResponse(msg.ID, InitializeResult{
			ProtocolVersion: MCPVersion,
			ServerInfo:      ServerInfo{Name: f.name, Version: "1.0.0"},
		})
		return resp
	case MethodToolsList:
		if f.failList {
			return NewMCPError(msg.ID, ErrorCodeInternalError, "listing unavailable", nil)
		}
		page := 0
		if cursor, ok := msg.Params["cursor"].(string); ok {
			fmt.Sscanf(cursor, "page-%d", &page)
		}
		result := ListToolsResult{Tools: f.pages[page]}
		if page+1 < len(f.pages) {
			result.NextCursor = fmt.Sprintf("page-%d", page+1)
		}
		resp, _ := NewMCPResponse(msg.ID, result)
		return resp
	case MethodToolsCall:
		name, _ := msg.Params["name"].(string)
		args, _ := msg.Params["arguments"].(map[string]any)
		result, rpcErr := f.call(name, args)
		if rpcErr != nil {
			return NewMCPError(msg.ID, rpcErr.Code, rpcErr.Message, nil)
		}
		resp, _ := NewMCPResponse(msg.ID, result)
		return resp
	case MethodPing:
		resp, _ := NewMCPResponse(msg.ID, map[string]any{})
		return resp
	default:
		return NewMCPError(msg.ID, ErrorCodeMethodNotFound, "method not found", nil)
	}
}

// httpServer 以 streamable HTTP 方式提供服务
func (f *fakeServer) httpServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg MCPMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		f.record(msg.Method, r.Header.Get(sessionHeader))

		w.Header().Set(sessionHeader, "sess-"+f.name)
		resp := f.handle(&msg)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		body, _ := json.Marshal(resp)
		if f.sse {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// wsServer 以 WebSocket 方式提供服务
func (f *fakeServer) wsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"mcp"}})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg MCPMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return
			}
			f.record(msg.Method, "")
			resp := f.handle(&msg)
			if resp == nil {
				continue
			}
			body, _ := json.Marshal(resp)
			if err := conn.Write(r.Context(), websocket.MessageText, body); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// wsURL converts an http:// test server URL to ws://.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// pipeTransport 是内存中的 Transport，用于驱动 Client 读循环
type pipeTransport struct {
	in   chan *MCPMessage
	sent chan *MCPMessage
	done chan struct{}
	once sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:   make(chan *MCPMessage, 8),
		sent: make(chan *MCPMessage, 8),
		done: make(chan struct{}),
	}
}

func (p *pipeTransport) Send(ctx context.Context, msg *MCPMessage) error {
	select {
	case p.sent <- msg:
		return nil
	case <-p.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	select {
	case m := <-p.in:
		return m, nil
	case <-p.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
