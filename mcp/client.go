package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 客户端标识，随 initialize 发送
const (
	ClientName    = "mcpflow"
	ClientVersion = "0.3.0"
)

// maxListPages 防止服务端返回循环游标
const maxListPages = 100

// ErrClientClosed 客户端已关闭
var ErrClientClosed = errors.New("mcp: client is closed")

// Client MCP 客户端，在任意 Transport 上复用一个读循环
type Client struct {
	transport Transport
	logger    *zap.Logger

	pending   map[string]chan *MCPMessage
	pendingMu sync.Mutex

	mu         sync.RWMutex
	serverInfo *InitializeResult
	loopErr    error

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewClient 创建客户端并启动读循环
func NewClient(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: transport,
		logger:    logger.With(zap.String("component", "mcp_client")),
		pending:   make(map[string]chan *MCPMessage),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

// Initialize 执行握手：initialize 请求 + initialized 通知
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": MCPVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    ClientName,
			"version": ClientVersion,
		},
	}
	raw, err := c.sendRequest(ctx, MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse initialize result: %w", err)
	}

	if err := c.transport.Send(ctx, NewMCPNotification(MethodInitialized, nil)); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = &result
	c.mu.Unlock()

	c.logger.Info("connected to MCP server",
		zap.String("server", result.ServerInfo.Name),
		zap.String("version", result.ServerInfo.Version),
		zap.String("protocol", result.ProtocolVersion))
	return &result, nil
}

// ServerInfo 返回握手结果，未初始化时为 nil
func (c *Client) ServerInfo() *InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ListTools 列出全部工具，自动跟随分页游标
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var (
		all    []ToolDefinition
		cursor string
	)
	for page := 0; page < maxListPages; page++ {
		var params map[string]any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := c.sendRequest(ctx, MethodToolsList, params)
		if err != nil {
			return nil, err
		}

		var result ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to parse tools: %w", err)
		}
		all = append(all, result.Tools...)

		if result.NextCursor == "" || result.NextCursor == cursor {
			return all, nil
		}
		cursor = result.NextCursor
	}
	c.logger.Warn("tools/list pagination limit reached", zap.Int("pages", maxListPages))
	return all, nil
}

// CallTool 调用工具
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.sendRequest(ctx, MethodToolsCall, map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tool result: %w", err)
	}
	return &result, nil
}

// Ping 检查服务端存活
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.sendRequest(ctx, MethodPing, nil)
	return err
}

// Close 停止读循环并关闭传输，未完成的请求以 ErrClientClosed 返回
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.transport.Close()
		<-c.done
	})
	return err
}

// sendRequest 发送请求并等待同 ID 的响应
func (c *Client) sendRequest(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.RLock()
	loopErr := c.loopErr
	c.mu.RUnlock()
	if loopErr != nil {
		return nil, loopErr
	}

	id := uuid.NewString()
	respChan := make(chan *MCPMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.Send(ctx, NewMCPRequest(id, method, params)); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		return nil, c.loopErr
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				err = ErrClientClosed
			} else {
				c.logger.Error("receive failed, stopping client", zap.Error(err))
				err = fmt.Errorf("mcp: connection lost: %w", err)
			}
			c.mu.Lock()
			c.loopErr = err
			c.mu.Unlock()
			return
		}
		c.handleMessage(ctx, msg)
	}
}

// handleMessage 分发响应；服务端发起的请求中只应答 ping
func (c *Client) handleMessage(ctx context.Context, msg *MCPMessage) {
	if msg.IsResponse() {
		id := msg.IDString()
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("dropping response for unknown request", zap.String("id", id))
			return
		}
		select {
		case ch <- msg:
		default:
			c.logger.Warn("duplicate response dropped", zap.String("id", id))
		}
		return
	}

	if msg.ID == nil {
		c.logger.Debug("notification received", zap.String("method", msg.Method))
		return
	}

	var reply *MCPMessage
	if msg.Method == MethodPing {
		reply, _ = NewMCPResponse(msg.ID, map[string]any{})
	} else {
		reply = NewMCPError(msg.ID, ErrorCodeMethodNotFound, "method not supported by client: "+msg.Method, nil)
	}
	// 在独立 goroutine 中回复，避免阻塞读循环
	go func() {
		if err := c.transport.Send(ctx, reply); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to reply to server request",
				zap.String("method", msg.Method), zap.Error(err))
		}
	}()
}
