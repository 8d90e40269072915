package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/internal/tlsutil"
	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/providers"
	"github.com/BaSui01/mcpflow/llm/sse"
)

// Transport MCP 传输层接口
type Transport interface {
	// Send 发送消息
	Send(ctx context.Context, msg *MCPMessage) error
	// Receive 接收消息（阻塞）
	Receive(ctx context.Context) (*MCPMessage, error)
	// Close 关闭传输
	Close() error
}

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("mcp: transport is closed")

// sessionHeader 是 streamable HTTP 的会话头
const sessionHeader = "Mcp-Session-Id"

// ---------------------------------------------------------------------------
// HTTPTransport streamable HTTP 传输
// ---------------------------------------------------------------------------

// HTTPTransport 每条消息一个 POST，响应为单个 JSON、JSON 数组或 SSE 事件流
type HTTPTransport struct {
	endpoint   string
	headers    http.Header
	httpClient *http.Client
	logger     *zap.Logger

	incoming chan *MCPMessage
	done     chan struct{}

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewHTTPTransport 创建 HTTP 传输；client 为空时使用不限总时长的流式客户端
func NewHTTPTransport(endpoint string, headers map[string]string, client *http.Client, logger *zap.Logger) *HTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = tlsutil.StreamingHTTPClient(0)
	}
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &HTTPTransport{
		endpoint:   endpoint,
		headers:    h,
		httpClient: client,
		logger:     logger.With(zap.String("component", "mcp_http_transport")),
		incoming:   make(chan *MCPMessage, 64),
		done:       make(chan struct{}),
	}
}

// SessionID 返回服务端分配的会话 ID
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Send POST 消息并把响应中的消息放入接收队列
func (t *HTTPTransport) Send(ctx context.Context, msg *MCPMessage) error {
	t.mu.Lock()
	closed, session := t.closed, t.sessionID
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range t.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return llm.NewHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), "mcp")
	}
	if id := resp.Header.Get(sessionHeader); id != "" {
		t.mu.Lock()
		t.sessionID = id
		t.mu.Unlock()
	}
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return sse.Read(ctx, resp.Body, func(ev sse.Event) error {
			if strings.TrimSpace(ev.Data) == "" {
				return nil
			}
			var m MCPMessage
			if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
				t.logger.Warn("skipping malformed SSE message", zap.Error(err))
				return nil
			}
			return t.deliver(ctx, &m)
		})
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		// 通知类消息可能返回 200 空体
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return t.deliverRaw(ctx, raw)
}

func (t *HTTPTransport) deliverRaw(ctx context.Context, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []*MCPMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return fmt.Errorf("decode batch: %w", err)
		}
		for _, m := range batch {
			if err := t.deliver(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}
	var m MCPMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return t.deliver(ctx, &m)
}

func (t *HTTPTransport) deliver(ctx context.Context, m *MCPMessage) error {
	select {
	case t.incoming <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrTransportClosed
	}
}

// Receive 从接收队列取下一条消息
func (t *HTTPTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	case m := <-t.incoming:
		return m, nil
	}
}

// Close 关闭传输，阻塞中的 Receive 立即返回
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}
