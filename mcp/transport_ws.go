package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm/retry"
)

// WSState represents the connection state of a WebSocket transport.
type WSState string

const (
	WSStateDisconnected WSState = "disconnected"
	WSStateConnecting   WSState = "connecting"
	WSStateConnected    WSState = "connected"
	WSStateReconnecting WSState = "reconnecting"
	WSStateFailed       WSState = "failed"
	WSStateClosed       WSState = "closed"
)

// WSTransportConfig configures the WebSocket transport behavior.
type WSTransportConfig struct {
	HeartbeatInterval time.Duration // Interval between websocket pings (default 30s)
	HeartbeatTimeout  time.Duration // Max wait for a pong (default 10s)
	MaxReconnects     int           // Maximum consecutive reconnection attempts (0 = no reconnect)
	ReconnectDelay    time.Duration // Base delay for exponential backoff (default 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default 30s)
	EnableHeartbeat   bool
	Subprotocols      []string          // default ["mcp"]
	Headers           map[string]string // Sent with the opening handshake
	SendBufferSize    int               // Outbound buffer size during reconnect (default 64)
	ReadLimit         int64             // Max message size in bytes (default 4 MiB)
}

// DefaultWSTransportConfig returns a WSTransportConfig with sensible defaults.
func DefaultWSTransportConfig() WSTransportConfig {
	return WSTransportConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MaxReconnects:     5,
		ReconnectDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		EnableHeartbeat:   true,
		Subprotocols:      []string{"mcp"},
		SendBufferSize:    64,
		ReadLimit:         4 << 20,
	}
}

// WebSocketTransport implements Transport over a single WebSocket connection
// with heartbeat, exponential-backoff reconnection and state callbacks.
type WebSocketTransport struct {
	url    string
	logger *zap.Logger
	config WSTransportConfig

	mu             sync.Mutex
	conn           *websocket.Conn
	closed         bool
	state          WSState
	onStateChange  func(state WSState)
	reconnectCount int
	reconnecting   bool
	sendBuffer     []*MCPMessage
	done           chan struct{}
}

// NewWebSocketTransport creates a WebSocket transport; zero config fields fall back to defaults.
func NewWebSocketTransport(url string, config WSTransportConfig, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWSTransportConfig()
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = def.ReconnectDelay
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = def.SendBufferSize
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = def.ReadLimit
	}
	if config.Subprotocols == nil {
		config.Subprotocols = def.Subprotocols
	}
	return &WebSocketTransport{
		url:    url,
		logger: logger.With(zap.String("component", "mcp_ws_transport")),
		config: config,
		state:  WSStateDisconnected,
		done:   make(chan struct{}),
	}
}

// OnStateChange registers a callback invoked whenever the connection state changes.
func (t *WebSocketTransport) OnStateChange(fn func(WSState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// setState 更新状态并触发回调，调用方不能持有 t.mu
func (t *WebSocketTransport) setState(s WSState) {
	t.mu.Lock()
	t.state = s
	fn := t.onStateChange
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// State returns the current connection state.
func (t *WebSocketTransport) State() WSState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected returns true when the transport has an active connection.
func (t *WebSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == WSStateConnected && !t.closed
}

// Connect dials the server and starts the heartbeat goroutine.
// The heartbeat lives until Close, independent of ctx.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.setState(WSStateConnecting)
	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(WSStateDisconnected)
		return fmt.Errorf("websocket connect: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(WSStateConnected)

	if t.config.EnableHeartbeat {
		go t.heartbeat()
	}
	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		Subprotocols: t.config.Subprotocols,
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(t.config.ReadLimit)
	return conn, nil
}

// Send writes a JSON-RPC message. On write failure it reconnects (when
// enabled) and retries once; messages sent during a reconnect are buffered.
func (t *WebSocketTransport) Send(ctx context.Context, msg *MCPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn, closed, reconnecting := t.conn, t.closed, t.reconnecting
	t.mu.Unlock()

	switch {
	case closed:
		return ErrTransportClosed
	case reconnecting:
		t.bufferMessage(msg)
		return nil
	case conn == nil:
		return fmt.Errorf("websocket: not connected")
	}

	writeErr := conn.Write(ctx, websocket.MessageText, body)
	if writeErr == nil || t.config.MaxReconnects == 0 || ctx.Err() != nil {
		return writeErr
	}

	t.logger.Warn("send failed, attempting reconnect", zap.Error(writeErr))
	if err := t.tryReconnect(ctx); err != nil {
		return fmt.Errorf("send failed and reconnect failed: %w", writeErr)
	}

	t.mu.Lock()
	conn = t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket: not connected after reconnect")
	}
	return conn.Write(ctx, websocket.MessageText, body)
}

// Receive reads the next JSON-RPC message, reconnecting on read errors when enabled.
func (t *WebSocketTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	for {
		t.mu.Lock()
		conn, closed := t.conn, t.closed
		t.mu.Unlock()

		if closed {
			return nil, ErrTransportClosed
		}
		if conn == nil {
			if err := t.waitForReconnect(ctx); err != nil {
				return nil, err
			}
			continue
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.done:
				return nil, ErrTransportClosed
			default:
			}
			if t.config.MaxReconnects == 0 {
				return nil, err
			}
			t.logger.Warn("receive failed, attempting reconnect", zap.Error(err))
			if reconnErr := t.tryReconnect(ctx); reconnErr != nil {
				return nil, fmt.Errorf("receive failed and reconnect failed: %w", err)
			}
			continue
		}

		var msg MCPMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("skipping malformed message", zap.Error(err))
			continue
		}
		return &msg, nil
	}
}

// Close stops the heartbeat and closes the underlying connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.mu.Unlock()

	t.setState(WSStateClosed)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

// heartbeat 定期发送 websocket ping，超时即重连
func (t *WebSocketTransport) heartbeat() {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		conn, reconnecting := t.conn, t.reconnecting
		t.mu.Unlock()
		if conn == nil || reconnecting {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.config.HeartbeatTimeout)
		err := conn.Ping(ctx)
		cancel()
		if err == nil {
			continue
		}

		t.logger.Warn("heartbeat ping failed", zap.Error(err))
		if t.config.MaxReconnects == 0 {
			continue
		}
		if err := t.tryReconnect(context.Background()); err != nil {
			return
		}
	}
}

// tryReconnect 以指数退避重新建立连接，最多 MaxReconnects 次；
// 同一时间只有一个重连循环，其余调用方等待其结果。
func (t *WebSocketTransport) tryReconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.reconnecting {
		t.mu.Unlock()
		return t.waitForReconnect(ctx)
	}
	t.reconnecting = true
	oldConn := t.conn
	t.conn = nil
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		t.mu.Unlock()
	}()

	t.setState(WSStateReconnecting)
	if oldConn != nil {
		_ = oldConn.Close(websocket.StatusGoingAway, "reconnecting")
	}

	backoff := retry.Options{BaseDelay: t.config.ReconnectDelay, MaxDelay: t.config.MaxBackoff, JitterRatio: 0.1}
	for attempt := 0; ; attempt++ {
		t.mu.Lock()
		if t.reconnectCount >= t.config.MaxReconnects {
			t.mu.Unlock()
			t.setState(WSStateFailed)
			return fmt.Errorf("max reconnect attempts (%d) reached", t.config.MaxReconnects)
		}
		t.reconnectCount++
		t.mu.Unlock()

		delay := retry.Delay(attempt, backoff)
		t.logger.Info("attempting reconnect",
			zap.Int("attempt", attempt+1),
			zap.Int("max", t.config.MaxReconnects),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrTransportClosed
		case <-time.After(delay):
		}

		conn, err := t.dial(ctx)
		if err != nil {
			t.logger.Warn("reconnect dial failed", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.reconnectCount = 0
		t.mu.Unlock()

		t.setState(WSStateConnected)
		t.logger.Info("reconnected", zap.Int("attempt", attempt+1))
		t.flushSendBuffer(ctx)
		return nil
	}
}

// waitForReconnect 等待进行中的重连结束
func (t *WebSocketTransport) waitForReconnect(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		reconnecting, state, conn := t.reconnecting, t.state, t.conn
		t.mu.Unlock()
		if !reconnecting {
			if state == WSStateConnected && conn != nil {
				return nil
			}
			return fmt.Errorf("websocket: reconnect finished in state %s", state)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrTransportClosed
		case <-ticker.C:
		}
	}
}

// bufferMessage 缓存重连期间的消息，满时丢弃最旧的一条
func (t *WebSocketTransport) bufferMessage(msg *MCPMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sendBuffer) >= t.config.SendBufferSize {
		t.sendBuffer = t.sendBuffer[1:]
		t.logger.Warn("send buffer full, dropping oldest message")
	}
	t.sendBuffer = append(t.sendBuffer, msg)
}

func (t *WebSocketTransport) flushSendBuffer(ctx context.Context) {
	t.mu.Lock()
	buf := t.sendBuffer
	t.sendBuffer = nil
	t.mu.Unlock()

	for _, msg := range buf {
		if err := t.Send(ctx, msg); err != nil {
			t.logger.Warn("failed to flush buffered message",
				zap.String("method", msg.Method),
				zap.Error(err))
		}
	}
}
