package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm/retry"
	"github.com/BaSui01/mcpflow/types"
)

// 支持的传输类型
const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
)

// ServerConfig 单个 MCP 服务器的连接配置
type ServerConfig struct {
	ID        string
	Transport string // http（默认）或 ws
	URL       string
	Headers   map[string]string
}

// Validate 检查配置完整性
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return errors.New("mcp server id is required")
	}
	if c.URL == "" {
		return fmt.Errorf("mcp server %q: url is required", c.ID)
	}
	switch c.Transport {
	case "", TransportHTTP, TransportWebSocket:
		return nil
	default:
		return fmt.Errorf("mcp server %q: unsupported transport %q", c.ID, c.Transport)
	}
}

// RegistryOptions Registry 的可选依赖
type RegistryOptions struct {
	Logger     *zap.Logger
	Retry      retry.Options
	HTTPClient *http.Client
	WebSocket  WSTransportConfig
}

type serverConn struct {
	id     string
	client *Client
}

// Registry 管理多个 MCP 服务器，聚合工具列表并按归属路由调用
type Registry struct {
	logger  *zap.Logger
	retryer retry.Retryer
	opts    RegistryOptions

	mu      sync.RWMutex
	servers map[string]*serverConn
	order   []string

	tools  []types.ToolDefinition
	owners map[string]string
	cached bool
}

// NewRegistry 创建空的 Registry
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Retry.Logger = opts.Logger
	return &Registry{
		logger:  opts.Logger.With(zap.String("component", "mcp_registry")),
		retryer: retry.NewRetryer(opts.Retry),
		opts:    opts,
		servers: make(map[string]*serverConn),
		owners:  make(map[string]string),
	}
}

// Connect 连接并初始化一个服务器，网络类失败按重试策略重试
func (r *Registry) Connect(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.RLock()
	_, exists := r.servers[cfg.ID]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("mcp server %q already connected", cfg.ID)
	}

	var client *Client
	err := r.retryer.Do(ctx, func(ctx context.Context) error {
		transport, err := r.newTransport(ctx, cfg)
		if err != nil {
			return err
		}
		c := NewClient(transport, r.opts.Logger.With(zap.String("server_id", cfg.ID)))
		if _, err := c.Initialize(ctx); err != nil {
			_ = c.Close()
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect mcp server %q: %w", cfg.ID, err)
	}

	r.mu.Lock()
	r.servers[cfg.ID] = &serverConn{id: cfg.ID, client: client}
	r.order = append(r.order, cfg.ID)
	r.cached = false
	r.mu.Unlock()

	r.logger.Info("mcp server registered",
		zap.String("server_id", cfg.ID),
		zap.String("transport", transportName(cfg.Transport)))
	return nil
}

func (r *Registry) newTransport(ctx context.Context, cfg ServerConfig) (Transport, error) {
	logger := r.opts.Logger.With(zap.String("server_id", cfg.ID))
	if cfg.Transport == TransportWebSocket {
		wsCfg := r.opts.WebSocket
		if wsCfg.Headers == nil {
			wsCfg.Headers = cfg.Headers
		}
		t := NewWebSocketTransport(cfg.URL, wsCfg, logger)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}
	return NewHTTPTransport(cfg.URL, cfg.Headers, r.opts.HTTPClient, logger), nil
}

func transportName(t string) string {
	if t == "" {
		return TransportHTTP
	}
	return t
}

// Servers 返回已连接服务器的 ID（按连接顺序）
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ListTools 返回缓存的聚合工具列表，首次调用时触发发现
func (r *Registry) ListTools(ctx context.Context) ([]types.ToolDefinition, error) {
	r.mu.RLock()
	if r.cached {
		defs := append([]types.ToolDefinition(nil), r.tools...)
		r.mu.RUnlock()
		return defs, nil
	}
	r.mu.RUnlock()
	return r.Refresh(ctx)
}

// Refresh 重新向所有服务器发现工具。
// 同名工具以先连接的服务器为准；部分服务器失败时返回其余结果和合并后的错误。
func (r *Registry) Refresh(ctx context.Context) ([]types.ToolDefinition, error) {
	r.mu.RLock()
	conns := make([]*serverConn, 0, len(r.order))
	for _, id := range r.order {
		conns = append(conns, r.servers[id])
	}
	r.mu.RUnlock()

	var (
		defs   []types.ToolDefinition
		owners = make(map[string]string)
		errs   []error
	)
	for _, sc := range conns {
		tools, err := sc.client.ListTools(ctx)
		if err != nil {
			r.logger.Warn("tool discovery failed", zap.String("server_id", sc.id), zap.Error(err))
			errs = append(errs, fmt.Errorf("server %q: %w", sc.id, err))
			continue
		}
		for _, t := range tools {
			if prev, dup := owners[t.Name]; dup {
				r.logger.Warn("duplicate tool name ignored",
					zap.String("tool", t.Name),
					zap.String("kept_server", prev),
					zap.String("ignored_server", sc.id))
				continue
			}
			owners[t.Name] = sc.id
			defs = append(defs, t.ToTypes(sc.id))
		}
	}

	r.mu.Lock()
	r.tools = defs
	r.owners = owners
	r.cached = len(errs) == 0
	r.mu.Unlock()

	r.logger.Debug("tools discovered", zap.Int("count", len(defs)), zap.Int("servers", len(conns)))
	return append([]types.ToolDefinition(nil), defs...), errors.Join(errs...)
}

// Invoke 在指定服务器上调用工具；serverID 为空时按工具归属查找。
// 结果标记 isError 时以错误返回，错误文本为结果内容。
func (r *Registry) Invoke(ctx context.Context, serverID, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	if serverID == "" {
		serverID = r.owners[name]
	}
	sc, ok := r.servers[serverID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no mcp server owns tool %q", name)
	}

	result, err := sc.client.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	text := result.Text()
	if result.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", name, text)
	}
	return text, nil
}

// Close 关闭所有连接
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := r.servers
	r.servers = make(map[string]*serverConn)
	r.order = nil
	r.tools = nil
	r.owners = make(map[string]string)
	r.cached = false
	r.mu.Unlock()

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := conns[id].client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
