package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm/retry"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"http default", ServerConfig{ID: "a", URL: "http://x"}, false},
		{"ws", ServerConfig{ID: "a", URL: "ws://x", Transport: TransportWebSocket}, false},
		{"missing id", ServerConfig{URL: "http://x"}, true},
		{"missing url", ServerConfig{ID: "a"}, true},
		{"stdio unsupported", ServerConfig{ID: "a", URL: "x", Transport: "stdio"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(RegistryOptions{Logger: zap.NewNop(), Retry: retry.Options{MaxRetries: 0}})
}

func TestRegistry_AggregatesAndRoutes(t *testing.T) {
	alpha := newFakeServer("alpha", "search", "shared")
	beta := newFakeServer("beta", "shared", "deploy")
	beta.sse = true
	gamma := newFakeServer("gamma", "lookup")

	reg := newTestRegistry()
	defer reg.Close()
	ctx := context.Background()
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "alpha", URL: alpha.httpServer(t).URL}))
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "beta", URL: beta.httpServer(t).URL}))
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "gamma", URL: wsURL(gamma.wsServer(t)), Transport: TransportWebSocket}))
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, reg.Servers())

	tools, err := reg.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	owners := make(map[string]string)
	for _, d := range tools {
		names = append(names, d.Name)
		owners[d.Name] = d.ServerID
	}
	assert.Equal(t, []string{"search", "shared", "deploy", "lookup"}, names)
	assert.Equal(t, "alpha", owners["shared"], "first connected server wins")

	// 缓存命中不再请求
	_, err = reg.ListTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, alpha.countMethod(MethodToolsList))

	out, err := reg.Invoke(ctx, "beta", "deploy", map[string]any{"env": "prod"})
	require.NoError(t, err)
	assert.Equal(t, `beta:deploy:{"env":"prod"}`, out)

	out, err = reg.Invoke(ctx, "", "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, `gamma:lookup:{}`, out)

	_, err = reg.Invoke(ctx, "", "nope", nil)
	assert.Error(t, err)
}

func TestRegistry_ToolReportedError(t *testing.T) {
	f := newFakeServer("alpha", "fail")
	f.call = func(string, map[string]any) (*CallToolResult, *MCPError) {
		return &CallToolResult{IsError: true, Content: []ContentItem{{Type: "text", Text: "repository not found"}}}, nil
	}
	reg := newTestRegistry()
	defer reg.Close()
	ctx := context.Background()
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "alpha", URL: f.httpServer(t).URL}))

	_, err := reg.Invoke(ctx, "alpha", "fail", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository not found")
}

func TestRegistry_PartialDiscoveryFailure(t *testing.T) {
	good := newFakeServer("good", "search")
	bad := newFakeServer("bad", "broken")
	bad.failList = true

	reg := newTestRegistry()
	defer reg.Close()
	ctx := context.Background()
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "good", URL: good.httpServer(t).URL}))
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "bad", URL: bad.httpServer(t).URL}))

	tools, err := reg.ListTools(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `server "bad"`)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)

	// 失败时不缓存，下一次重新发现
	_, _ = reg.ListTools(ctx)
	assert.Equal(t, 2, good.countMethod(MethodToolsList))
}

func TestRegistry_ConnectErrors(t *testing.T) {
	reg := newTestRegistry()
	defer reg.Close()
	ctx := context.Background()

	assert.Error(t, reg.Connect(ctx, ServerConfig{ID: "x"}))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	err := reg.Connect(ctx, ServerConfig{ID: "down", URL: down.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"down"`)
	assert.Empty(t, reg.Servers())

	f := newFakeServer("alpha", "search")
	url := f.httpServer(t).URL
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "alpha", URL: url}))
	assert.Error(t, reg.Connect(ctx, ServerConfig{ID: "alpha", URL: url}), "duplicate id")
}

func TestRegistry_RetriesTransientConnectFailure(t *testing.T) {
	f := newFakeServer("alpha", "search")
	inner := f.httpServer(t)
	var failures atomic.Int32
	failures.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		proxyReq, _ := http.NewRequestWithContext(r.Context(), r.Method, inner.URL, r.Body)
		proxyReq.Header = r.Header.Clone()
		resp, err := inner.Client().Do(proxyReq)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		defer resp.Body.Close()
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
			}
			if rerr != nil {
				return
			}
		}
	}))
	defer srv.Close()

	reg := NewRegistry(RegistryOptions{Retry: retry.Options{MaxRetries: 2}})
	defer reg.Close()
	require.NoError(t, reg.Connect(context.Background(), ServerConfig{ID: "alpha", URL: srv.URL}))
	assert.Equal(t, 1, f.countMethod(MethodInitialize))
}

func TestRegistry_Close(t *testing.T) {
	f := newFakeServer("alpha", "search")
	reg := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Connect(ctx, ServerConfig{ID: "alpha", URL: f.httpServer(t).URL}))

	require.NoError(t, reg.Close())
	assert.Empty(t, reg.Servers())
	_, err := reg.Invoke(ctx, "alpha", "search", nil)
	assert.Error(t, err)
}
