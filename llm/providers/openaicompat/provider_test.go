package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/providers"
	"github.com/BaSui01/mcpflow/types"
)

func boolPtr(b bool) *bool { return &b }

func newTestProvider(url string) *Provider {
	return New(Config{
		BaseProviderConfig: providers.BaseProviderConfig{
			ProviderName: "test",
			APIKey:       "sk-test",
			BaseURL:      url,
			Model:        "test-model",
		},
	}, zap.NewNop())
}

func drain(t *testing.T, ch <-chan llm.StreamChunk) []llm.StreamChunk {
	t.Helper()
	var out []llm.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func sseServer(t *testing.T, capture *map[string]any, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name             string
		cfg              Config
		wantEndpoint     string
		wantName         string
		wantToolsSupport bool
	}{
		{
			name:             "all defaults applied",
			cfg:              Config{},
			wantEndpoint:     "/v1/chat/completions",
			wantName:         "openai",
			wantToolsSupport: true,
		},
		{
			name: "custom endpoint preserved",
			cfg: Config{
				BaseProviderConfig: providers.BaseProviderConfig{ProviderName: "custom"},
				EndpointPath:       "/api/chat",
			},
			wantEndpoint:     "/api/chat",
			wantName:         "custom",
			wantToolsSupport: true,
		},
		{
			name: "supports tools false",
			cfg: Config{
				BaseProviderConfig: providers.BaseProviderConfig{ProviderName: "no-tools"},
				SupportsTools:      boolPtr(false),
			},
			wantEndpoint:     "/v1/chat/completions",
			wantName:         "no-tools",
			wantToolsSupport: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, nil)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantEndpoint, p.Cfg.EndpointPath)
			assert.Equal(t, tt.wantName, p.Name())
			assert.Equal(t, tt.wantToolsSupport, p.SupportsNativeFunctionCalling())
			assert.NotNil(t, p.Client)
			assert.NotNil(t, p.Logger)
		})
	}
}

// ---------------------------------------------------------------------------
// Request encoding
// ---------------------------------------------------------------------------

func TestBuildRequest_ToolsAndHistory(t *testing.T) {
	p := newTestProvider("http://unused")
	req := &llm.ChatRequest{
		Messages: []types.Message{
			types.NewSystemMessage("be brief"),
			types.NewUserMessage("look at this").WithEmbeds([]types.Attachment{
				{MimeType: "image/png", Data: []byte{1, 2, 3}},
				{MimeType: "application/pdf", Data: []byte{9}},
			}),
			types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{{ID: "call_1", Name: "search", Arguments: ""}}),
			types.NewToolMessage("call_1", "search", "found it"),
		},
		Tools: []types.ToolDefinition{
			{Name: "search", Description: "web search", ServerID: "s1"},
		},
		ToolChoice: "search",
	}

	body := p.BuildRequest(req)

	assert.Equal(t, "test-model", body.Model)
	assert.True(t, body.Stream)
	require.Len(t, body.Messages, 4)

	parts, ok := body.Messages[1].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "data:image/png;base64,AQID", parts[1].ImageURL.URL)

	assert.Nil(t, body.Messages[2].Content)
	require.Len(t, body.Messages[2].ToolCalls, 1)
	assert.Equal(t, "{}", body.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "function", body.Messages[2].ToolCalls[0].Type)

	assert.Equal(t, "tool", body.Messages[3].Role)
	assert.Equal(t, "call_1", body.Messages[3].ToolCallID)
	assert.Empty(t, body.Messages[3].Name)
	raw, err := json.Marshal(body.Messages[3])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"name"`)

	require.Len(t, body.Tools, 1)
	assert.Equal(t, "function", body.Tools[0].Type)
	assert.Equal(t, "object", body.Tools[0].Function.Parameters["type"])
	assert.Equal(t, map[string]any{
		"type":     "function",
		"function": map[string]any{"name": "search"},
	}, body.ToolChoice)
}

func TestBuildRequest_NullContentOnWire(t *testing.T) {
	p := newTestProvider("http://unused")
	body := p.BuildRequest(&llm.ChatRequest{Messages: []types.Message{
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{{ID: "c", Name: "t", Arguments: "{}"}}),
	}})

	raw, err := json.Marshal(body.Messages[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":null`)
}

func TestBuildRequest_ToolsDroppedWhenUnsupported(t *testing.T) {
	p := New(Config{SupportsTools: boolPtr(false)}, nil)
	body := p.BuildRequest(&llm.ChatRequest{Tools: []types.ToolDefinition{{Name: "x"}}, ToolChoice: "auto"})
	assert.Empty(t, body.Tools)
	assert.Nil(t, body.ToolChoice)
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func TestStream_TextDeltas(t *testing.T) {
	var captured map[string]any
	srv := sseServer(t, &captured,
		`data: {"id":"1","model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`+"\n\n",
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"lo"}}]}`+"\n\n",
		": keep-alive\n\n",
		`data: {"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n",
		"data: [DONE]\n\n",
	)
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	chunks := drain(t, ch)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Text)
	assert.Equal(t, "lo", chunks[1].Text)
	assert.Equal(t, "stop", chunks[2].FinishReason)
	assert.Equal(t, true, captured["stream"])
	assert.Equal(t, "test-model", captured["model"])
}

func TestStream_ToolCallDeltas(t *testing.T) {
	srv := sseServer(t, nil,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_","arguments":""}}]}}]}`+"\n\n",
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"repo","arguments":"{\"repo\":"}}]}}]}`+"\n\n",
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a/b\"}"}}]}}]}`+"\n\n",
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`+"\n\n",
		"data: [DONE]\n\n",
	)
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	chunks := drain(t, ch)

	var name, args, id string
	for _, c := range chunks {
		for _, d := range c.ToolCalls {
			assert.Equal(t, 0, d.Index)
			if d.ID != "" {
				id = d.ID
			}
			name += d.Name
			args += d.Arguments
		}
	}
	assert.Equal(t, "call_a", id)
	assert.Equal(t, "get_repo", name)
	assert.Equal(t, `{"repo":"a/b"}`, args)
	assert.Equal(t, "tool_calls", chunks[len(chunks)-1].FinishReason)
}

func TestStream_HTTPErrorMapped(t *testing.T) {
	tests := []struct {
		status    int
		wantType  types.ErrorType
		retryable bool
	}{
		{http.StatusUnauthorized, types.ErrorTypeAuth, false},
		{http.StatusTooManyRequests, types.ErrorTypeRateLimit, true},
		{http.StatusBadGateway, types.ErrorTypeServer, true},
		{http.StatusBadRequest, types.ErrorTypeInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"test_error"}}`)
			}))
			defer srv.Close()

			_, err := newTestProvider(srv.URL).Stream(context.Background(), &llm.ChatRequest{})
			ne, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, ne.Type)
			assert.Equal(t, tt.retryable, ne.Retryable)
			assert.Equal(t, tt.status, ne.Status)
			assert.Equal(t, "nope (type: test_error)", ne.Message)
			assert.Equal(t, "test", ne.Provider)
		})
	}
}

func TestStream_InBandError(t *testing.T) {
	srv := sseServer(t, nil,
		`data: {"choices":[{"index":0,"delta":{"content":"par"}}]}`+"\n\n",
		`data: {"error":{"message":"upstream overloaded","code":503}}`+"\n\n",
	)
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	chunks := drain(t, ch)

	require.Len(t, chunks, 2)
	require.NotNil(t, chunks[1].Err)
	assert.Equal(t, types.ErrorTypeServer, chunks[1].Err.Type)
	assert.Equal(t, 503, chunks[1].Err.Status)
}

func TestStream_MalformedPayload(t *testing.T) {
	srv := sseServer(t, nil, "data: {not json\n\n")
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	chunks := drain(t, ch)

	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Err)
	assert.Contains(t, chunks[0].Err.Message, "malformed stream payload")
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProvider("http://127.0.0.1:1").Stream(ctx, &llm.ChatRequest{})
	require.Error(t, err)
	assert.True(t, types.IsAbort(err))
}
