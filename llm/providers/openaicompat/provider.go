// =============================================================================
// mcpflow OpenAI-Compatible Streaming Provider
// =============================================================================
// Encodes tools as OpenAI "function" tools and decodes choices[0].delta
// increments from the SSE stream into the shared StreamChunk model.
// =============================================================================

package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/internal/tlsutil"
	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/providers"
	"github.com/BaSui01/mcpflow/llm/sse"
	"github.com/BaSui01/mcpflow/types"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`

	// FallbackModel is used when both request and Model are empty.
	FallbackModel string

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(h http.Header, apiKey string)

	// RequestHook is an optional function to modify the request body before sending.
	RequestHook func(req *llm.ChatRequest, body *Request)

	// SupportsTools indicates whether this provider supports native function calling.
	// Defaults to true if not set.
	SupportsTools *bool
}

// Provider is the streaming implementation for OpenAI-compatible chat APIs.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = "gpt-4o-mini"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.StreamingHTTPClient(cfg.TimeoutOrDefault(60 * time.Second)),
		Logger: logger.With(zap.String("component", "provider"), zap.String("provider", cfg.ProviderName)),
	}
}

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// SupportsNativeFunctionCalling returns whether this provider supports tool calling.
func (p *Provider) SupportsNativeFunctionCalling() bool {
	if p.Cfg.SupportsTools != nil {
		return *p.Cfg.SupportsTools
	}
	return true
}

func (p *Provider) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/event-stream")
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(h, p.Cfg.APIKey)
		return h
	}
	if p.Cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	}
	return h
}

func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), p.Cfg.EndpointPath)
}

// BuildRequest 将统一请求编码为 OpenAI 兼容请求体.
func (p *Provider) BuildRequest(req *llm.ChatRequest) *Request {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.Cfg.MaxTokens
	}
	body := &Request{
		Model:         providers.ChooseModel(req, p.Cfg.Model, p.Cfg.FallbackModel),
		Messages:      ConvertMessages(req.Messages),
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &StreamOptions{IncludeUsage: true},
	}
	if p.SupportsNativeFunctionCalling() {
		body.Tools = ConvertTools(req.Tools)
		if len(body.Tools) > 0 {
			body.ToolChoice = convertToolChoice(req.ToolChoice)
		}
	}
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(req, body)
	}
	return body
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	body := p.BuildRequest(req)
	p.Logger.Debug("opening stream",
		zap.String("model", body.Model),
		zap.Int("messages", len(body.Messages)),
		zap.Int("tools", len(body.Tools)))

	resp, err := providers.PostJSON(ctx, p.Client, p.endpoint(), body, p.headers(), p.Name())
	if err != nil {
		return nil, err
	}
	return providers.StreamSSE(ctx, resp.Body, p.Name(), NewDecoder(p.Name()), p.Logger), nil
}

// NewDecoder 返回解码 choices[0].delta 增量的解码器.
func NewDecoder(provider string) providers.EventDecoder {
	return func(ev sse.Event) ([]llm.StreamChunk, bool, *types.Error) {
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			return nil, false, nil
		}
		if ev.ParseError != "" {
			return nil, false, types.NewError(types.ErrorTypeServer, "malformed stream payload: "+ev.ParseError).
				WithProvider(provider)
		}
		if ev.JSON == nil {
			// 非 JSON 的保活行
			return nil, false, nil
		}

		res := gjson.Parse(data)
		if errVal := res.Get("error"); errVal.Exists() {
			return nil, false, streamError(errVal, provider)
		}

		chunk := llm.StreamChunk{
			ID:       res.Get("id").String(),
			Provider: provider,
			Model:    res.Get("model").String(),
		}
		if u := res.Get("usage"); u.IsObject() {
			chunk.Usage = &llm.ChatUsage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}

		choice := res.Get("choices.0")
		if choice.Exists() {
			delta := choice.Get("delta")
			chunk.Text = delta.Get("content").String()
			chunk.FinishReason = choice.Get("finish_reason").String()
			delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
				chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
					Index:     int(tc.Get("index").Int()),
					ID:        tc.Get("id").String(),
					Name:      tc.Get("function.name").String(),
					Arguments: tc.Get("function.arguments").String(),
				})
				return true
			})
		}

		if chunk.Text == "" && len(chunk.ToolCalls) == 0 && chunk.FinishReason == "" && chunk.Usage == nil {
			return nil, false, nil
		}
		return []llm.StreamChunk{chunk}, false, nil
	}
}

func streamError(errVal gjson.Result, provider string) *types.Error {
	msg := errVal.Get("message").String()
	if msg == "" && errVal.Type == gjson.String {
		msg = errVal.String()
	}
	if code := errVal.Get("code"); code.Type == gjson.Number {
		return llm.NewHTTPError(int(code.Int()), msg, provider)
	}
	ne := llm.NormalizeError(errors.New(msg), "stream error from "+provider)
	ne.Provider = provider
	return ne
}
