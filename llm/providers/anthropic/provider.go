package anthropic

import (
	"context"
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

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
)

// Config Claude Provider 配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
}

// Provider 实现 Anthropic Messages API 的流式调用。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Claude Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "anthropic"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.StreamingHTTPClient(cfg.TimeoutOrDefault(60 * time.Second)),
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", cfg.ProviderName)),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

// BuildRequest 将统一请求编码为 Messages API 请求体
func (p *Provider) BuildRequest(req *llm.ChatRequest) *Request {
	system, msgs := ConvertMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	body := &Request{
		Model:       providers.ChooseModel(req, p.cfg.Model, defaultModel),
		System:      system,
		Messages:    msgs,
		Tools:       ConvertTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = convertToolChoice(req.ToolChoice)
	}
	return body
}

func (p *Provider) headers() http.Header {
	h := http.Header{}
	h.Set("x-api-key", p.cfg.APIKey)
	h.Set("anthropic-version", apiVersion)
	h.Set("Accept", "text/event-stream")
	return h
}

// Stream 发起流式请求
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	body := p.BuildRequest(req)
	p.logger.Debug("opening stream",
		zap.String("model", body.Model),
		zap.Int("messages", len(body.Messages)),
		zap.Int("tools", len(body.Tools)))

	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.cfg.BaseURL, "/"))
	resp, err := providers.PostJSON(ctx, p.client, endpoint, body, p.headers(), p.Name())
	if err != nil {
		return nil, err
	}
	return providers.StreamSSE(ctx, resp.Body, p.Name(), NewDecoder(p.Name()), p.logger), nil
}

// errorStatus 将流内 error 事件的类型映射为 HTTP 状态码
var errorStatus = map[string]int{
	"invalid_request_error": http.StatusBadRequest,
	"authentication_error":  http.StatusUnauthorized,
	"permission_error":      http.StatusForbidden,
	"not_found_error":       http.StatusNotFound,
	"request_too_large":     http.StatusRequestEntityTooLarge,
	"rate_limit_error":      http.StatusTooManyRequests,
	"api_error":             http.StatusInternalServerError,
	"overloaded_error":      529,
}

// NewDecoder 返回解码 content_block_* 事件的解码器，每个流使用一个新实例。
func NewDecoder(provider string) providers.EventDecoder {
	var (
		msgID    string
		model    string
		toolIdx  = map[int]bool{}
		inTokens int
	)

	return func(ev sse.Event) ([]llm.StreamChunk, bool, *types.Error) {
		if ev.ParseError != "" {
			return nil, false, types.NewError(types.ErrorTypeServer, "malformed stream payload: "+ev.ParseError).
				WithProvider(provider)
		}
		if ev.JSON == nil {
			return nil, false, nil
		}

		res := gjson.Parse(ev.Data)
		typ := res.Get("type").String()
		if typ == "" {
			typ = ev.Event
		}
		base := llm.StreamChunk{ID: msgID, Provider: provider, Model: model}

		switch typ {
		case "message_start":
			msgID = res.Get("message.id").String()
			model = res.Get("message.model").String()
			inTokens = int(res.Get("message.usage.input_tokens").Int())

		case "content_block_start":
			idx := int(res.Get("index").Int())
			block := res.Get("content_block")
			switch block.Get("type").String() {
			case "tool_use":
				toolIdx[idx] = true
				c := base
				c.ToolCalls = []llm.ToolCallDelta{{
					Index: idx,
					ID:    block.Get("id").String(),
					Name:  block.Get("name").String(),
				}}
				return []llm.StreamChunk{c}, false, nil
			case "text":
				if text := block.Get("text").String(); text != "" {
					c := base
					c.Text = text
					return []llm.StreamChunk{c}, false, nil
				}
			}

		case "content_block_delta":
			idx := int(res.Get("index").Int())
			delta := res.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				c := base
				c.Text = delta.Get("text").String()
				return []llm.StreamChunk{c}, false, nil
			case "input_json_delta":
				c := base
				c.ToolCalls = []llm.ToolCallDelta{{Index: idx, Arguments: delta.Get("partial_json").String()}}
				return []llm.StreamChunk{c}, false, nil
			}

		case "content_block_stop":
			idx := int(res.Get("index").Int())
			if toolIdx[idx] {
				c := base
				c.ToolCalls = []llm.ToolCallDelta{{Index: idx, Closed: true}}
				return []llm.StreamChunk{c}, false, nil
			}

		case "message_delta":
			c := base
			c.FinishReason = res.Get("delta.stop_reason").String()
			if out := res.Get("usage.output_tokens"); out.Exists() {
				c.Usage = &llm.ChatUsage{
					PromptTokens:     inTokens,
					CompletionTokens: int(out.Int()),
					TotalTokens:      inTokens + int(out.Int()),
				}
			}
			return []llm.StreamChunk{c}, false, nil

		case "message_stop":
			return nil, true, nil

		case "error":
			errType := res.Get("error.type").String()
			msg := res.Get("error.message").String()
			status, ok := errorStatus[errType]
			if !ok {
				status = http.StatusInternalServerError
			}
			return nil, false, llm.NewHTTPError(status, msg, provider)
		}

		// ping 等事件忽略
		return nil, false, nil
	}
}
