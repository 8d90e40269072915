package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/types"
)

const maxErrorBody = 64 << 10

// ReadErrorMessage 读取响应体中的错误消息
// 依次尝试 error.message、message、error（字符串）、detail，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}

	res := gjson.ParseBytes(data)
	if msg := res.Get("error.message").String(); msg != "" {
		if typ := res.Get("error.type").String(); typ != "" {
			return fmt.Sprintf("%s (type: %s)", msg, typ)
		}
		return msg
	}
	for _, path := range []string{"message", "error", "detail"} {
		if v := res.Get(path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return strings.TrimSpace(string(data))
}

// HTTPError 将非 2xx 响应转换为归一化错误，并关闭响应体
func HTTPError(resp *http.Response, provider string) *types.Error {
	defer SafeCloseBody(resp.Body)
	return llm.NewHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), provider)
}

// TransportError 将请求发送阶段的错误归一化并标注 Provider
func TransportError(err error, provider string) *types.Error {
	ne := llm.NormalizeError(err, "request to "+provider+" failed")
	if ne.Provider == "" {
		ne.Provider = provider
	}
	return ne
}

// PostJSON 序列化 body 并发起 POST 请求，返回状态为 2xx 的响应。
// 失败时响应体已关闭，错误为 *types.Error。
func PostJSON(ctx context.Context, client *http.Client, url string, body any, headers http.Header, provider string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrorTypeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err)).
			WithProvider(provider).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrorTypeInvalidRequest, fmt.Sprintf("failed to create request: %v", err)).
			WithProvider(provider).WithCause(err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, TransportError(err, provider)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, HTTPError(resp, provider)
	}
	return resp, nil
}

// ChooseModel 根据请求和默认值选择模型
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// ObjectSchema 返回工具的输入 schema，缺省时为空对象 schema
func ObjectSchema(def types.ToolDefinition) map[string]any {
	if len(def.InputSchema) > 0 {
		return def.InputSchema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// ParseArguments 将累积的参数文本解析为对象，空文本或非对象时返回空对象
func ParseArguments(raw string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// DataURL 将附件编码为 data URL，已有 URL 的附件直接返回其 URL
func DataURL(a types.Attachment) string {
	if a.URL != "" {
		return a.URL
	}
	return "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
