package openaicompat

import (
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm/providers"
)

// Preset 描述一个 OpenAI 兼容厂商的默认端点与模型.
type Preset struct {
	BaseURL       string
	EndpointPath  string
	FallbackModel string
}

var presets = map[string]Preset{
	"openai":   {BaseURL: "https://api.openai.com", FallbackModel: "gpt-4o-mini"},
	"deepseek": {BaseURL: "https://api.deepseek.com", EndpointPath: "/chat/completions", FallbackModel: "deepseek-chat"},
	"qwen":     {BaseURL: "https://dashscope.aliyuncs.com", EndpointPath: "/compatible-mode/v1/chat/completions", FallbackModel: "qwen3-235b-a22b"},
	"kimi":     {BaseURL: "https://api.moonshot.cn", FallbackModel: "moonshot-v1-8k"},
	"grok":     {BaseURL: "https://api.x.ai", FallbackModel: "grok-beta"},
	"doubao":   {BaseURL: "https://ark.cn-beijing.volces.com", EndpointPath: "/api/v3/chat/completions", FallbackModel: "Doubao-1.5-pro-32k"},
	"hunyuan":  {BaseURL: "https://api.hunyuan.cloud.tencent.com", FallbackModel: "hunyuan-pro"},
	"mistral":  {BaseURL: "https://api.mistral.ai", FallbackModel: "mistral-large-latest"},
	"glm":      {BaseURL: "https://open.bigmodel.cn", EndpointPath: "/api/paas/v4/chat/completions", FallbackModel: "glm-4-plus"},
}

// LookupPreset 按名称查找厂商预设.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames 返回所有已知预设名，按字母排序.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewFromPreset 用预设补全 base 中未设置的字段后创建 Provider.
// name 不是已知预设时返回 false.
func NewFromPreset(name string, base providers.BaseProviderConfig, logger *zap.Logger) (*Provider, bool) {
	preset, ok := presets[name]
	if !ok {
		return nil, false
	}
	base.ProviderName = name
	if base.BaseURL == "" {
		base.BaseURL = preset.BaseURL
	}
	return New(Config{
		BaseProviderConfig: base,
		EndpointPath:       preset.EndpointPath,
		FallbackModel:      preset.FallbackModel,
	}, logger), true
}
