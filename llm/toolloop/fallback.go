package toolloop

import (
	"regexp"

	"github.com/BaSui01/mcpflow/types"
)

// incompatibilityRule 判断错误是否说明 Provider 本身不接受带工具的请求
type incompatibilityRule struct {
	name  string
	match func(err *types.Error) bool
}

var (
	serverStatusPattern = regexp.MustCompile(`\b5\d{2}\b`)
	toolPhrasePattern   = regexp.MustCompile(`(?i)\b(?:tools?|functions?|function[_ ]call(?:ing|s)?|tool[_ ]choice)\b[^.\n]{0,60}?\b(?:unsupported|not supported|invalid|unknown|not allowed|not available)\b`)
	toolPhraseReversed  = regexp.MustCompile(`(?i)\b(?:unsupported|unknown|invalid)\b[^.\n]{0,20}?\b(?:tools?|functions?)\b`)
)

// incompatibilityRules 按顺序匹配，命中任意一条即回退
var incompatibilityRules = []incompatibilityRule{
	{"server_error", func(err *types.Error) bool { return err.Type == types.ErrorTypeServer }},
	{"5xx_in_message", func(err *types.Error) bool { return serverStatusPattern.MatchString(err.Message) }},
	{"tool_unsupported", func(err *types.Error) bool {
		return toolPhrasePattern.MatchString(err.Message) || toolPhraseReversed.MatchString(err.Message)
	}},
}

// IncompatibilityReason 返回命中的规则名；Provider 无过错时返回空串。
// 中止不会触发回退。
func IncompatibilityReason(err *types.Error) string {
	if err == nil || err.IsAbort {
		return ""
	}
	for _, r := range incompatibilityRules {
		if r.match(err) {
			return r.name
		}
	}
	return ""
}

// IsProviderIncompatibility 判断是否应去掉工具重试整个请求
func IsProviderIncompatibility(err *types.Error) bool {
	return IncompatibilityReason(err) != ""
}
