package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"

	"github.com/BaSui01/mcpflow/types"
)

var (
	abortPattern   = regexp.MustCompile(`(?i)abort|cancell?ed`)
	statusPattern  = regexp.MustCompile(`\b[45]\d{2}\b`)
	networkPattern = regexp.MustCompile(`(?i)network|timeout|timed out|econnreset|econnrefused|enotfound|fetch failed|socket hang up|connection (?:refused|reset)|no such host|broken pipe|unexpected eof`)
)

// statusCoder 与 httpStatuser 是可携带 HTTP 状态码的错误形态。
type statusCoder interface{ StatusCode() int }

type httpStatuser interface{ HTTPStatus() int }

// namedError 兼容以名称标识类别的错误，例如 Name() == "AbortError"。
type namedError interface{ Name() string }

// classifyInput 是规则表的输入。
type classifyInput struct {
	status  int
	message string
	err     error
}

// classifyRule 是有序规则表中的一项，按顺序第一个命中的规则决定类型。
type classifyRule struct {
	name  string
	match func(in classifyInput) bool
	typ   types.ErrorType
}

var classifyRules = []classifyRule{
	{"status_401", func(in classifyInput) bool { return in.status == 401 }, types.ErrorTypeAuth},
	{"status_403", func(in classifyInput) bool { return in.status == 403 }, types.ErrorTypePermission},
	{"status_429", func(in classifyInput) bool { return in.status == 429 }, types.ErrorTypeRateLimit},
	{"status_5xx", func(in classifyInput) bool { return in.status >= 500 }, types.ErrorTypeServer},
	{"status_other", func(in classifyInput) bool { return in.status > 0 }, types.ErrorTypeInvalidRequest},
	{"network", isNetworkFailure, types.ErrorTypeNetwork},
}

// classify 按规则表返回错误类型，未命中时为 invalid_request。
func classify(in classifyInput) types.ErrorType {
	for _, r := range classifyRules {
		if r.match(in) {
			return r.typ
		}
	}
	return types.ErrorTypeInvalidRequest
}

func isNetworkFailure(in classifyInput) bool {
	if in.err != nil {
		if errors.Is(in.err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(in.err, &netErr) {
			return true
		}
	}
	return networkPattern.MatchString(in.message)
}

// NormalizeError 将任意错误转换为统一的 *types.Error。
//
// 已归一化的错误原样返回。取消信号（context.Canceled、名为 AbortError 的错误
// 或消息匹配取消词汇）总是产生 IsAbort=true 且不可重试的错误。其他错误先按
// HTTP 状态码分类，没有状态码时再按消息文本分类。
func NormalizeError(err error, fallback string) *types.Error {
	if ne, ok := types.AsError(err); ok {
		return ne
	}

	message := ""
	if err != nil {
		message = err.Error()
	}
	status := extractStatus(err, message)

	if isAbort(err, message) {
		if message == "" {
			message = fallback
		}
		if message == "" {
			message = "request aborted"
		}
		return &types.Error{
			Message: message,
			Type:    types.ErrorTypeInvalidRequest,
			Status:  status,
			IsAbort: true,
			Cause:   err,
		}
	}

	typ := classify(classifyInput{status: status, message: message, err: err})
	if message == "" {
		message = fallback
	}
	if message == "" {
		message = defaultMessage(typ, status)
	}
	return &types.Error{
		Message:   message,
		Type:      typ,
		Status:    status,
		Retryable: typ.RetryableType(),
		Cause:     err,
	}
}

// NewHTTPError 根据 HTTP 状态码构造归一化错误，供各 Provider 在非 2xx 响应时使用。
func NewHTTPError(status int, message, provider string) *types.Error {
	typ := classify(classifyInput{status: status, message: message})
	if message == "" {
		message = defaultMessage(typ, status)
	}
	return &types.Error{
		Message:   message,
		Type:      typ,
		Status:    status,
		Retryable: typ.RetryableType(),
		Provider:  provider,
	}
}

func isAbort(err error, message string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var named namedError
	if errors.As(err, &named) && named.Name() == "AbortError" {
		return true
	}
	return abortPattern.MatchString(message)
}

// extractStatus 依次尝试错误自身及其包装链上的状态码方法，最后回退到消息中的 4xx/5xx。
func extractStatus(err error, message string) int {
	if err == nil {
		return 0
	}
	if sc, ok := err.(statusCoder); ok && validStatus(sc.StatusCode()) {
		return sc.StatusCode()
	}
	if hs, ok := err.(httpStatuser); ok && validStatus(hs.HTTPStatus()) {
		return hs.HTTPStatus()
	}
	var sc statusCoder
	if errors.As(err, &sc) && validStatus(sc.StatusCode()) {
		return sc.StatusCode()
	}
	var hs httpStatuser
	if errors.As(err, &hs) && validStatus(hs.HTTPStatus()) {
		return hs.HTTPStatus()
	}
	if m := statusPattern.FindString(message); m != "" {
		n, _ := strconv.Atoi(m)
		return n
	}
	return 0
}

func validStatus(code int) bool {
	return code >= 100 && code <= 599
}

func defaultMessage(typ types.ErrorType, status int) string {
	var msg string
	switch typ {
	case types.ErrorTypeAuth:
		msg = "authentication failed, check the API key"
	case types.ErrorTypePermission:
		msg = "permission denied by the provider"
	case types.ErrorTypeRateLimit:
		msg = "rate limit exceeded, try again later"
	case types.ErrorTypeNetwork:
		msg = "network error while contacting the provider"
	case types.ErrorTypeServer:
		msg = "provider server error"
	default:
		msg = "invalid request"
	}
	if status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, status)
	}
	return msg
}
