package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/mcpflow/types"
)

const tracerName = "github.com/BaSui01/mcpflow/llm/tools"

// rawPreviewLimit 是解析失败时回显的原始参数长度上限（按字符计）
const rawPreviewLimit = 300

// 工具调用结果分类，用于日志与指标
const (
	OutcomeSuccess          = "success"
	OutcomeUnknownTool      = "unknown_tool"
	OutcomeInvalidArguments = "invalid_arguments"
	OutcomeValidationFailed = "validation_failed"
	OutcomeFailed           = "failed"
	OutcomeCancelled        = "cancelled"
)

// Result 是单个工具调用的执行结果，失败也以内容的形式返回给模型。
type Result struct {
	ToolCallID string
	Name       string
	Content    string
	IsError    bool
	Outcome    string
	Attempts   int
	Arguments  map[string]any
	Duration   time.Duration
}

// Message 转换为 tool 角色消息
func (r Result) Message() types.Message {
	msg := types.NewToolMessage(r.ToolCallID, r.Name, r.Content)
	if r.IsError {
		msg = msg.AsError()
	}
	return msg
}

// MetricsRecorder 接收每次工具调用的结果分类
type MetricsRecorder interface {
	RecordToolCall(tool, outcome string, attempts int, duration time.Duration)
}

// ExecutorOptions 执行器配置
type ExecutorOptions struct {
	// 单次调用超时，0 表示不限制
	Timeout time.Duration
	// 每个 MCP server 每秒允许的调用数，0 表示不限速
	RateLimit float64
	Burst     int

	Logger  *zap.Logger
	Tracer  oteltrace.Tracer
	Metrics MetricsRecorder
}

// Executor 顺序执行模型发起的工具调用，负责参数修复、校验与候选重试。
type Executor struct {
	opts   ExecutorOptions
	logger *zap.Logger
	tracer oteltrace.Tracer

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewExecutor 创建工具执行器
func NewExecutor(opts ExecutorOptions) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if opts.RateLimit > 0 && opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Executor{
		opts:     opts,
		logger:   logger.With(zap.String("component", "tool_executor")),
		tracer:   tracer,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Execute 按声明顺序执行全部调用，结果与 calls 一一对应。
func (e *Executor) Execute(ctx context.Context, calls []types.ToolCall, defs []types.ToolDefinition, invoke types.ToolInvoker) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.ExecuteOne(ctx, call, defs, invoke))
	}
	return results
}

// ExecuteOne 执行单个工具调用，从不返回 error。
func (e *Executor) ExecuteOne(ctx context.Context, call types.ToolCall, defs []types.ToolDefinition, invoke types.ToolInvoker) Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tool.call", oteltrace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	res := e.execute(ctx, call, defs, invoke)
	res.ToolCallID = call.ID
	res.Name = call.Name
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("tool.outcome", res.Outcome),
		attribute.Int("tool.attempts", res.Attempts),
	)
	if res.IsError {
		span.SetStatus(codes.Error, res.Outcome)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordToolCall(call.Name, res.Outcome, res.Attempts, res.Duration)
	}

	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.String("outcome", res.Outcome),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", res.Duration),
	}
	if res.IsError {
		e.logger.Warn("tool call failed", fields...)
	} else {
		e.logger.Debug("tool call completed", fields...)
	}
	return res
}

func (e *Executor) execute(ctx context.Context, call types.ToolCall, defs []types.ToolDefinition, invoke types.ToolInvoker) Result {
	def, ok := types.FindTool(defs, call.Name)
	if !ok || invoke == nil {
		return failure(OutcomeUnknownTool, unknownToolMessage(call.Name, defs))
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		return failure(OutcomeInvalidArguments, fmt.Sprintf(
			"Error: invalid JSON arguments for tool %q: %v. Raw arguments (first %d chars): %s",
			call.Name, err, rawPreviewLimit, preview(call.Arguments, rawPreviewLimit)))
	}

	schema := ParseSchema(def.InputSchema)
	candidates := BuildCandidates(call.Name, args, schema)
	normalized := candidates[0]

	if err := Validate(normalized, schema); err != nil {
		res := failure(OutcomeValidationFailed, fmt.Sprintf(
			"Error: arguments for tool %q failed validation: %v. Arguments: %s. Schema: %s",
			call.Name, err, canonical(normalized), schema.Summary()))
		res.Arguments = normalized
		return res
	}

	var (
		lastErr  error
		lastArgs map[string]any
		attempts int
	)
	for i, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		if err := e.wait(ctx, def.ServerID); err != nil {
			lastErr = err
			break
		}

		attempts++
		lastArgs = candidate
		out, err := e.invoke(ctx, invoke, def.ServerID, call.Name, candidate)
		if err == nil {
			return Result{Content: out, Outcome: OutcomeSuccess, Attempts: attempts, Arguments: candidate}
		}
		lastErr = err

		if !IsRecoverable(err) || i == len(candidates)-1 {
			break
		}
		e.logger.Debug("recoverable tool failure, trying next candidate",
			zap.String("tool", call.Name),
			zap.Int("candidate", i+1),
			zap.Error(err))
	}

	if ctx.Err() != nil {
		res := failure(OutcomeCancelled, fmt.Sprintf("Error: tool %q was cancelled", call.Name))
		res.Attempts = attempts
		return res
	}

	if lastArgs == nil {
		lastArgs = normalized
	}
	res := failure(OutcomeFailed, fmt.Sprintf(
		"Error: tool %q failed after %d attempt(s): %v. Last arguments: %s. Schema: %s",
		call.Name, attempts, lastErr, canonical(lastArgs), schema.Summary()))
	res.Attempts = attempts
	res.Arguments = lastArgs
	return res
}

func (e *Executor) invoke(ctx context.Context, invoke types.ToolInvoker, serverID, name string, args map[string]any) (string, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	return invoke(ctx, serverID, name, args)
}

// wait 按 server 限速
func (e *Executor) wait(ctx context.Context, serverID string) error {
	if e.opts.RateLimit <= 0 {
		return nil
	}
	e.mu.Lock()
	lim, ok := e.limiters[serverID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(e.opts.RateLimit), e.opts.Burst)
		e.limiters[serverID] = lim
	}
	e.mu.Unlock()
	return lim.Wait(ctx)
}

func failure(outcome, content string) Result {
	return Result{Content: content, IsError: true, Outcome: outcome}
}

// parseArguments 空参数视为 {}，非对象 JSON 视为错误
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", jsonTypeName(v))
	}
	return args, nil
}

func preview(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func unknownToolMessage(name string, defs []types.ToolDefinition) string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Sprintf("Error: tool %q is not available. No tools are configured.", name)
	}
	return fmt.Sprintf("Error: tool %q is not available. Available tools: %s.", name, strings.Join(names, ", "))
}
