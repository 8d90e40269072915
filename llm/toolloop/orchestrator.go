package toolloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/tools"
	"github.com/BaSui01/mcpflow/types"
)

// DefaultMaxLoops 是单个请求默认的工具回合上限
const DefaultMaxLoops = 10

const tracerName = "github.com/BaSui01/mcpflow/llm/toolloop"

// fallbackNotice 在去掉工具重试时提示用户一次
const fallbackNotice = "The model provider rejected the tool-calling request; answering without tools."

// Request 是一次带工具的流式对话请求
type Request struct {
	Messages []types.Message
	Tools    []types.ToolDefinition
	Invoke   types.ToolInvoker

	Model       string
	MaxTokens   int
	Temperature float32

	// MaxLoops <= 0 时使用 DefaultMaxLoops
	MaxLoops int

	// OnNotice 接收一次性的用户提示；为空时记录为警告日志
	OnNotice func(notice string)
}

// Chunk 是输出流中的一项。Err 非空时为最后一项。
type Chunk struct {
	Text string
	Err  *types.Error
}

// Metrics 接收编排过程中的计数
type Metrics interface {
	RecordLoopIteration(provider string)
	RecordFallback(provider, reason string)
	RecordStream(provider, status string, duration time.Duration)
}

// 流结束状态
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusAborted  = "aborted"
	StatusFallback = "fallback"
)

// Options 编排器依赖
type Options struct {
	Logger  *zap.Logger
	Tracer  oteltrace.Tracer
	Metrics Metrics
}

// Orchestrator 驱动单个请求的工具调用循环：
// 流式文本 → 检测到工具调用 → 执行工具 → 下一回合，直到没有工具调用或达到上限。
//
// 每个请求使用独立实例的状态（历史、累加器、计数器），Orchestrator 本身可并发复用。
type Orchestrator struct {
	provider llm.Provider
	executor *tools.Executor
	logger   *zap.Logger
	tracer   oteltrace.Tracer
	metrics  Metrics
}

// NewOrchestrator 创建编排器；executor 为空时使用默认配置
func NewOrchestrator(provider llm.Provider, executor *tools.Executor, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = tools.NewExecutor(tools.ExecutorOptions{Logger: logger})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		provider: provider,
		executor: executor,
		logger:   logger.With(zap.String("component", "toolloop")),
		tracer:   tracer,
		metrics:  opts.Metrics,
	}
}

// Stream 启动请求并返回输出通道。通道在完成、出错或 ctx 取消后关闭；
// 取消时不会发送错误项。调用方需要读完通道或取消 ctx。
func (o *Orchestrator) Stream(ctx context.Context, req *Request) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		r := &run{o: o, req: req, out: out, start: time.Now()}
		r.execute(ctx)
	}()
	return out
}

// run 持有单个请求的可变状态
type run struct {
	o       *Orchestrator
	req     *Request
	out     chan<- Chunk
	start   time.Time
	emitted bool
}

func (r *run) execute(ctx context.Context) {
	ctx, span := r.o.tracer.Start(ctx, "toolloop.stream", oteltrace.WithAttributes(
		attribute.String("llm.provider", r.o.provider.Name()),
		attribute.Int("toolloop.tools", len(r.req.Tools)),
	))
	defer span.End()

	status, err := r.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		r.send(ctx, Chunk{Err: err})
	}
	span.SetAttributes(attribute.String("toolloop.status", status))
	if r.o.metrics != nil {
		r.o.metrics.RecordStream(r.o.provider.Name(), status, time.Since(r.start))
	}
}

func (r *run) loop(ctx context.Context) (string, *types.Error) {
	// 没有工具或没有执行回调时直接透传
	if len(r.req.Tools) == 0 || r.req.Invoke == nil {
		return r.finish(ctx, r.streamPlain(ctx, r.req.Messages))
	}

	maxLoops := r.req.MaxLoops
	if maxLoops <= 0 {
		maxLoops = DefaultMaxLoops
	}
	history := types.CloneMessages(r.req.Messages)

	for iter := 0; iter < maxLoops; iter++ {
		if ctx.Err() != nil {
			return StatusAborted, nil
		}
		if r.o.metrics != nil {
			r.o.metrics.RecordLoopIteration(r.o.provider.Name())
		}

		text, calls, err := r.turn(ctx, iter, r.chatRequest(history, true))
		if err != nil {
			if err.IsAbort || ctx.Err() != nil {
				return StatusAborted, nil
			}
			if reason := IncompatibilityReason(err); reason != "" && !r.emitted {
				return r.fallback(ctx, history, err, reason)
			}
			return StatusError, err
		}

		if len(calls) == 0 {
			if text == "" {
				r.o.logger.Warn("model returned neither text nor tool calls", zap.Int("iteration", iter))
			}
			return StatusSuccess, nil
		}

		history = append(history, types.NewAssistantMessage(text).WithToolCalls(calls))
		// 每个调用完成即输出其标记，再执行下一个
		for _, call := range calls {
			res := r.o.executor.ExecuteOne(ctx, call, r.req.Tools, r.req.Invoke)
			if ctx.Err() != nil {
				return StatusAborted, nil
			}
			if !r.emit(ctx, FormatMarker(res.Name, res.Content)) {
				return StatusAborted, nil
			}
			history = append(history, res.Message())
		}
	}

	r.o.logger.Info("tool loop limit reached, issuing final request without tools",
		zap.Int("max_loops", maxLoops))
	return r.finish(ctx, r.streamPlain(ctx, flattenToolTraffic(history)))
}

// fallback 去掉工具后整体重试一次
func (r *run) fallback(ctx context.Context, history []types.Message, cause *types.Error, reason string) (string, *types.Error) {
	r.o.logger.Warn("provider rejected tool-calling request, retrying without tools",
		zap.String("reason", reason),
		zap.Error(cause))
	if r.o.metrics != nil {
		r.o.metrics.RecordFallback(r.o.provider.Name(), reason)
	}
	if r.req.OnNotice != nil {
		r.req.OnNotice(fallbackNotice)
	} else {
		r.o.logger.Warn(fallbackNotice)
	}

	status, err := r.finish(ctx, r.streamPlain(ctx, flattenToolTraffic(history)))
	if status == StatusSuccess {
		status = StatusFallback
	}
	return status, err
}

func (r *run) finish(ctx context.Context, err *types.Error) (string, *types.Error) {
	switch {
	case err == nil:
		return StatusSuccess, nil
	case err.IsAbort || ctx.Err() != nil:
		return StatusAborted, nil
	}
	return StatusError, err
}

// streamPlain 发起一次不带工具的流式请求，直接转发文本
func (r *run) streamPlain(ctx context.Context, msgs []types.Message) *types.Error {
	_, _, err := r.turn(ctx, -1, r.chatRequest(msgs, false))
	return err
}

// turn 消费一次流式响应。文本在本回合未出现工具调用前立即输出；
// 工具调用增量按索引累积。
func (r *run) turn(ctx context.Context, iter int, creq *llm.ChatRequest) (string, []types.ToolCall, *types.Error) {
	ctx, span := r.o.tracer.Start(ctx, "toolloop.turn", oteltrace.WithAttributes(
		attribute.Int("toolloop.iteration", iter),
		attribute.Bool("toolloop.with_tools", len(creq.Tools) > 0),
	))
	defer span.End()

	ch, err := r.o.provider.Stream(ctx, creq)
	if err != nil {
		ne := llm.NormalizeError(err, "")
		if ctx.Err() != nil {
			ne = types.NewAbortError(ctx.Err())
		}
		span.SetStatus(codes.Error, ne.Message)
		return "", nil, ne
	}

	var (
		text strings.Builder
		acc  = newCallAccumulator()
	)
	for {
		select {
		case <-ctx.Done():
			return text.String(), nil, types.NewAbortError(ctx.Err())
		case c, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return text.String(), nil, types.NewAbortError(ctx.Err())
				}
				calls := acc.calls()
				span.SetAttributes(attribute.Int("toolloop.tool_calls", len(calls)))
				return text.String(), calls, nil
			}
			if c.Err != nil {
				span.SetStatus(codes.Error, c.Err.Message)
				return text.String(), nil, c.Err
			}
			for _, d := range c.ToolCalls {
				acc.add(d)
			}
			if c.Text == "" {
				continue
			}
			text.WriteString(c.Text)
			if acc.empty() {
				if !r.emit(ctx, c.Text) {
					return text.String(), nil, types.NewAbortError(ctx.Err())
				}
			}
		}
	}
}

func (r *run) chatRequest(msgs []types.Message, withTools bool) *llm.ChatRequest {
	creq := &llm.ChatRequest{
		Model:       r.req.Model,
		Messages:    msgs,
		MaxTokens:   r.req.MaxTokens,
		Temperature: r.req.Temperature,
	}
	if withTools {
		creq.Tools = r.req.Tools
		creq.ToolChoice = "auto"
	}
	return creq
}

func (r *run) emit(ctx context.Context, text string) bool {
	if !r.send(ctx, Chunk{Text: text}) {
		return false
	}
	r.emitted = true
	return true
}

func (r *run) send(ctx context.Context, c Chunk) bool {
	select {
	case <-ctx.Done():
		return false
	case r.out <- c:
		return true
	}
}

// flattenToolTraffic 把历史中的工具调用与结果改写为纯文本，
// 部分 Provider 在请求未声明工具时会拒绝 tool 块。
func flattenToolTraffic(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == types.RoleAssistant && len(m.ToolCalls) > 0:
			var sb strings.Builder
			sb.WriteString(m.Content)
			for _, c := range m.ToolCalls {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				fmt.Fprintf(&sb, "[Called tool %s with arguments %s]", c.Name, c.Arguments)
			}
			flat := types.NewAssistantMessage(sb.String())
			flat.Embeds = m.Embeds
			out = append(out, flat)
		case m.Role == types.RoleTool:
			name := m.Name
			if name == "" {
				name = m.ToolCallID
			}
			out = append(out, types.NewUserMessage(fmt.Sprintf("[Tool %s returned]\n%s", name, m.Content)))
		default:
			out = append(out, m)
		}
	}
	return out
}
