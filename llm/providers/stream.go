package providers

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/sse"
	"github.com/BaSui01/mcpflow/types"
)

// EventDecoder 将一个 SSE 事件解码为零或多个 StreamChunk。
// done 为 true 时流正常结束；返回错误时流以该错误结束。
// 解码器可以持有单个流内的状态，不能跨流复用。
type EventDecoder func(ev sse.Event) (chunks []llm.StreamChunk, done bool, err *types.Error)

// StreamSSE 在独立 goroutine 中读取 SSE 响应体并通过 decode 解码，返回 StreamChunk 通道。
// ctx 取消时通道直接关闭，不发送错误。
func StreamSSE(ctx context.Context, body io.ReadCloser, provider string, decode EventDecoder, logger *zap.Logger) <-chan llm.StreamChunk {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := make(chan llm.StreamChunk)

	go func() {
		defer SafeCloseBody(body)
		defer close(ch)

		send := func(c llm.StreamChunk) bool {
			if c.Provider == "" {
				c.Provider = provider
			}
			select {
			case <-ctx.Done():
				return false
			case ch <- c:
				return true
			}
		}

		var streamErr *types.Error
		err := sse.Read(ctx, body, func(ev sse.Event) error {
			if ev.IsDone {
				return sse.ErrStop
			}
			chunks, done, decErr := decode(ev)
			for _, c := range chunks {
				if !send(c) {
					return ctx.Err()
				}
			}
			if decErr != nil {
				streamErr = decErr
				return sse.ErrStop
			}
			if done {
				return sse.ErrStop
			}
			return nil
		})

		if ctx.Err() != nil {
			return
		}
		if streamErr == nil && err != nil {
			streamErr = TransportError(err, provider)
		}
		if streamErr != nil {
			if streamErr.Provider == "" {
				streamErr.Provider = provider
			}
			logger.Debug("stream ended with error",
				zap.String("provider", provider),
				zap.String("error_type", string(streamErr.Type)),
				zap.Error(streamErr),
			)
			send(llm.StreamChunk{Err: streamErr})
		}
	}()

	return ch
}
