package sse

import (
	"context"
	"errors"
	"io"
)

const readBufferSize = 4096

// ErrStop 可由回调返回以提前结束读取，Read 将其视为正常结束。
var ErrStop = errors.New("sse: stop reading")

// Read 从 r 中持续读取并解析事件，对每个事件调用 fn。
//
// 遇到 [DONE]、EOF 或 fn 返回 ErrStop 时正常返回 nil；ctx 取消时返回 ctx.Err()。
// 流在未以空行结尾时结束，残留帧仍会被解析。
func Read(ctx context.Context, r io.Reader, fn func(Event) error) error {
	buf := make([]byte, readBufferSize)
	var pending string

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			res := FeedChunk(pending, string(buf[:n]))
			pending = res.Rest
			if stop, err := dispatch(ctx, res.Events, fn); stop || err != nil {
				return err
			}
			if res.Done {
				return nil
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return readErr
			}
			res := Flush(pending)
			_, err := dispatch(ctx, res.Events, fn)
			return err
		}
	}
}

func dispatch(ctx context.Context, events []Event, fn func(Event) error) (bool, error) {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, ErrStop) {
				return true, nil
			}
			return true, err
		}
	}
	return false, nil
}
