package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFeedChunk_BasicFields(t *testing.T) {
	res := FeedChunk("", "event: message_start\nid: 42\nretry: 1500\ndata: {\"a\":1}\n\n")

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, "message_start", ev.Event)
	assert.Equal(t, "42", ev.ID)
	require.NotNil(t, ev.Retry)
	assert.Equal(t, 1500, *ev.Retry)
	assert.Equal(t, `{"a":1}`, ev.Data)
	assert.Equal(t, map[string]any{"a": float64(1)}, ev.JSON)
	assert.Empty(t, ev.ParseError)
	assert.False(t, ev.IsDone)
	assert.Empty(t, res.Rest)
	assert.False(t, res.Done)
}

func TestFeedChunk_Grammar(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantData []string
		wantRest string
	}{
		{
			name:     "multiple data lines joined with newline",
			input:    "data: line1\ndata: line2\n\n",
			wantData: []string{"line1\nline2"},
		},
		{
			name:     "only one leading space stripped",
			input:    "data:   padded\n\n",
			wantData: []string{"  padded"},
		},
		{
			name:     "no space after colon",
			input:    "data:tight\n\n",
			wantData: []string{"tight"},
		},
		{
			name:     "comment lines ignored",
			input:    ": keep-alive\ndata: x\n\n",
			wantData: []string{"x"},
		},
		{
			name:     "comment-only frame yields nothing",
			input:    ": ping\n\ndata: y\n\n",
			wantData: []string{"y"},
		},
		{
			name:     "unknown fields only yields nothing",
			input:    "foo: bar\n\ndata: z\n\n",
			wantData: []string{"z"},
		},
		{
			name:     "crlf normalized",
			input:    "data: a\r\n\r\ndata: b\r\n\r\n",
			wantData: []string{"a", "b"},
		},
		{
			name:     "bare cr normalized",
			input:    "data: a\r\rdata: b\r\r",
			wantData: []string{"a"},
			wantRest: "data: b\n\r",
		},
		{
			name:     "incomplete trailing frame kept as rest",
			input:    "data: done\n\ndata: partial",
			wantData: []string{"done"},
			wantRest: "data: partial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FeedChunk("", tt.input)
			got := make([]string, 0, len(res.Events))
			for _, ev := range res.Events {
				got = append(got, ev.Data)
			}
			assert.Equal(t, tt.wantData, got)
			assert.Equal(t, tt.wantRest, res.Rest)
		})
	}
}

func TestFeedChunk_InvalidRetryDropped(t *testing.T) {
	res := FeedChunk("", "retry: soon\n\nretry: soon\ndata: ok\n\n")

	require.Len(t, res.Events, 1)
	assert.Nil(t, res.Events[0].Retry)
	assert.Equal(t, "ok", res.Events[0].Data)
}

func TestFeedChunk_DoneStopsParsing(t *testing.T) {
	res := FeedChunk("", "data: hello\n\ndata: [DONE]\n\ndata: world\n\n")

	require.Len(t, res.Events, 2)
	assert.Equal(t, "hello", res.Events[0].Data)
	assert.False(t, res.Events[0].IsDone)
	assert.True(t, res.Events[1].IsDone)
	assert.True(t, res.Done)
	assert.Empty(t, res.Rest)
	for _, ev := range res.Events {
		assert.NotContains(t, ev.Data, "world")
	}
}

func TestFeedChunk_DoneWithWhitespace(t *testing.T) {
	res := FeedChunk("", "data:  [DONE]  \n\n")

	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].IsDone)
	assert.Nil(t, res.Events[0].JSON)
	assert.Empty(t, res.Events[0].ParseError)
}

func TestFeedChunk_JSONBestEffort(t *testing.T) {
	res := FeedChunk("", "data: {broken\n\ndata: [1,2]\n\ndata: plain text\n\n")

	require.Len(t, res.Events, 3)
	assert.Nil(t, res.Events[0].JSON)
	assert.NotEmpty(t, res.Events[0].ParseError)

	assert.Equal(t, []any{float64(1), float64(2)}, res.Events[1].JSON)
	assert.Empty(t, res.Events[1].ParseError)

	assert.Nil(t, res.Events[2].JSON)
	assert.Empty(t, res.Events[2].ParseError)
}

func TestFeedChunk_SplitCRLF(t *testing.T) {
	first := FeedChunk("", "data: a\r")
	assert.Empty(t, first.Events)

	second := FeedChunk(first.Rest, "\n\r\n")
	require.Len(t, second.Events, 1)
	assert.Equal(t, "a", second.Events[0].Data)
	assert.Empty(t, second.Rest)
}

// 以孤立 \r 结尾的完整帧延迟到下一片或 Flush 才产出
func TestFeedChunk_TrailingCRDeferred(t *testing.T) {
	first := FeedChunk("", "data: a\r\r")
	assert.Empty(t, first.Events)
	assert.Equal(t, "data: a\n\r", first.Rest)

	next := FeedChunk(first.Rest, "data: b\r\r")
	require.Len(t, next.Events, 1)
	assert.Equal(t, "a", next.Events[0].Data)
	assert.Equal(t, "data: b\n\r", next.Rest)

	crlf := FeedChunk(first.Rest, "\n")
	require.Len(t, crlf.Events, 1)
	assert.Equal(t, "a", crlf.Events[0].Data)
	assert.Empty(t, crlf.Rest)

	flushed := Flush(first.Rest)
	require.Len(t, flushed.Events, 1)
	assert.Equal(t, "a", flushed.Events[0].Data)
}

func TestFlush(t *testing.T) {
	res := Flush("data: tail")
	require.Len(t, res.Events, 1)
	assert.Equal(t, "tail", res.Events[0].Data)

	assert.Empty(t, Flush("  \n").Events)
}

// 任意位置切分完整帧序列，事件序列与一次性输入一致。
func TestProperty_ChunkBoundaryInvariance(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numFrames := rapid.IntRange(1, 6).Draw(rt, "numFrames")
		var sb strings.Builder
		for i := 0; i < numFrames; i++ {
			eol := rapid.SampledFrom([]string{"\n", "\r\n", "\r"}).Draw(rt, "eol")
			if rapid.Bool().Draw(rt, "hasEvent") {
				sb.WriteString("event: " + rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "event") + eol)
			}
			if rapid.Bool().Draw(rt, "hasComment") {
				sb.WriteString(": comment" + eol)
			}
			lines := rapid.IntRange(1, 3).Draw(rt, "lines")
			for j := 0; j < lines; j++ {
				value := rapid.StringMatching(`[a-z0-9 {}\[\]":,]{0,20}`).Draw(rt, "data")
				sb.WriteString("data: " + value + eol)
			}
			sb.WriteString(eol)
		}
		if rapid.Bool().Draw(rt, "withDone") {
			sb.WriteString("data: [DONE]\n\ndata: trailing\n\n")
		}
		text := sb.String()

		oneShot := FeedChunk("", text)

		split := rapid.IntRange(0, len(text)).Draw(rt, "split")
		first := FeedChunk("", text[:split])
		events := append([]Event{}, first.Events...)
		rest := first.Rest
		done := first.Done
		if !done {
			second := FeedChunk(first.Rest, text[split:])
			events = append(events, second.Events...)
			rest = second.Rest
			done = second.Done
		}

		if len(events) != len(oneShot.Events) {
			rt.Fatalf("event count mismatch: split=%d oneShot=%d", len(events), len(oneShot.Events))
		}
		for i := range events {
			if events[i].Data != oneShot.Events[i].Data || events[i].Event != oneShot.Events[i].Event ||
				events[i].IsDone != oneShot.Events[i].IsDone || events[i].Raw != oneShot.Events[i].Raw {
				rt.Fatalf("event %d mismatch: split=%+v oneShot=%+v", i, events[i], oneShot.Events[i])
			}
		}
		if done != oneShot.Done {
			rt.Fatalf("done mismatch: split=%v oneShot=%v", done, oneShot.Done)
		}
		if rest != oneShot.Rest {
			rt.Fatalf("rest mismatch: split=%q oneShot=%q", rest, oneShot.Rest)
		}
	})
}
