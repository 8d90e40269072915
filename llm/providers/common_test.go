package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/llm/sse"
	"github.com/BaSui01/mcpflow/types"
)

var llmRequest = llm.ChatRequest{Messages: []types.Message{types.NewUserMessage("hi")}}

func TestReadErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai shape", `{"error":{"message":"Invalid key","type":"invalid_request_error"}}`, "Invalid key (type: invalid_request_error)"},
		{"message only", `{"error":{"message":"quota"}}`, "quota"},
		{"top-level message", `{"message":"upstream timeout"}`, "upstream timeout"},
		{"string error", `{"error":"forbidden"}`, "forbidden"},
		{"detail", `{"detail":"Not Found"}`, "Not Found"},
		{"plain text", "  Bad Gateway\n", "Bad Gateway"},
		{"unknown json", `{"foo":1}`, `{"foo":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReadErrorMessage(strings.NewReader(tt.body)))
		})
	}
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "fail") {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	headers := http.Header{"X-Test": []string{"v"}}

	resp, err := PostJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"a": "b"}, headers, "p")
	require.NoError(t, err)
	SafeCloseBody(resp.Body)

	_, err = PostJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"a": "fail"}, headers, "p")
	ne, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeServer, ne.Type)
	assert.Equal(t, 503, ne.Status)
	assert.Equal(t, "overloaded", ne.Message)
	assert.Equal(t, "p", ne.Provider)

	_, err = PostJSON(context.Background(), srv.Client(), srv.URL, func() {}, headers, "p")
	assert.Equal(t, types.ErrorTypeInvalidRequest, types.GetErrorType(err))
}

func TestPostJSON_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := PostJSON(context.Background(), http.DefaultClient, url, map[string]any{}, nil, "p")
	ne, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeNetwork, ne.Type)
	assert.True(t, ne.Retryable)
}

func echoDecoder(ev sse.Event) ([]llm.StreamChunk, bool, *types.Error) {
	switch ev.Event {
	case "stop":
		return nil, true, nil
	case "fail":
		return nil, false, types.NewError(types.ErrorTypeServer, ev.Data)
	}
	return []llm.StreamChunk{{Text: ev.Data}}, false, nil
}

func TestStreamSSE(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: a\n\ndata: b\n\nevent: stop\ndata: x\n\ndata: c\n\n"))
	var got []string
	for c := range StreamSSE(context.Background(), body, "p", echoDecoder, nil) {
		assert.Equal(t, "p", c.Provider)
		got = append(got, c.Text)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestStreamSSE_DecoderError(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: a\n\nevent: fail\ndata: boom\n\n"))
	var chunks []llm.StreamChunk
	for c := range StreamSSE(context.Background(), body, "p", echoDecoder, nil) {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	require.NotNil(t, chunks[1].Err)
	assert.Equal(t, "boom", chunks[1].Err.Message)
	assert.Equal(t, "p", chunks[1].Err.Provider)
}

func TestStreamSSE_CancelClosesQuietly(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ch := StreamSSE(ctx, pr, "p", echoDecoder, nil)

	go func() {
		_, _ = pw.Write([]byte("data: first\n\n"))
	}()
	first := <-ch
	assert.Equal(t, "first", first.Text)

	cancel()
	_ = pw.CloseWithError(context.Canceled)

	select {
	case c, ok := <-ch:
		if ok {
			assert.Nil(t, c.Err, "cancellation must not surface an error chunk")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestParseArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, ParseArguments(""))
	assert.Equal(t, map[string]any{}, ParseArguments("[1]"))
	assert.Equal(t, map[string]any{}, ParseArguments("{broken"))
	assert.Equal(t, map[string]any{"a": "b"}, ParseArguments(`{"a":"b"}`))
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,AQI=", DataURL(types.Attachment{MimeType: "image/png", Data: []byte{1, 2}}))
	assert.Equal(t, "https://x/y.png", DataURL(types.Attachment{URL: "https://x/y.png"}))
}
