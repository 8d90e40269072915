package sse

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DoneSentinel 是流结束标记。
const DoneSentinel = "[DONE]"

const frameDelimiter = "\n\n"

// Event 是一个完整解析的 SSE 帧。
type Event struct {
	Event      string `json:"event,omitempty"`
	ID         string `json:"id,omitempty"`
	Retry      *int   `json:"retry,omitempty"`
	Data       string `json:"data"`
	Raw        string `json:"raw"`
	IsDone     bool   `json:"is_done"`
	JSON       any    `json:"json,omitempty"`
	ParseError string `json:"parse_error,omitempty"`
}

// FeedResult 是一次 FeedChunk 调用的结果。
type FeedResult struct {
	Events []Event
	Rest   string
	Done   bool
}

// FeedChunk 将 buffer 与新分片合并，返回其中已完整的事件及剩余文本。
func FeedChunk(buffer, chunk string) FeedResult {
	text := buffer + chunk

	// 末尾孤立的 \r 可能是被切开的 \r\n，留到下一片再归一化。
	// 代价是仅用 \r 结尾的完整帧（如 "data: a\r\r"）要等到下一片或 Flush 才产出，
	// 否则同一字节流按不同位置切片会得到不同的事件序列。
	var held string
	if strings.HasSuffix(text, "\r") {
		held = "\r"
		text = text[:len(text)-1]
	}
	text = normalizeNewlines(text)

	parts := strings.Split(text, frameDelimiter)
	frames, rest := parts[:len(parts)-1], parts[len(parts)-1]

	result := FeedResult{}
	for _, frame := range frames {
		ev, ok := parseFrame(frame)
		if !ok {
			continue
		}
		result.Events = append(result.Events, ev)
		if ev.IsDone {
			result.Done = true
			return result
		}
	}
	result.Rest = rest + held
	return result
}

// Flush 解析流结束时残留的未终止帧。
func Flush(buffer string) FeedResult {
	if strings.TrimSpace(buffer) == "" {
		return FeedResult{}
	}
	return FeedChunk(buffer, frameDelimiter)
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// parseFrame 按 SSE 字段语法解析单帧；没有任何可识别字段时返回 false。
func parseFrame(frame string) (Event, bool) {
	ev := Event{Raw: frame}
	var (
		dataLines  []string
		recognized bool
	)

	for _, line := range strings.Split(frame, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}

		switch field {
		case "event":
			ev.Event = value
			recognized = true
		case "data":
			dataLines = append(dataLines, value)
			recognized = true
		case "id":
			ev.ID = value
			recognized = true
		case "retry":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				ev.Retry = &n
				recognized = true
			}
		}
	}

	if !recognized {
		return Event{}, false
	}

	ev.Data = strings.Join(dataLines, "\n")
	trimmed := strings.TrimSpace(ev.Data)
	if trimmed == DoneSentinel {
		ev.IsDone = true
		return ev, true
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			ev.ParseError = err.Error()
		} else {
			ev.JSON = v
		}
	}
	return ev, true
}
