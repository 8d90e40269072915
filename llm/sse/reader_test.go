package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ctx context.Context, r io.Reader) ([]Event, error) {
	t.Helper()
	var events []Event
	err := Read(ctx, r, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func TestRead_OneByteAtATime(t *testing.T) {
	input := "event: a\ndata: {\"x\":1}\n\n: comment\n\ndata: second\r\n\r\n"
	events, err := collect(t, context.Background(), iotest.OneByteReader(strings.NewReader(input)))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Event)
	assert.Equal(t, map[string]any{"x": float64(1)}, events[0].JSON)
	assert.Equal(t, "second", events[1].Data)
}

func TestRead_StopsAtDone(t *testing.T) {
	input := "data: 1\n\ndata: [DONE]\n\ndata: 2\n\n"
	events, err := collect(t, context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].IsDone)
}

func TestRead_FlushesUnterminatedFrame(t *testing.T) {
	events, err := collect(t, context.Background(), strings.NewReader("data: 1\n\ndata: tail"))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "tail", events[1].Data)
}

func TestRead_CallbackStop(t *testing.T) {
	calls := 0
	err := Read(context.Background(), strings.NewReader("data: 1\n\ndata: 2\n\n"), func(Event) error {
		calls++
		return ErrStop
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRead_CallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := Read(context.Background(), strings.NewReader("data: 1\n\n"), func(Event) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestRead_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := collect(t, ctx, strings.NewReader("data: 1\n\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, events)
}

func TestRead_ReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: 1\n\n"), iotest.ErrReader(boom))

	events, err := collect(t, context.Background(), r)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, events, 1)
}
