package sse_test

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Rrens/chatstream/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *sse.Stream) ([]sse.Event, error) {
	t.Helper()
	var events []sse.Event
	for {
		ev, err := s.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestStream_OneByteReads(t *testing.T) {
	body := `data: {"type":"text","content":"héllo 👋"}` + "\n\n" +
		`data: {"type":"llm_message_id","id":"m-1"}` + "\n\n"

	events, err := collect(t, sse.NewStream(iotest.OneByteReader(strings.NewReader(body))))
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, sse.TextEvent{Content: "héllo 👋"}, events[0])
	assert.Equal(t, sse.RealIDEvent{ID: "m-1"}, events[1])
}

func TestStream_TrailingPartialFrameIsDropped(t *testing.T) {
	body := `data: {"type":"text","content":"a"}` + "\n\n" + `data: {"type":"text","content":"b"}`

	events, err := collect(t, sse.NewStream(strings.NewReader(body)))
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, sse.TextEvent{Content: "a"}, events[0])
}

func TestStream_ReadErrorSurfaces(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader(`data: {"type":"text","content":"a"}`+"\n\n"),
		iotest.ErrReader(boom),
	)

	s := sse.NewStream(r)
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, sse.TextEvent{Content: "a"}, ev)

	_, err = s.Next()
	assert.ErrorIs(t, err, boom)

	_, err = s.Next()
	assert.ErrorIs(t, err, boom)
}
