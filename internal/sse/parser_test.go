package sse

import (
	"encoding/json"
	"testing"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_FrameSplitAcrossChunks(t *testing.T) {
	p := NewParser()

	events := p.Feed(`data: {"type":"te`)
	assert.Empty(t, events)
	assert.Positive(t, p.Buffered())

	events = p.Feed(`xt","content":"hi"}` + "\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, TextEvent{Content: "hi"}, events[0])
	assert.Zero(t, p.Buffered())
}

func TestParser_DelimiterSplitAcrossChunks(t *testing.T) {
	p := NewParser()

	assert.Empty(t, p.Feed(`data: {"type":"text","content":"a"}`+"\n"))
	events := p.Feed("\n")
	require.Len(t, events, 1)
	assert.Equal(t, TextEvent{Content: "a"}, events[0])
}

func TestParser_MultipleFramesPerChunk(t *testing.T) {
	p := NewParser()

	chunk := `data: {"type":"text","content":"Hi"}` + "\n\n" +
		`data: {"type":"text","content":" there"}` + "\n\n" +
		`data: {"type":"llm_message_id","id":"m-123"}` + "\n\n"

	events := p.Feed(chunk)
	require.Len(t, events, 3)
	assert.Equal(t, TextEvent{Content: "Hi"}, events[0])
	assert.Equal(t, TextEvent{Content: " there"}, events[1])
	assert.Equal(t, RealIDEvent{ID: "m-123"}, events[2])
}

func TestParser_EventTypes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "numeric message id",
			frame: `data: {"type":"llm_message_id","id":42}`,
			want:  RealIDEvent{ID: "42"},
		},
		{
			name:  "error frame",
			frame: `data: {"type":"error","content":"quota exceeded"}`,
			want:  ErrorEvent{Message: "quota exceeded"},
		},
		{
			name:  "empty text is still text",
			frame: `data: {"type":"text","content":""}`,
			want:  TextEvent{Content: ""},
		},
		{
			name:  "unknown type",
			frame: `data: {"type":"usage","tokens":12}`,
			want:  UnknownEvent{Raw: `{"type":"usage","tokens":12}`},
		},
		{
			name:  "message id without id",
			frame: `data: {"type":"llm_message_id"}`,
			want:  UnknownEvent{Raw: `{"type":"llm_message_id"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := NewParser().Feed(tt.frame + "\n\n")
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0])
		})
	}
}

func TestParser_ChartData(t *testing.T) {
	frame := `data: {"type":"chart_data","data":{"kind":"bar","suggested_text_response":"Sales rose."}}` + "\n\n"

	events := NewParser().Feed(frame)
	require.Len(t, events, 1)

	chart, ok := events[0].(ChartDataEvent)
	require.True(t, ok)
	assert.Equal(t, "Sales rose.", chart.SuggestedText)
	assert.JSONEq(t, `{"kind":"bar","suggested_text_response":"Sales rose."}`, string(chart.Payload))
}

func TestParser_DiscardsFramesWithoutMarker(t *testing.T) {
	p := NewParser()

	events := p.Feed(": keep-alive\n\n" + `{"type":"text","content":"x"}` + "\n\n" + "\n\n")
	assert.Empty(t, events)
}

func TestParser_MalformedJSONIsNotFatal(t *testing.T) {
	var parseErrs []error
	p := NewParser(WithParseErrorHandler(func(err error) { parseErrs = append(parseErrs, err) }))

	events := p.Feed("data: {not json}\n\n" + `data: {"type":"text","content":"ok"}` + "\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, TextEvent{Content: "ok"}, events[0])

	require.Len(t, parseErrs, 1)
	var perr *domain.StreamParseError
	require.ErrorAs(t, parseErrs[0], &perr)
	assert.Equal(t, "{not json}", perr.Frame)
	var syntax *json.SyntaxError
	assert.ErrorAs(t, parseErrs[0], &syntax)
}

func TestParser_EndDiscardsTrailingContent(t *testing.T) {
	p := NewParser()

	events := p.Feed(`data: {"type":"text","content":"complete"}` + "\n\n" + `data: {"type":"text","content":"partial"}`)
	require.Len(t, events, 1)

	p.End()
	assert.Zero(t, p.Buffered())
	assert.Empty(t, p.Feed("\n\n"))
}
