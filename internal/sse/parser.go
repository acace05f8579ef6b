// Package sse decodes the chat backend's incremental event stream.
//
// The wire format is a sequence of frames separated by a blank line, each
// frame being the marker "data: " followed by a JSON object:
//
//	data: {"type":"text","content":"Hi"}\n\n
//	data: {"type":"llm_message_id","id":"m-123"}\n\n
//
// Chunks handed to the parser may split a frame anywhere. Malformed frames
// are logged and skipped; they never end the stream.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/rs/zerolog"
)

const (
	frameDelimiter = "\n\n"
	dataMarker     = "data: "
)

// Parser turns chunks of stream text into events. It is not safe for
// concurrent use; one parser belongs to one stream.
type Parser struct {
	buf          strings.Builder
	log          zerolog.Logger
	onParseError func(error)
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the logger used for discarded frames
func WithLogger(log zerolog.Logger) Option {
	return func(p *Parser) { p.log = log }
}

// WithParseErrorHandler registers a callback for non-fatal frame failures
func WithParseErrorHandler(fn func(error)) Option {
	return func(p *Parser) { p.onParseError = fn }
}

// NewParser creates a parser with an empty buffer
func NewParser(opts ...Option) *Parser {
	p := &Parser{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed appends chunk to the buffer and returns every event completed by it
func (p *Parser) Feed(chunk string) []Event {
	p.buf.WriteString(chunk)

	pending := p.buf.String()
	var events []Event
	for {
		idx := strings.Index(pending, frameDelimiter)
		if idx < 0 {
			break
		}
		frame := pending[:idx]
		pending = pending[idx+len(frameDelimiter):]

		if ev, ok := p.parseFrame(frame); ok {
			events = append(events, ev)
		}
	}

	p.buf.Reset()
	p.buf.WriteString(pending)
	return events
}

// End marks the stream as finished. Unterminated trailing content is
// never treated as a frame.
func (p *Parser) End() {
	if rest := strings.TrimSpace(p.buf.String()); rest != "" {
		p.log.Debug().Int("bytes", len(rest)).Msg("Discarding unterminated trailing frame")
	}
	p.buf.Reset()
}

// Buffered returns the number of bytes held for an incomplete frame
func (p *Parser) Buffered() int {
	return p.buf.Len()
}

type rawFrame struct {
	Type    string          `json:"type"`
	Content *string         `json:"content"`
	ID      json.RawMessage `json:"id"`
	Data    json.RawMessage `json:"data"`
}

func (p *Parser) parseFrame(frame string) (Event, bool) {
	if !strings.HasPrefix(frame, dataMarker) {
		if strings.TrimSpace(frame) != "" {
			p.log.Warn().Str("frame", frame).Msg("Received stream frame without data marker")
		}
		return nil, false
	}

	payload := frame[len(dataMarker):]

	var raw rawFrame
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		perr := &domain.StreamParseError{Frame: payload, Err: err}
		p.log.Warn().Err(err).Str("payload", payload).Msg("Failed to parse stream frame")
		if p.onParseError != nil {
			p.onParseError(perr)
		}
		return nil, false
	}

	switch raw.Type {
	case TypeText:
		if raw.Content != nil {
			return TextEvent{Content: *raw.Content}, true
		}
	case TypeMessageID:
		if id := domain.RawID(raw.ID); id != "" {
			return RealIDEvent{ID: id}, true
		}
	case TypeChartData:
		if hasValue(raw.Data) {
			return ChartDataEvent{Payload: raw.Data, SuggestedText: suggestedText(raw.Data)}, true
		}
	case TypeError:
		if raw.Content != nil && *raw.Content != "" {
			return ErrorEvent{Message: *raw.Content}, true
		}
	}

	p.log.Debug().Str("type", raw.Type).Msg("Unhandled stream event type")
	return UnknownEvent{Raw: payload}, true
}

func hasValue(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func suggestedText(data json.RawMessage) string {
	var chart struct {
		SuggestedTextResponse string `json:"suggested_text_response"`
	}
	if err := json.Unmarshal(data, &chart); err != nil {
		return ""
	}
	return chart.SuggestedTextResponse
}
