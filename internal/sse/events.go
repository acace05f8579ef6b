package sse

import "encoding/json"

// Event type tags sent by the backend
const (
	TypeText      = "text"
	TypeMessageID = "llm_message_id"
	TypeChartData = "chart_data"
	TypeError     = "error"
)

// Event is one decoded stream frame. The set of implementations is closed:
// TextEvent, RealIDEvent, ChartDataEvent, ErrorEvent and UnknownEvent.
type Event interface {
	// Type returns the wire type tag
	Type() string
	sealed()
}

// TextEvent carries a chunk of response text
type TextEvent struct {
	Content string
}

// RealIDEvent carries the server-issued id of the message being streamed
type RealIDEvent struct {
	ID string
}

// ChartDataEvent carries a chart payload that is opaque to the client
type ChartDataEvent struct {
	Payload json.RawMessage
	// SuggestedText is the payload's suggested_text_response, if any
	SuggestedText string
}

// ErrorEvent is an explicit error reported by the backend mid-stream
type ErrorEvent struct {
	Message string
}

// UnknownEvent is a well-formed frame of a type this client does not handle
type UnknownEvent struct {
	Raw string
}

func (TextEvent) Type() string      { return TypeText }
func (RealIDEvent) Type() string    { return TypeMessageID }
func (ChartDataEvent) Type() string { return TypeChartData }
func (ErrorEvent) Type() string     { return TypeError }
func (UnknownEvent) Type() string   { return "unknown" }

func (TextEvent) sealed()      {}
func (RealIDEvent) sealed()    {}
func (ChartDataEvent) sealed() {}
func (ErrorEvent) sealed()     {}
func (UnknownEvent) sealed()   {}
