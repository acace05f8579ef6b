package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Content part types understood by the backend. File parts carry their
// MIME type as the part type.
const (
	PartText       = "text"
	PartImageURL   = "image_url"
	PartInputAudio = "input_audio"
)

// AudioFormat is the only audio encoding the backend accepts
const AudioFormat = "wav"

// ImageURL holds an embedded data URI
type ImageURL struct {
	URL string `json:"url"`
}

// InputAudio holds base64 encoded audio
type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// ContentPart is one element of a message's structured content
type ContentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	FileData   string      `json:"file_data,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

// StreamRequest is the body posted to the streaming endpoint
type StreamRequest struct {
	Content  []ContentPart `json:"content"`
	Sections []string      `json:"sections"`
}

// RawID renders a JSON id that may be a string or a number
func RawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}
