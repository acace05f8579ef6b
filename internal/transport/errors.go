package transport

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/Rrens/chatstream/internal/domain"
)

// readTransportError reads the error body. The caller closes it.
func readTransportError(resp *http.Response) *domain.TransportError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.TransportError{
		Status: resp.StatusCode,
		Body:   string(body),
		Detail: errorDetail(body),
	}
}

// errorDetail extracts the backend's message from {"error": ...} or the
// framework's {"detail": ...}
func errorDetail(body []byte) string {
	var payload struct {
		Error  any `json:"error"`
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, v := range []any{payload.Error, payload.Detail} {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}
