package session

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/domain"
)

// convertHistory maps persisted messages to client messages. Everything
// loaded from the backend is final.
func convertHistory(history []domain.HistoryMessage) []domain.Message {
	messages := make([]domain.Message, 0, len(history))
	for _, h := range history {
		messages = append(messages, fromHistory(h))
	}
	return messages
}

func fromHistory(h domain.HistoryMessage) domain.Message {
	msg := domain.Message{
		ID:        domain.RawID(h.ID),
		Sender:    senderOf(h.SenderType),
		Category:  domain.CategoryTurn,
		IsFinal:   true,
		IsLiked:   h.IsLiked,
		ChartData: chartData(h.ChartData),
	}
	if msg.Sender == domain.SenderError {
		msg.Category = domain.CategoryError
		msg.IsLiked = nil
	}
	if h.CreatedAt != nil {
		msg.CreatedAt = *h.CreatedAt
	}

	if h.JSONContent == nil {
		if h.Content != nil {
			msg.Text = *h.Content
		}
		return msg
	}

	var lines []string
	for _, part := range h.JSONContent {
		switch part.Type {
		case domain.PartText:
			lines = append(lines, part.Text)
		case domain.PartImageURL:
			if part.ImageURL == nil {
				continue
			}
			mime, data, ok := attachment.ParseDataURI(part.ImageURL.URL)
			if !ok {
				continue
			}
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				Data:     data,
				MimeType: mime,
				Name:     nameOr(part.FileName, "image"),
			})
		case domain.PartInputAudio:
			if part.InputAudio != nil && part.InputAudio.Data != "" {
				msg.AudioData = part.InputAudio.Data
			}
		default:
			if part.FileData != "" {
				msg.Attachments = append(msg.Attachments, domain.Attachment{
					Data:     part.FileData,
					MimeType: part.Type,
					Name:     nameOr(part.FileName, "file"),
				})
			}
		}
	}
	msg.Text = strings.Join(lines, "\n")

	return msg
}

func senderOf(senderType string) domain.Sender {
	switch domain.Sender(senderType) {
	case domain.SenderUser:
		return domain.SenderUser
	case domain.SenderError:
		return domain.SenderError
	default:
		return domain.SenderBot
	}
}

func chartData(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return raw
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
