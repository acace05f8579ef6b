// Package attachment encodes user files for the streaming endpoint and
// enforces the chatbot's upload policy.
package attachment

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

const (
	audioMIME     = "audio/wav"
	defaultMIME   = "application/octet-stream"
	dataURIPrefix = "data:"
)

// Policy limits what may be attached to a message
type Policy struct {
	MaxBytes     int64
	Allowed      []string
	FilesEnabled bool
}

// NewPolicy builds a policy from config. File uploads stay disabled until
// the chatbot info grants them.
func NewPolicy(cfg config.AttachmentsConfig) Policy {
	return Policy{
		MaxBytes: cfg.MaxBytes,
		Allowed:  cfg.Allowed,
	}
}

// WithInfo applies the chatbot's file permission
func (p Policy) WithInfo(info *domain.ChatbotInfo) Policy {
	if info != nil {
		p.FilesEnabled = info.FilePermission
	}
	return p
}

// Check validates one file attachment
func (p Policy) Check(a domain.Attachment) error {
	if !p.FilesEnabled {
		return &domain.ValidationError{Reason: "file attachments are not enabled for this chatbot"}
	}
	if p.MaxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(a.Data))) > p.MaxBytes+2 {
		return &domain.ValidationError{Reason: fmt.Sprintf("%s exceeds the %d byte limit", a.Name, p.MaxBytes)}
	}
	if !p.allows(a.MimeType) {
		return &domain.ValidationError{Reason: fmt.Sprintf("%s: file type %s is not supported", a.Name, a.MimeType)}
	}
	return nil
}

// CheckAll validates every attachment in order
func (p Policy) CheckAll(atts []domain.Attachment) error {
	for _, a := range atts {
		if err := p.Check(a); err != nil {
			return err
		}
	}
	return nil
}

func (p Policy) allows(mime string) bool {
	if len(p.Allowed) == 0 {
		return true
	}
	for _, pattern := range p.Allowed {
		if pattern == mime {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok && strings.HasPrefix(mime, prefix+"/") {
			return true
		}
	}
	return false
}

// FromBytes encodes raw file content, detecting the MIME type from it
func FromBytes(name string, data []byte) domain.Attachment {
	return domain.Attachment{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: detect(data),
		Name:     name,
	}
}

// FromFile reads and encodes a file from disk
func FromFile(path string) (domain.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return FromBytes(filepath.Base(path), data), nil
}

// FromBase64 wraps already encoded content. An empty mime type is
// detected from the decoded bytes.
func FromBase64(name, mime, data string) (domain.Attachment, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return domain.Attachment{}, &domain.ValidationError{Reason: fmt.Sprintf("%s: data is not valid base64", name)}
	}
	if mime == "" {
		mime = detect(raw)
	}
	return domain.Attachment{Data: data, MimeType: mime, Name: name}, nil
}

// IsAudio reports whether the attachment is a voice recording, which is
// sent as input audio rather than as a file
func IsAudio(a domain.Attachment) bool {
	switch a.MimeType {
	case audioMIME, "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}

// DataURI renders the attachment as a base64 data URI
func DataURI(a domain.Attachment) string {
	return dataURIPrefix + a.MimeType + ";base64," + a.Data
}

// ParseDataURI splits a base64 data URI into its MIME type and payload
func ParseDataURI(uri string) (mime, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, dataURIPrefix)
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime, found = strings.CutSuffix(meta, ";base64")
	if !found {
		return "", "", false
	}
	return mime, data, true
}

// BuildContent assembles the structured content of a user turn. The text
// part always comes first, then files in order, then the audio clip.
func BuildContent(text string, atts []domain.Attachment, audio string) []domain.ContentPart {
	parts := make([]domain.ContentPart, 0, 1+len(atts)+1)
	parts = append(parts, domain.ContentPart{Type: domain.PartText, Text: text})

	for _, a := range atts {
		if strings.HasPrefix(a.MimeType, "image/") {
			parts = append(parts, domain.ContentPart{
				Type:     domain.PartImageURL,
				FileName: a.Name,
				ImageURL: &domain.ImageURL{URL: DataURI(a)},
			})
			continue
		}
		parts = append(parts, domain.ContentPart{
			Type:     a.MimeType,
			FileName: a.Name,
			FileData: a.Data,
		})
	}

	if audio != "" {
		parts = append(parts, domain.ContentPart{
			Type:       domain.PartInputAudio,
			InputAudio: &domain.InputAudio{Data: audio, Format: domain.AudioFormat},
		})
	}
	return parts
}

// DisplayText is the text shown for a user turn. Empty input is replaced
// by a summary of what was sent.
func DisplayText(text string, atts []domain.Attachment, audio string) string {
	if text != "" {
		return text
	}
	if len(atts) > 0 {
		names := make([]string, len(atts))
		for i, a := range atts {
			names[i] = a.Name
			if names[i] == "" {
				names[i] = "file"
			}
		}
		return "Sent files: " + strings.Join(names, ", ")
	}
	if audio != "" {
		return "Voice message"
	}
	return ""
}

func detect(data []byte) string {
	mime := mimetype.Detect(data).String()
	if base, _, found := strings.Cut(mime, ";"); found {
		mime = strings.TrimSpace(base)
	}
	if mime == "" {
		return defaultMIME
	}
	return mime
}

// Gate holds the policy currently in force. The file permission changes
// whenever the chatbot info is fetched again.
type Gate struct {
	mu     sync.RWMutex
	policy Policy
}

// NewGate starts from p
func NewGate(p Policy) *Gate {
	return &Gate{policy: p}
}

// Policy returns the current policy
func (g *Gate) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Apply updates the policy from chatbot info
func (g *Gate) Apply(info *domain.ChatbotInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = g.policy.WithInfo(info)
}
