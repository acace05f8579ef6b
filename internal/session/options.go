package session

import (
	"time"

	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// NewSessionTarget asks Open to create a session instead of resuming one
const NewSessionTarget = "new"

const (
	defaultStreamTimeout   = 120 * time.Second
	defaultNoticeTTL       = 3 * time.Second
	defaultGreeting        = "Hello! How can I help you today?"
	defaultTimeoutText     = "Error: timed out waiting for a response."
	defaultStreamErrorText = "Error receiving the response."
	archiveTimeout         = 5 * time.Second
)

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	Clock           clockwork.Clock
	StreamTimeout   time.Duration
	NoticeTTL       time.Duration
	Greeting        string
	TimeoutText     string
	StreamErrorText string

	// Sections is the preferred selection. Empty selects every section
	// the catalog offers.
	Sections []string
	// Catalog is shared by every controller of a Manager
	Catalog  *SectionCatalog

	// Archive receives completed and failed turns. Optional.
	Archive domain.TranscriptRepository
	// Blobs caches read-aloud audio and exports. Optional.
	Blobs   domain.BlobCache
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// OptionsFromConfig maps the chat config section onto Options
func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		StreamTimeout:   cfg.StreamTimeout,
		NoticeTTL:       cfg.NoticeTTL,
		Sections:        cfg.DefaultSections,
		Greeting:        cfg.Greeting,
		TimeoutText:     cfg.TimeoutText,
		StreamErrorText: cfg.StreamErrorText,
	}
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = defaultStreamTimeout
	}
	if o.NoticeTTL <= 0 {
		o.NoticeTTL = defaultNoticeTTL
	}
	if o.Catalog == nil {
		o.Catalog = NewSectionCatalog()
	}
	if o.Greeting == "" {
		o.Greeting = defaultGreeting
	}
	if o.TimeoutText == "" {
		o.TimeoutText = defaultTimeoutText
	}
	if o.StreamErrorText == "" {
		o.StreamErrorText = defaultStreamErrorText
	}
	return o
}
