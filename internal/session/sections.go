package session

import (
	"slices"
	"sync"
)

// SectionCatalog holds the knowledge sections the chatbot offers, as
// reported by /info. Controllers sharing a catalog resolve their
// selections against it.
type SectionCatalog struct {
	mu        sync.RWMutex
	available []string
}

// NewSectionCatalog creates a catalog with no known sections
func NewSectionCatalog() *SectionCatalog {
	return &SectionCatalog{}
}

// SetAvailable replaces the offered sections
func (c *SectionCatalog) SetAvailable(sections []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = slices.Clone(sections)
}

// Available returns the offered sections
func (c *SectionCatalog) Available() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.available)
}

// Resolve returns the sections to send for a selection. Without a
// selection every offered section is used. A selection keeps only the
// sections still offered. While nothing is known the selection is sent
// as is.
func (c *SectionCatalog) Resolve(selected []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.available) == 0 {
		return append([]string{}, selected...)
	}
	if len(selected) == 0 {
		return slices.Clone(c.available)
	}

	out := make([]string, 0, len(selected))
	for _, s := range selected {
		if slices.Contains(c.available, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
