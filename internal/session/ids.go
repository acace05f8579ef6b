package session

import (
	"crypto/rand"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
)

// Prefixes of locally generated message ids. They are for readability
// only; nothing inspects them.
const (
	prefixUser     = "user"
	prefixBot      = "bot"
	prefixError    = "error"
	prefixGreeting = "greeting"
)

// idSource issues unique, time-ordered local ids
type idSource struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entropy *ulid.MonotonicEntropy
}

func newIDSource(clock clockwork.Clock) *idSource {
	return &idSource{
		clock:   clock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *idSource) next(prefix string) string {
	s.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(s.clock.Now()), s.entropy)
	s.mu.Unlock()
	if err != nil {
		id = ulid.Make()
	}
	return prefix + "-" + strings.ToLower(id.String())
}
