package player

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultGuardMaxAge bounds how long an unconsumed guard token survives. It
// is a leak backstop only; in the normal path the element event caused by a
// remote-applied mutation consumes the token well before it ages out.
const DefaultGuardMaxAge = 3 * time.Second

// mutationCategory groups element commands by the event they cause, so a
// remote-applied mutation only suppresses the one local side effect it
// produced.
type mutationCategory int

const (
	catTransport mutationCategory = iota // play / pause
	catPosition                          // seek
	catRate                              // speed change
	catMetadata                          // media load
)

type guardToken struct {
	id    uuid.UUID
	armed time.Time
}

// echoGuard correlates remote-applied mutations with the local element
// events they cause. Arm is called before commanding the element on behalf
// of the peer; the resulting event consumes the token instead of being
// re-broadcast, which is what prevents two windows from ping-ponging the
// same change forever.
type echoGuard struct {
	maxAge time.Duration

	mu      sync.Mutex
	pending map[mutationCategory][]guardToken
}

func newEchoGuard(maxAge time.Duration) *echoGuard {
	if maxAge <= 0 {
		maxAge = DefaultGuardMaxAge
	}
	return &echoGuard{
		maxAge:  maxAge,
		pending: make(map[mutationCategory][]guardToken),
	}
}

// arm registers an expected local side effect and returns its token id.
func (g *echoGuard) arm(cat mutationCategory) uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	tok := guardToken{id: uuid.New(), armed: time.Now()}
	g.pending[cat] = append(g.pending[cat], tok)
	return tok.id
}

// consume settles the oldest live token of the category. It reports whether
// a token was consumed, i.e. whether the triggering event was caused by a
// remote update and must not be re-broadcast.
func (g *echoGuard) consume(cat mutationCategory) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	tokens := g.pending[cat]
	cutoff := time.Now().Add(-g.maxAge)
	for len(tokens) > 0 && tokens[0].armed.Before(cutoff) {
		tokens = tokens[1:]
	}

	if len(tokens) == 0 {
		delete(g.pending, cat)
		return false
	}

	g.pending[cat] = tokens[1:]
	return true
}

// disarm drops the specific token, for mutations whose element command
// failed and will never produce the expected event.
func (g *echoGuard) disarm(cat mutationCategory, id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tokens := g.pending[cat]
	for i, tok := range tokens {
		if tok.id == id {
			g.pending[cat] = append(tokens[:i], tokens[i+1:]...)
			return
		}
	}
}
