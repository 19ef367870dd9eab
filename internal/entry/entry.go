package entry

import (
	"sync"

	"github.com/socialsapp/socials-service/internal/session"
)

// RouteState is the entry routing decision.
type RouteState int

const (
	// Initializing holds until the session provider delivers its first
	// state, so the wrong flow is never shown before then.
	Initializing RouteState = iota
	Unauthenticated
	Authenticated
)

func (s RouteState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "initializing"
	}
}

// Router chooses between the unauthenticated and authenticated flows. It
// leaves Initializing on the first session delivery even when that delivery
// is "no session", and re-evaluates on every subsequent change.
type Router struct {
	mu          sync.Mutex
	state       RouteState
	identity    string
	unsubscribe func()
}

func NewRouter(p *session.Provider) *Router {
	r := &Router{state: Initializing}
	r.unsubscribe = p.OnSessionChange(func(s *session.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if s == nil {
			r.state = Unauthenticated
			r.identity = ""
			return
		}
		r.state = Authenticated
		r.identity = s.UserID
	})
	return r
}

// State returns the current routing decision.
func (r *Router) State() RouteState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Identity returns the routed identity when authenticated.
func (r *Router) Identity() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity, r.state == Authenticated
}

// Close releases the session subscription.
func (r *Router) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
