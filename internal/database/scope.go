package database

import (
	"context"
	"sync"
)

type scopeKeyType struct{}

var scopeKey scopeKeyType

// scope holds the per-unit-of-work session slots, one per Manager. It is
// attached to the context of a unit of work (one HTTP request) so that
// concurrent units of work never share a session.
type scope struct {
	mu       sync.Mutex
	sessions map[*Manager]*session
}

// WithScope attaches a fresh session scope to ctx. Sessions are created
// lazily on first use; the caller must pair this with CloseScope on every
// exit path.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey, &scope{sessions: make(map[*Manager]*session)})
}

// CloseScope closes every session opened within the scope attached to ctx.
// Safe to call when no scope or no session exists.
func CloseScope(ctx context.Context) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for m, sess := range sc.sessions {
		sess.close()
		delete(sc.sessions, m)
	}
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey).(*scope)
	return sc
}
