package engine

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Session scopes per-run diagnostic state. The worker creates one at start
// and passes it to every pass; the CLI creates one per invocation.
type Session struct {
	ID                       string
	StartedAt                time.Time
	HasLoggedInitialSnapshot bool
}

// NewSession returns a session with a fresh ULID.
func NewSession() *Session {
	return &Session{
		ID:        ulid.Make().String(),
		StartedAt: time.Now().UTC(),
	}
}
