package writecache

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// DefaultPath is used when no DSN is configured.
const DefaultPath = "./lastState.json"

// Factory builds a Backend from a DSN.
type Factory func(dsn string) (Backend, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

// Register makes a backend available under scheme. Registered factories take
// precedence over the built-in ones.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookup(scheme string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[normalizeScheme(scheme)]
	return f, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// NewBackend builds a Backend from dsn. A bare path or file:// selects the
// JSON file backend; sqlite://, postgres://, redis:// and memory:// select the
// others.
func NewBackend(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewFileBackend(DefaultPath), nil
	}

	scheme := ""
	if i := strings.Index(dsn, "://"); i > 0 {
		scheme = normalizeScheme(dsn[:i])
	} else if u, err := url.Parse(dsn); err == nil && u.Scheme == "memory" {
		scheme = "memory"
	}

	if factory, ok := lookup(scheme); ok {
		return factory(dsn)
	}

	switch scheme {
	case "", "file":
		path := dsnPath(dsn)
		if path == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDSN, dsn)
		}
		return NewFileBackend(path), nil
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "sqlite", "sqlite3":
		path := dsnPath(dsn)
		if path == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDSN, dsn)
		}
		return NewSQLiteBackend(path)
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	case "redis", "rediss":
		return NewRedisBackend(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
}

// dsnPath strips a scheme:// prefix, keeping relative paths relative.
func dsnPath(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		dsn = dsn[i+3:]
	}
	return strings.TrimSpace(dsn)
}
