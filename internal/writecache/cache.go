// Package writecache remembers the last value boardsync wrote to each row.
//
// The engine consults the cache before every write and skips rows whose
// computed value equals what it last wrote. Since every board write comes
// back as a new webhook notification, this is what stops the service from
// feeding on its own writes.
//
// The full state is loaded into memory when the cache is opened and the
// whole document is rewritten through the backend after every update.
package writecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StateVersion is the current persisted document version.
const StateVersion = 1

// Entry is the last value written to one row.
type Entry struct {
	LastValue string    `json:"lastValue"`
	WrittenAt time.Time `json:"writtenAt"`
}

// State is the persisted document: row id to last written entry.
type State struct {
	Version int              `json:"version"`
	Items   map[string]Entry `json:"items"`
}

func newState() *State {
	return &State{Version: StateVersion, Items: map[string]Entry{}}
}

func (s *State) clone() *State {
	out := &State{Version: s.Version, Items: make(map[string]Entry, len(s.Items))}
	for k, v := range s.Items {
		out.Items[k] = v
	}
	return out
}

// Backend persists the whole State. Load returns (nil, nil) when nothing has
// been stored yet.
type Backend interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Close() error
}

// Cache is the in-memory write-cache backed by durable storage.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	backend Backend
	state   *State
	now     func() time.Time
}

// Open loads the backend's state. A missing, unreadable or corrupt document is
// logged and replaced by an empty cache; it is never fatal.
func Open(ctx context.Context, backend Backend) *Cache {
	c := &Cache{backend: backend, state: newState(), now: time.Now}
	if backend == nil {
		return c
	}

	state, err := backend.Load(ctx)
	switch {
	case err != nil:
		slog.Warn("write-cache state unreadable, starting empty",
			"component", "writecache",
			"action", "load_failed",
			"error", err,
		)
	case state == nil:
		slog.Info("write-cache state absent, starting empty",
			"component", "writecache",
			"action", "load_empty",
		)
	default:
		if state.Items == nil {
			state.Items = map[string]Entry{}
		}
		if state.Version == 0 {
			state.Version = StateVersion
		}
		c.state = state
		slog.Info("write-cache loaded",
			"component", "writecache",
			"action", "load",
			"entries", len(state.Items),
		)
	}
	return c
}

// Get returns the last value written to itemID.
func (c *Cache) Get(itemID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.state.Items[itemID]
	return e.LastValue, ok
}

// Set records value for itemID and rewrites the whole state. When the backend
// fails the in-memory entry is restored and ErrPersist is returned.
func (c *Cache) Set(ctx context.Context, itemID, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, hadPrev := c.state.Items[itemID]
	c.state.Items[itemID] = Entry{LastValue: value, WrittenAt: c.now().UTC()}

	if c.backend == nil {
		return nil
	}
	if err := c.backend.Save(ctx, c.state.clone()); err != nil {
		if hadPrev {
			c.state.Items[itemID] = prev
		} else {
			delete(c.state.Items, itemID)
		}
		return fmt.Errorf("%w: item %s: %v", ErrPersist, itemID, err)
	}
	return nil
}

// Entries returns a copy of all entries.
func (c *Cache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone().Items
}

// IDs returns the cached row ids in sorted order.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.state.Items))
	for id := range c.state.Items {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of cached rows.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.Items)
}

// Export writes the state document as indented JSON.
func (c *Cache) Export(w io.Writer) error {
	c.mu.Lock()
	snapshot := c.state.clone()
	c.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
