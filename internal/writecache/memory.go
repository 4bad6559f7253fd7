package writecache

import (
	"context"
	"sync"
)

// MemoryBackend keeps the state in process. Used for tests and dry runs.
type MemoryBackend struct {
	mu       sync.Mutex
	snapshot *State
	saves    int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(ctx context.Context) (*State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return b.snapshot.clone(), nil
}

func (b *MemoryBackend) Save(ctx context.Context, state *State) error {
	if state == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = state.clone()
	b.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func (b *MemoryBackend) Close() error { return nil }
