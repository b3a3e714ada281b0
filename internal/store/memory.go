package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/akarpov/minichat/internal/domain"
)

// MemoryStore is an in-process Repository, used in tests as a substitute
// for the SQLite store. It round-trips the snapshot through JSON so that
// stored state is fully detached from the caller's pointers.
type MemoryStore struct {
	mu      sync.Mutex
	threads []byte
	active  string
	saved   bool
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// SaveState stores the snapshot.
func (m *MemoryStore) SaveState(_ context.Context, snap domain.Snapshot) error {
	threadsJSON, err := json.Marshal(snap.Threads)
	if err != nil {
		return fmt.Errorf("encode threads: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = threadsJSON
	m.active = snap.ActiveThreadID
	m.saved = true
	return nil
}

// LoadState returns the stored snapshot, or ErrNotFound if nothing was
// ever saved.
func (m *MemoryStore) LoadState(_ context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.saved {
		return domain.Snapshot{}, ErrNotFound
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(m.threads, &snap.Threads); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode threads: %w", err)
	}
	snap.ActiveThreadID = m.active
	return snap, nil
}

// Corrupt overwrites the stored thread blob with undecodable data. Test
// helper for hydration behavior.
func (m *MemoryStore) Corrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = []byte("{not json")
	m.saved = true
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
