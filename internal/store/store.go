// Package store provides the persistence port for session state and its
// implementations.
package store

import (
	"context"
	"errors"

	"github.com/akarpov/minichat/internal/domain"
)

// ErrNotFound indicates no persisted state exists yet.
var ErrNotFound = errors.New("state not found")

// Repository persists the full session snapshot. The chat store treats it
// as a side-effect port: every mutation is flushed through SaveState, and
// LoadState hydrates the store at startup.
type Repository interface {
	// SaveState writes the full snapshot, replacing any previous one.
	SaveState(ctx context.Context, snap domain.Snapshot) error

	// LoadState reads the persisted snapshot. Returns ErrNotFound when
	// nothing has been saved, and a decode error when the stored blob is
	// corrupted. Callers treat both the same way (start empty).
	LoadState(ctx context.Context) (domain.Snapshot, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying storage.
	Close() error
}
