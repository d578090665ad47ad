package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// Repository defines the interface for data persistence. Every owner-scoped
// method must restrict reads and writes to owner at the query layer.
type Repository interface {
	Memory() MemoryRepository
	Usage() UsageRepository
	History() HistoryRepository
	Close() error
}

// MemoryRepository stores encrypted memory records with plaintext vectors
type MemoryRepository interface {
	// Put writes vector and ciphertext atomically. Records are never updated in place.
	Put(ctx context.Context, record *model.MemoryRecord) error

	// Get returns model.ErrNotFound when the record does not exist for owner
	Get(ctx context.Context, owner types.OwnerID, id model.MemoryID) (*model.MemoryRecord, error)

	// Delete removes one record of owner. Deleting a missing record is not an error.
	Delete(ctx context.Context, owner types.OwnerID, id model.MemoryID) error

	// DeleteAll removes every record of owner and returns the number removed
	DeleteAll(ctx context.Context, owner types.OwnerID) (int, error)

	// List returns records of owner, newest first, up to limit (0 means no limit)
	List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.MemoryRecord, error)

	// FindByVector returns up to limit records of owner ordered by cosine similarity
	FindByVector(ctx context.Context, owner types.OwnerID, vector []float32, limit int) ([]*model.ScoredRecord, error)
}

// UsageRepository is the append-only budget ledger
type UsageRepository interface {
	Append(ctx context.Context, record *model.UsageRecord) error
	// ListSince returns all usage entries with Timestamp >= since in time order
	ListSince(ctx context.Context, since time.Time) ([]*model.UsageRecord, error)
	// DeleteOwner removes ledger rows attributed to owner on account erasure
	DeleteOwner(ctx context.Context, owner types.OwnerID) (int, error)
}

// HistoryRepository stores encrypted conversation turns per (owner, channel)
type HistoryRepository interface {
	Append(ctx context.Context, entry *model.HistoryEntry) error
	// ListRecent returns up to limit latest entries in chronological order
	ListRecent(ctx context.Context, owner types.OwnerID, channel types.ChannelRef, limit int) ([]*model.HistoryEntry, error)
	DeleteAll(ctx context.Context, owner types.OwnerID) (int, error)
}
