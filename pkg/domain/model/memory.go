package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// MemoryID is a UUID-based identifier for MemoryRecord
type MemoryID string

// NewMemoryID generates a new UUID v4 MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

func (id MemoryID) String() string {
	return string(id)
}

// MemoryMetadata is stored in plaintext next to the encrypted payload.
type MemoryMetadata struct {
	Kind       types.RecordKind
	ChannelRef types.ChannelRef
	CreatedAt  time.Time
	// Supersedes is set on corrections and hides the referenced record from search
	Supersedes MemoryID
}

// MemoryRecord is one stored unit of context. Vector and Ciphertext are always
// written together; repositories reject records missing either.
type MemoryRecord struct {
	ID         MemoryID
	Owner      types.OwnerID
	Vector     []float32
	Ciphertext []byte
	Metadata   MemoryMetadata
}

// Validate checks the invariants a repository relies on before persisting.
func (r *MemoryRecord) Validate() error {
	if r.ID == "" {
		return goerr.New("memory ID is required")
	}
	if err := r.Owner.Validate(); err != nil {
		return goerr.Wrap(err, "invalid memory owner", goerr.V("id", r.ID))
	}
	if len(r.Vector) == 0 {
		return goerr.Wrap(ErrIncompleteRecord, "vector is missing", goerr.V("id", r.ID))
	}
	if len(r.Ciphertext) == 0 {
		return goerr.Wrap(ErrIncompleteRecord, "ciphertext is missing", goerr.V("id", r.ID))
	}
	if !r.Metadata.Kind.IsValid() {
		return goerr.New("invalid record kind", goerr.V("id", r.ID), goerr.V("kind", r.Metadata.Kind))
	}
	return nil
}

// Copy returns a deep copy so callers of in-process stores cannot alias stored slices.
func (r *MemoryRecord) Copy() *MemoryRecord {
	c := *r
	c.Vector = append([]float32(nil), r.Vector...)
	c.Ciphertext = append([]byte(nil), r.Ciphertext...)
	return &c
}

// Memory is a decrypted MemoryRecord. It never leaves the Context Assembler
// and memory use cases in ciphertext form.
type Memory struct {
	ID         MemoryID
	Text       string
	Kind       types.RecordKind
	ChannelRef types.ChannelRef
	Supersedes MemoryID
	CreatedAt  time.Time
	// Score is the cosine similarity to the query, zero for listings
	Score float64
}

// ScoredRecord is a search hit with its cosine similarity.
type ScoredRecord struct {
	Record *MemoryRecord
	Score  float64
}
