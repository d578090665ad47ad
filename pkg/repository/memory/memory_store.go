package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type memoryRepository struct {
	mu      sync.RWMutex
	entries map[types.OwnerID]map[model.MemoryID]*model.MemoryRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		entries: make(map[types.OwnerID]map[model.MemoryID]*model.MemoryRecord),
	}
}

func (r *memoryRepository) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to store memory record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.entries[record.Owner]
	if !ok {
		bucket = make(map[model.MemoryID]*model.MemoryRecord)
		r.entries[record.Owner] = bucket
	}
	bucket[record.ID] = record.Copy()
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, owner types.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.entries[owner][id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("owner", owner), goerr.V("id", id))
	}
	return rec.Copy(), nil
}

func (r *memoryRepository) Delete(ctx context.Context, owner types.OwnerID, id model.MemoryID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries[owner], id)
	return nil
}

func (r *memoryRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries[owner])
	delete(r.entries, owner)
	return n, nil
}

func (r *memoryRepository) List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.MemoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.entries[owner]
	result := make([]*model.MemoryRecord, 0, len(bucket))
	for _, rec := range bucket {
		result = append(result, rec.Copy())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Metadata.CreatedAt.After(result[j].Metadata.CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *memoryRepository) FindByVector(ctx context.Context, owner types.OwnerID, vector []float32, limit int) ([]*model.ScoredRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Only the owner's bucket is ever scanned.
	bucket := r.entries[owner]
	records := make([]*model.MemoryRecord, 0, len(bucket))
	for _, rec := range bucket {
		records = append(records, rec.Copy())
	}
	return model.RankBySimilarity(vector, records, limit), nil
}
