package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type usageRepository struct {
	mu      sync.RWMutex
	records []*model.UsageRecord
}

func newUsageRepository() *usageRepository {
	return &usageRepository{}
}

func (r *usageRepository) Append(ctx context.Context, record *model.UsageRecord) error {
	if record.ID == "" {
		return goerr.New("usage record ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *usageRepository) ListSince(ctx context.Context, since time.Time) ([]*model.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.UsageRecord
	for _, rec := range r.records {
		if !rec.Timestamp.Before(since) {
			copied := *rec
			result = append(result, &copied)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (r *usageRepository) DeleteOwner(ctx context.Context, owner types.OwnerID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	removed := 0
	for _, rec := range r.records {
		if rec.Owner == owner {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return removed, nil
}
