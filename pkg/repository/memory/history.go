package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type historyKey struct {
	owner   types.OwnerID
	channel types.ChannelRef
}

type historyRepository struct {
	mu      sync.RWMutex
	entries map[historyKey][]*model.HistoryEntry
}

func newHistoryRepository() *historyRepository {
	return &historyRepository{
		entries: make(map[historyKey][]*model.HistoryEntry),
	}
}

func copyHistory(e *model.HistoryEntry) *model.HistoryEntry {
	c := *e
	c.Ciphertext = append([]byte(nil), e.Ciphertext...)
	return &c
}

func (r *historyRepository) Append(ctx context.Context, entry *model.HistoryEntry) error {
	if err := entry.Owner.Validate(); err != nil {
		return goerr.Wrap(err, "invalid history owner")
	}
	if len(entry.Ciphertext) == 0 {
		return goerr.New("history entry has no content", goerr.V("id", entry.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := historyKey{owner: entry.Owner, channel: entry.Channel}
	r.entries[key] = append(r.entries[key], copyHistory(entry))
	return nil
}

func (r *historyRepository) ListRecent(ctx context.Context, owner types.OwnerID, channel types.ChannelRef, limit int) ([]*model.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.entries[historyKey{owner: owner, channel: channel}]
	result := make([]*model.HistoryEntry, 0, len(src))
	for _, e := range src {
		result = append(result, copyHistory(e))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (r *historyRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, entries := range r.entries {
		if key.owner == owner {
			removed += len(entries)
			delete(r.entries, key)
		}
	}
	return removed, nil
}
