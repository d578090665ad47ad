package firestore

import (
	"context"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"google.golang.org/api/iterator"
)

type historyDoc struct {
	ID         model.HistoryID  `firestore:"ID"`
	Owner      types.OwnerID    `firestore:"Owner"`
	Channel    types.ChannelRef `firestore:"Channel"`
	Role       model.Role       `firestore:"Role"`
	Ciphertext []byte           `firestore:"Ciphertext"`
	CreatedAt  time.Time        `firestore:"CreatedAt"`
}

type historyRepository struct {
	root *Firestore
}

// historyCollection returns owners/{owner}/history
func (r *historyRepository) historyCollection(owner types.OwnerID) *firestore.CollectionRef {
	return r.root.ownerDoc(owner).Collection(CollectionHistory)
}

func (r *historyRepository) Append(ctx context.Context, entry *model.HistoryEntry) error {
	if err := entry.Owner.Validate(); err != nil {
		return goerr.Wrap(err, "invalid history owner")
	}
	if len(entry.Ciphertext) == 0 {
		return goerr.New("history entry has no content", goerr.V("id", entry.ID))
	}

	doc := historyDoc(*entry)
	if _, err := r.historyCollection(entry.Owner).Doc(string(entry.ID)).Create(ctx, &doc); err != nil {
		return goerr.Wrap(err, "failed to append history", goerr.V("id", entry.ID))
	}
	return nil
}

func (r *historyRepository) ListRecent(ctx context.Context, owner types.OwnerID, channel types.ChannelRef, limit int) ([]*model.HistoryEntry, error) {
	q := r.historyCollection(owner).
		Where("Channel", "==", string(channel)).
		OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	entries := make([]*model.HistoryEntry, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate history")
		}

		var d historyDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal history")
		}
		e := model.HistoryEntry(d)
		entries = append(entries, &e)
	}

	slices.Reverse(entries)
	return entries, nil
}

func (r *historyRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	n, err := r.root.deleteQuery(ctx, r.historyCollection(owner).Query)
	if err != nil {
		return n, goerr.Wrap(err, "failed to delete history", goerr.V("owner", owner))
	}
	return n, nil
}
