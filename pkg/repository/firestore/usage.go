package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"google.golang.org/api/iterator"
)

type usageDoc struct {
	ID         model.UsageID    `firestore:"ID"`
	Timestamp  time.Time        `firestore:"Timestamp"`
	Owner      types.OwnerID    `firestore:"Owner"`
	ProviderID types.ProviderID `firestore:"ProviderID"`
	Task       model.TaskType   `firestore:"Task"`
	TokensIn   int              `firestore:"TokensIn"`
	TokensOut  int              `firestore:"TokensOut"`
	CostUSD    float64          `firestore:"CostUSD"`
	Success    bool             `firestore:"Success"`
	Attempts   int              `firestore:"Attempts"`
}

type usageRepository struct {
	root *Firestore
}

func (r *usageRepository) usageCollection() *firestore.CollectionRef {
	return r.root.client.Collection(r.root.collection(CollectionUsage))
}

func (r *usageRepository) Append(ctx context.Context, rec *model.UsageRecord) error {
	if rec.ID == "" {
		return goerr.New("usage record ID is required")
	}
	doc := usageDoc(*rec)
	if _, err := r.usageCollection().Doc(string(rec.ID)).Create(ctx, &doc); err != nil {
		return goerr.Wrap(err, "failed to append usage record", goerr.V("id", rec.ID))
	}
	return nil
}

func (r *usageRepository) ListSince(ctx context.Context, since time.Time) ([]*model.UsageRecord, error) {
	iter := r.usageCollection().
		Where("Timestamp", ">=", since).
		OrderBy("Timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	records := make([]*model.UsageRecord, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate usage records")
		}

		var d usageDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal usage record")
		}
		rec := model.UsageRecord(d)
		records = append(records, &rec)
	}
	return records, nil
}

func (r *usageRepository) DeleteOwner(ctx context.Context, owner types.OwnerID) (int, error) {
	n, err := r.root.deleteQuery(ctx, r.usageCollection().Where("Owner", "==", string(owner)))
	if err != nil {
		return n, goerr.Wrap(err, "failed to delete usage records", goerr.V("owner", owner))
	}
	return n, nil
}
