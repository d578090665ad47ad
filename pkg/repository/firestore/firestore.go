package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"google.golang.org/api/iterator"
)

// Firestore stores owner-scoped data under owners/{owner}/... and the usage
// ledger in a top-level collection.
type Firestore struct {
	client           *firestore.Client
	collectionPrefix string
	memory           *memoryRepository
	usage            *usageRepository
	history          *historyRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prefixes every top-level collection name. Used to
// isolate test runs sharing one database.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID),
		)
	}

	f := &Firestore{client: client}
	for _, opt := range opts {
		opt(f)
	}

	f.memory = &memoryRepository{root: f}
	f.usage = &usageRepository{root: f}
	f.history = &historyRepository{root: f}
	return f, nil
}

func (f *Firestore) collection(name string) string {
	if f.collectionPrefix != "" {
		return f.collectionPrefix + "_" + name
	}
	return name
}

// ownerDoc returns owners/{owner}; every owner-scoped read starts here.
func (f *Firestore) ownerDoc(owner types.OwnerID) *firestore.DocumentRef {
	return f.client.Collection(f.collection(CollectionOwners)).Doc(string(owner))
}

func (f *Firestore) Memory() interfaces.MemoryRepository {
	return f.memory
}

func (f *Firestore) Usage() interfaces.UsageRepository {
	return f.usage
}

func (f *Firestore) History() interfaces.HistoryRepository {
	return f.history
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// deleteQuery removes every document matched by q in batches through a BulkWriter.
func (f *Firestore) deleteQuery(ctx context.Context, q firestore.Query) (int, error) {
	const batchSize = 500
	total := 0

	for {
		iter := q.Limit(batchSize).Documents(ctx)
		bulkWriter := f.client.BulkWriter(ctx)
		count := 0

		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				bulkWriter.End()
				return total, goerr.Wrap(err, "failed to iterate documents for deletion")
			}
			if _, err := bulkWriter.Delete(doc.Ref); err != nil {
				iter.Stop()
				bulkWriter.End()
				return total, goerr.Wrap(err, "failed to enqueue delete", goerr.V("path", doc.Ref.Path))
			}
			count++
		}
		iter.Stop()
		bulkWriter.End()

		total += count
		if count < batchSize {
			return total, nil
		}
	}
}
