package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// distanceField receives the cosine distance computed by FindNearest. It is
// never written.
const distanceField = "VectorDistance"

// memoryDoc stores vector and ciphertext in one document so both are written
// in a single atomic Create.
type memoryDoc struct {
	ID         model.MemoryID     `firestore:"ID"`
	Owner      types.OwnerID      `firestore:"Owner"`
	Embedding  firestore.Vector32 `firestore:"Embedding"`
	Ciphertext []byte             `firestore:"Ciphertext"`
	Kind       types.RecordKind   `firestore:"Kind"`
	ChannelRef types.ChannelRef   `firestore:"ChannelRef"`
	Supersedes model.MemoryID     `firestore:"Supersedes,omitempty"`
	CreatedAt  time.Time          `firestore:"CreatedAt"`
	Distance   float64            `firestore:"VectorDistance,omitempty"`
}

func toMemoryDoc(r *model.MemoryRecord) *memoryDoc {
	return &memoryDoc{
		ID:         r.ID,
		Owner:      r.Owner,
		Embedding:  firestore.Vector32(r.Vector),
		Ciphertext: r.Ciphertext,
		Kind:       r.Metadata.Kind,
		ChannelRef: r.Metadata.ChannelRef,
		Supersedes: r.Metadata.Supersedes,
		CreatedAt:  r.Metadata.CreatedAt,
	}
}

func fromMemoryDoc(d *memoryDoc) *model.MemoryRecord {
	return &model.MemoryRecord{
		ID:         d.ID,
		Owner:      d.Owner,
		Vector:     []float32(d.Embedding),
		Ciphertext: d.Ciphertext,
		Metadata: model.MemoryMetadata{
			Kind:       d.Kind,
			ChannelRef: d.ChannelRef,
			Supersedes: d.Supersedes,
			CreatedAt:  d.CreatedAt,
		},
	}
}

type memoryRepository struct {
	root *Firestore
}

// memoriesCollection returns owners/{owner}/memories
func (r *memoryRepository) memoriesCollection(owner types.OwnerID) *firestore.CollectionRef {
	return r.root.ownerDoc(owner).Collection(CollectionMemories)
}

func (r *memoryRepository) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to store memory record")
	}

	docRef := r.memoriesCollection(record.Owner).Doc(string(record.ID))
	if _, err := docRef.Create(ctx, toMemoryDoc(record)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(err, "memory record already exists", goerr.V("id", record.ID))
		}
		return goerr.Wrap(err, "failed to create memory", goerr.V("id", record.ID))
	}
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, owner types.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	doc, err := r.memoriesCollection(owner).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("owner", owner), goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("id", id))
	}

	var d memoryDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal memory", goerr.V("id", id))
	}
	return fromMemoryDoc(&d), nil
}

func (r *memoryRepository) Delete(ctx context.Context, owner types.OwnerID, id model.MemoryID) error {
	if _, err := r.memoriesCollection(owner).Doc(string(id)).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	return nil
}

func (r *memoryRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	n, err := r.root.deleteQuery(ctx, r.memoriesCollection(owner).Query)
	if err != nil {
		return n, goerr.Wrap(err, "failed to delete memories", goerr.V("owner", owner))
	}
	return n, nil
}

func (r *memoryRepository) List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.MemoryRecord, error) {
	q := r.memoriesCollection(owner).OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	records := make([]*model.MemoryRecord, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories")
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory")
		}
		records = append(records, fromMemoryDoc(&d))
	}
	return records, nil
}

func (r *memoryRepository) FindByVector(ctx context.Context, owner types.OwnerID, vector []float32, limit int) ([]*model.ScoredRecord, error) {
	if limit <= 0 {
		return []*model.ScoredRecord{}, nil
	}

	vq := r.memoriesCollection(owner).
		FindNearest("Embedding", firestore.Vector32(vector), limit, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	hits := make([]*model.ScoredRecord, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memory vector search results")
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory from vector search")
		}
		hits = append(hits, &model.ScoredRecord{
			Record: fromMemoryDoc(&d),
			Score:  1 - d.Distance,
		})
	}
	return hits, nil
}
