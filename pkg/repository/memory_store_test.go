package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

func newRecord(owner types.OwnerID, vec []float32, text string, createdAt time.Time) *model.MemoryRecord {
	return &model.MemoryRecord{
		ID:         model.NewMemoryID(),
		Owner:      owner,
		Vector:     vec,
		Ciphertext: []byte("sealed:" + text),
		Metadata: model.MemoryMetadata{
			Kind:       types.RecordKindExplicit,
			ChannelRef: "C1",
			CreatedAt:  createdAt.UTC().Truncate(time.Millisecond),
		},
	}
}

func runMemoryRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Put and Get round trip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()

		rec := newRecord(owner, unitVector(1, 0.5), "birthday is April 1", time.Now())
		rec.Metadata.Supersedes = "older-id"
		gt.NoError(t, repo.Memory().Put(ctx, rec)).Required()

		got, err := repo.Memory().Get(ctx, owner, rec.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.ID).Equal(rec.ID)
		gt.Value(t, got.Owner).Equal(owner)
		gt.Value(t, string(got.Ciphertext)).Equal("sealed:birthday is April 1")
		gt.Array(t, got.Vector).Length(testDim)
		gt.Value(t, got.Vector[1]).Equal(float32(1))
		gt.Value(t, got.Vector[2]).Equal(float32(0.5))
		gt.Value(t, got.Metadata.Kind).Equal(types.RecordKindExplicit)
		gt.Value(t, got.Metadata.ChannelRef).Equal(types.ChannelRef("C1"))
		gt.Value(t, got.Metadata.Supersedes).Equal(model.MemoryID("older-id"))
		gt.Bool(t, got.Metadata.CreatedAt.Equal(rec.Metadata.CreatedAt)).True()
	})

	t.Run("Put rejects partial records and persists nothing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()

		noVector := newRecord(owner, nil, "x", time.Now())
		err := repo.Memory().Put(ctx, noVector)
		gt.Bool(t, errors.Is(err, model.ErrIncompleteRecord)).True()

		noCipher := newRecord(owner, unitVector(0, 0), "x", time.Now())
		noCipher.Ciphertext = nil
		err = repo.Memory().Put(ctx, noCipher)
		gt.Bool(t, errors.Is(err, model.ErrIncompleteRecord)).True()

		list, err := repo.Memory().List(ctx, owner, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(0)
	})

	t.Run("Get returns ErrNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Memory().Get(context.Background(), newOwner(), model.NewMemoryID())
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("records never cross owners", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		ownerA := newOwner()
		ownerB := newOwner()

		vec := unitVector(10, 0)
		recA := newRecord(ownerA, vec, "A's secret", time.Now())
		gt.NoError(t, repo.Memory().Put(ctx, recA)).Required()
		recB := newRecord(ownerB, unitVector(300, 0), "B's note", time.Now())
		gt.NoError(t, repo.Memory().Put(ctx, recB)).Required()

		hits, err := repo.Memory().FindByVector(ctx, ownerB, vec, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(1).Required()
		gt.Value(t, hits[0].Record.ID).Equal(recB.ID)
		gt.Value(t, hits[0].Record.Owner).Equal(ownerB)

		_, err = repo.Memory().Get(ctx, ownerB, recA.ID)
		gt.Error(t, err).Is(model.ErrNotFound)

		gt.NoError(t, repo.Memory().Delete(ctx, ownerB, recA.ID)).Required()
		_, err = repo.Memory().Get(ctx, ownerA, recA.ID)
		gt.NoError(t, err)

		listB, err := repo.Memory().List(ctx, ownerB, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, listB).Length(1)
	})

	t.Run("FindByVector orders by cosine similarity", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()
		now := time.Now()

		far := newRecord(owner, unitVector(50, 0), "far", now)
		near := newRecord(owner, unitVector(20, 0.1), "near", now)
		mid := newRecord(owner, unitVector(20, 1), "mid", now)
		for _, r := range []*model.MemoryRecord{far, near, mid} {
			gt.NoError(t, repo.Memory().Put(ctx, r)).Required()
		}

		hits, err := repo.Memory().FindByVector(ctx, owner, unitVector(20, 0), 2)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(2).Required()
		gt.Value(t, hits[0].Record.ID).Equal(near.ID)
		gt.Value(t, hits[1].Record.ID).Equal(mid.ID)
		gt.Number(t, hits[0].Score).Greater(hits[1].Score)
		gt.Number(t, hits[0].Score).Greater(0.99)
	})

	t.Run("List is newest first and limited", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()
		base := time.Now().Add(-time.Hour)

		var ids []model.MemoryID
		for i := range 4 {
			r := newRecord(owner, unitVector(i, 0), "m", base.Add(time.Duration(i)*time.Minute))
			ids = append(ids, r.ID)
			gt.NoError(t, repo.Memory().Put(ctx, r)).Required()
		}

		list, err := repo.Memory().List(ctx, owner, 2)
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(2).Required()
		gt.Value(t, list[0].ID).Equal(ids[3])
		gt.Value(t, list[1].ID).Equal(ids[2])
	})

	t.Run("Delete and DeleteAll", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()
		other := newOwner()

		r1 := newRecord(owner, unitVector(1, 0), "one", time.Now())
		r2 := newRecord(owner, unitVector(2, 0), "two", time.Now())
		r3 := newRecord(other, unitVector(3, 0), "three", time.Now())
		for _, r := range []*model.MemoryRecord{r1, r2, r3} {
			gt.NoError(t, repo.Memory().Put(ctx, r)).Required()
		}

		gt.NoError(t, repo.Memory().Delete(ctx, owner, r1.ID)).Required()
		_, err := repo.Memory().Get(ctx, owner, r1.ID)
		gt.Error(t, err).Is(model.ErrNotFound)
		gt.NoError(t, repo.Memory().Delete(ctx, owner, r1.ID))

		n, err := repo.Memory().DeleteAll(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(1)

		list, err := repo.Memory().List(ctx, owner, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(0)

		_, err = repo.Memory().Get(ctx, other, r3.ID)
		gt.NoError(t, err)
	})
}
