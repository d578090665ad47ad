package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

func filterOwner(records []*model.UsageRecord, owner types.OwnerID) []*model.UsageRecord {
	var out []*model.UsageRecord
	for _, r := range records {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out
}

func runUsageRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Append and ListSince", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()
		base := time.Now().UTC().Truncate(time.Millisecond)

		for i, cost := range []float64{0.5, 1.25, 2} {
			ts := base.Add(time.Duration(i-1) * time.Hour)
			gt.NoError(t, repo.Usage().Append(ctx, &model.UsageRecord{
				ID:         model.NewUsageID(ts),
				Timestamp:  ts,
				Owner:      owner,
				ProviderID: "openai",
				Task:       model.TaskType(types.IntentSimpleQuery),
				TokensIn:   100 * (i + 1),
				TokensOut:  10,
				CostUSD:    cost,
				Success:    i != 1,
				Attempts:   i + 1,
			})).Required()
		}

		all, err := repo.Usage().ListSince(ctx, base.Add(-2*time.Hour))
		gt.NoError(t, err).Required()
		mine := filterOwner(all, owner)
		gt.Array(t, mine).Length(3).Required()
		gt.Value(t, mine[0].CostUSD).Equal(0.5)
		gt.Value(t, mine[1].Success).Equal(false)
		gt.Value(t, mine[2].Attempts).Equal(3)
		gt.Value(t, mine[2].ProviderID).Equal(types.ProviderID("openai"))

		recent, err := repo.Usage().ListSince(ctx, base)
		gt.NoError(t, err).Required()
		gt.Array(t, filterOwner(recent, owner)).Length(2)
	})

	t.Run("Append requires ID", func(t *testing.T) {
		repo := newRepo(t)
		gt.Error(t, repo.Usage().Append(context.Background(), &model.UsageRecord{Timestamp: time.Now()}))
	})

	t.Run("DeleteOwner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwner()
		other := newOwner()
		now := time.Now().UTC()

		for _, o := range []types.OwnerID{owner, owner, other} {
			gt.NoError(t, repo.Usage().Append(ctx, &model.UsageRecord{
				ID: model.NewUsageID(now), Timestamp: now, Owner: o, ProviderID: "p", Success: true, Attempts: 1,
			})).Required()
		}

		n, err := repo.Usage().DeleteOwner(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(2)

		all, err := repo.Usage().ListSince(ctx, now.Add(-time.Minute))
		gt.NoError(t, err).Required()
		gt.Array(t, filterOwner(all, owner)).Length(0)
		gt.Array(t, filterOwner(all, other)).Length(1)
	})
}
