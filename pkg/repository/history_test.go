package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

func runHistoryRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	appendTurns := func(t *testing.T, repo interfaces.Repository, owner types.OwnerID, channel types.ChannelRef, n int) {
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
		for i := range n {
			role := model.RoleUser
			if i%2 == 1 {
				role = model.RoleAssistant
			}
			gt.NoError(t, repo.History().Append(context.Background(), &model.HistoryEntry{
				ID:         model.NewHistoryID(),
				Owner:      owner,
				Channel:    channel,
				Role:       role,
				Ciphertext: []byte(fmt.Sprintf("turn-%d", i)),
				CreatedAt:  base.Add(time.Duration(i) * time.Second),
			})).Required()
		}
	}

	t.Run("ListRecent returns latest turns in order", func(t *testing.T) {
		repo := newRepo(t)
		owner := newOwner()
		appendTurns(t, repo, owner, "C1", 5)
		appendTurns(t, repo, owner, "C2", 2)

		entries, err := repo.History().ListRecent(context.Background(), owner, "C1", 3)
		gt.NoError(t, err).Required()
		gt.Array(t, entries).Length(3).Required()
		gt.Value(t, string(entries[0].Ciphertext)).Equal("turn-2")
		gt.Value(t, string(entries[2].Ciphertext)).Equal("turn-4")
		gt.Value(t, entries[2].Role).Equal(model.RoleUser)

		other, err := repo.History().ListRecent(context.Background(), newOwner(), "C1", 10)
		gt.NoError(t, err).Required()
		gt.Array(t, other).Length(0)
	})

	t.Run("Append rejects empty content", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.History().Append(context.Background(), &model.HistoryEntry{
			ID: model.NewHistoryID(), Owner: newOwner(), Channel: "C1", Role: model.RoleUser, CreatedAt: time.Now(),
		})
		gt.Error(t, err)
	})

	t.Run("DeleteAll covers every channel", func(t *testing.T) {
		repo := newRepo(t)
		owner := newOwner()
		appendTurns(t, repo, owner, "C1", 2)
		appendTurns(t, repo, owner, "C2", 3)

		n, err := repo.History().DeleteAll(context.Background(), owner)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(5)

		entries, err := repo.History().ListRecent(context.Background(), owner, "C2", 10)
		gt.NoError(t, err).Required()
		gt.Array(t, entries).Length(0)
	})
}
