package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/repository/memory"
	"github.com/secmon-lab/concierge/pkg/usecase"
)

func TestSearchLimit(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Context
		want int
	}{
		{"doubles top-k", config.Context{TopK: 5, MaxTopK: 20}, 10},
		{"capped by max", config.Context{TopK: 5, MaxTopK: 8}, 8},
		{"max below top-k keeps top-k", config.Context{TopK: 5, MaxTopK: 3}, 5},
		{"no max", config.Context{TopK: 4}, 8},
		{"disabled", config.Context{TopK: 0, MaxTopK: 20}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, usecase.SearchLimit(tt.cfg)).Equal(tt.want)
		})
	}
}

func TestContextAssembler_Assemble(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	embedder := &wordEmbedder{}
	cipher := newCipher(t)
	mem := usecase.NewMemoryUseCase(repo, embedder, cipher, nil)
	assembler := usecase.NewContextAssembler(repo, embedder, cipher)

	old, err := mem.Remember(ctx, usecase.RememberInput{Owner: "alice", Text: "my cat is named Tama"})
	gt.NoError(t, err).Required()
	_, err = mem.Remember(ctx, usecase.RememberInput{Owner: "alice", Text: "my cat is named Mike", Supersedes: old.ID})
	gt.NoError(t, err).Required()
	_, err = mem.Remember(ctx, usecase.RememberInput{Owner: "bob", Text: "my cat is named Tama"})
	gt.NoError(t, err).Required()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		ciphertext, err := cipher.Encrypt([]byte(text))
		gt.NoError(t, err).Required()
		gt.NoError(t, repo.History().Append(ctx, &model.HistoryEntry{
			ID:         model.NewHistoryID(),
			Owner:      "alice",
			Channel:    "dm",
			Role:       model.RoleUser,
			Ciphertext: ciphertext,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})).Required()
	}

	cfg := config.Context{TopK: 5, MaxTopK: 10, HistoryLimit: 2, Timeout: time.Second}
	rc, err := assembler.Assemble(ctx, &model.Request{Owner: "alice", Channel: "dm", Text: "what is my cat named"}, cfg)
	gt.NoError(t, err).Required()

	t.Run("superseded record is hidden", func(t *testing.T) {
		gt.Array(t, rc.Memories).Length(1).Required()
		gt.Value(t, rc.Memories[0].Text).Equal("my cat is named Mike")
		gt.Number(t, rc.Memories[0].Score).Greater(0)
	})

	t.Run("history is the most recent turns in order", func(t *testing.T) {
		gt.Array(t, rc.History).Length(2).Required()
		gt.Value(t, rc.History[0].Text).Equal("second")
		gt.Value(t, rc.History[1].Text).Equal("third")
	})

	t.Run("query vector is kept for reuse", func(t *testing.T) {
		gt.Array(t, rc.QueryVector).Length(testDimension)
	})
}

func TestContextAssembler_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	embedder := &wordEmbedder{}
	cipher := newCipher(t)
	mem := usecase.NewMemoryUseCase(repo, embedder, cipher, nil)
	assembler := usecase.NewContextAssembler(repo, embedder, cipher)

	_, err := mem.Remember(ctx, usecase.RememberInput{Owner: "bob", Text: "bank PIN hint is the dog"})
	gt.NoError(t, err).Required()

	rc, err := assembler.Assemble(ctx, &model.Request{Owner: "alice", Text: "bank PIN hint is the dog"}, config.Context{TopK: 5})
	gt.NoError(t, err).Required()
	gt.Array(t, rc.Memories).Length(0)
}

func TestContextAssembler_SkipsTamperedHits(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	embedder := &wordEmbedder{}
	cipher := newCipher(t)
	mem := usecase.NewMemoryUseCase(repo, embedder, cipher, nil)
	assembler := usecase.NewContextAssembler(repo, embedder, cipher)

	_, err := mem.Remember(ctx, usecase.RememberInput{Owner: "alice", Text: "my train leaves at nine"})
	gt.NoError(t, err).Required()
	tampered, err := mem.Remember(ctx, usecase.RememberInput{Owner: "alice", Text: "my train leaves from platform four"})
	gt.NoError(t, err).Required()

	rec, err := repo.Memory().Get(ctx, "alice", tampered.ID)
	gt.NoError(t, err).Required()
	rec.Ciphertext[len(rec.Ciphertext)-1] ^= 0xff
	gt.NoError(t, repo.Memory().Put(ctx, rec)).Required()

	rc, err := assembler.Assemble(ctx, &model.Request{Owner: "alice", Text: "when does my train leave"}, config.Context{TopK: 5})
	gt.NoError(t, err).Required()
	gt.Array(t, rc.Memories).Length(1).Required()
	gt.Value(t, rc.Memories[0].Text).Equal("my train leaves at nine")
}

func TestContextAssembler_EmbeddingFailureDegrades(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	cipher := newCipher(t)
	embedder := &wordEmbedder{err: errEmbedding}
	assembler := usecase.NewContextAssembler(repo, embedder, cipher)

	ciphertext, err := cipher.Encrypt([]byte("hello"))
	gt.NoError(t, err).Required()
	gt.NoError(t, repo.History().Append(ctx, &model.HistoryEntry{
		ID: model.NewHistoryID(), Owner: "alice", Channel: "dm", Role: model.RoleUser,
		Ciphertext: ciphertext, CreatedAt: time.Now(),
	})).Required()

	rc, err := assembler.Assemble(ctx, &model.Request{Owner: "alice", Channel: "dm", Text: "hi"},
		config.Context{TopK: 5, HistoryLimit: 10})
	gt.NoError(t, err).Required()
	gt.Array(t, rc.Memories).Length(0)
	gt.Array(t, rc.History).Length(1)
	gt.Value(t, embedder.Calls()).Equal(1)
}

func TestNarrow(t *testing.T) {
	newRC := func() *model.RequestContext {
		rc := &model.RequestContext{}
		for range 8 {
			rc.Memories = append(rc.Memories, &model.Memory{ID: model.NewMemoryID()})
		}
		return rc
	}
	cfg := config.Context{TopK: 5, MaxTopK: 10}

	rc := newRC()
	usecase.Narrow(rc, cfg, false)
	gt.Array(t, rc.Memories).Length(5)

	rc = newRC()
	usecase.Narrow(rc, cfg, true)
	gt.Array(t, rc.Memories).Length(8)
}
