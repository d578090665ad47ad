package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// ContextAssembler gathers history and relevant memories once per request.
type ContextAssembler struct {
	repo     interfaces.Repository
	embedder interfaces.Embedder
	cipher   interfaces.Cipher
}

func NewContextAssembler(repo interfaces.Repository, embedder interfaces.Embedder, cipher interfaces.Cipher) *ContextAssembler {
	return &ContextAssembler{
		repo:     repo,
		embedder: embedder,
		cipher:   cipher,
	}
}

// SearchLimit is the number of memories fetched for a request. The single
// search is sized for memory-recall so that intent can widen the result
// after classification without a second query.
func SearchLimit(cfg config.Context) int {
	k := cfg.TopK
	if k <= 0 {
		return 0
	}
	wide := k * 2
	if cfg.MaxTopK > 0 && wide > cfg.MaxTopK {
		wide = max(cfg.MaxTopK, k)
	}
	return wide
}

// Assemble runs exactly one similarity search and one history fetch
// concurrently. An embedding failure degrades to no memories; storage
// failures are returned.
func (a *ContextAssembler) Assemble(ctx context.Context, req *model.Request, cfg config.Context) (*model.RequestContext, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var (
		rc       model.RequestContext
		memories []*model.Memory
		history  []model.Message
	)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		limit := SearchLimit(cfg)
		if limit == 0 {
			return nil
		}
		vec, err := a.embedder.Embed(model.WithOwner(ctx, req.Owner), req.Text)
		if err != nil {
			logging.From(ctx).Warn("embedding failed, continuing without memories", "error", err.Error())
			return nil
		}
		rc.QueryVector = vec

		// over-fetch so hiding superseded records does not shrink the result
		hits, err := a.repo.Memory().FindByVector(ctx, req.Owner, vec, limit*2)
		if err != nil {
			return goerr.Wrap(err, "failed to search memories", goerr.V(OwnerKey, req.Owner))
		}
		memories = a.openHits(ctx, hits, limit)
		return nil
	})

	eg.Go(func() error {
		if cfg.HistoryLimit <= 0 {
			return nil
		}
		entries, err := a.repo.History().ListRecent(ctx, req.Owner, req.Channel, cfg.HistoryLimit)
		if err != nil {
			return goerr.Wrap(err, "failed to fetch history", goerr.V(OwnerKey, req.Owner))
		}
		history = make([]model.Message, 0, len(entries))
		for _, entry := range entries {
			if msg, ok := decryptMessage(ctx, a.cipher, entry); ok {
				history = append(history, msg)
			}
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	rc.Memories = memories
	rc.History = history
	return &rc, nil
}

// openHits decrypts search hits in score order, drops records superseded by
// another hit and keeps at most limit.
func (a *ContextAssembler) openHits(ctx context.Context, hits []*model.ScoredRecord, limit int) []*model.Memory {
	superseded := make(map[model.MemoryID]struct{})
	for _, hit := range hits {
		if id := hit.Record.Metadata.Supersedes; id != "" {
			superseded[id] = struct{}{}
		}
	}

	memories := make([]*model.Memory, 0, min(limit, len(hits)))
	for _, hit := range hits {
		if len(memories) >= limit {
			break
		}
		if _, ok := superseded[hit.Record.ID]; ok {
			continue
		}
		if m, ok := decryptMemory(ctx, a.cipher, hit.Record, hit.Score); ok {
			memories = append(memories, m)
		}
	}
	return memories
}

// Narrow trims memories to the plain top-k unless the intent asked for a
// wider recall.
func Narrow(rc *model.RequestContext, cfg config.Context, widen bool) {
	if widen || cfg.TopK <= 0 || len(rc.Memories) <= cfg.TopK {
		return
	}
	rc.Memories = rc.Memories[:cfg.TopK]
}
