package selector

import (
	"context"
	"slices"

	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// HealthView is the read side of the provider health table
type HealthView interface {
	IsAvailable(id types.ProviderID) bool
}

// Select builds the fallback chain for one request. It is the only place
// where tier, cost and health are traded off:
//
//  1. available providers of the preferred tier, in configuration order
//  2. other available providers, nearest tier first, cheaper first on ties
//  3. when the daily budget is used up, quality tier moves below fast tier
//  4. when nothing is available, every provider is attempted as an override
//
// The chain is empty only when no provider is configured.
func Select(ctx context.Context, decision model.RoutingDecision, daily model.BudgetState, health HealthView, providers []config.Provider) model.Chain {
	preferred := decision.PreferredTier
	if !preferred.IsValid() {
		preferred = types.TierBalanced
	}

	var available, down []config.Provider
	for _, p := range providers {
		if health.IsAvailable(p.ID) {
			available = append(available, p)
		} else {
			down = append(down, p)
		}
	}

	chain := rank(available, preferred, false)
	if len(chain) == 0 && len(down) > 0 {
		chain = rank(down, preferred, true)
		logging.From(ctx).Warn("no provider available, attempting unavailable providers",
			"providers", chain.IDs(),
			"preferred_tier", preferred,
		)
	}

	if daily.CapUSD > 0 && daily.PercentUsed >= 100 {
		chain = demoteQuality(chain)
	}
	return chain
}

func rank(providers []config.Provider, preferred types.Tier, override bool) model.Chain {
	sorted := slices.Clone(providers)
	slices.SortStableFunc(sorted, func(a, b config.Provider) int {
		da, db := distance(a.Tier, preferred), distance(b.Tier, preferred)
		if da != db {
			return da - db
		}
		if da == 0 {
			return 0
		}
		ca, cb := a.InputCostPer1K+a.OutputCostPer1K, b.InputCostPer1K+b.OutputCostPer1K
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return 0
	})

	chain := make(model.Chain, 0, len(sorted))
	for _, p := range sorted {
		chain = append(chain, model.Candidate{
			ProviderID: p.ID,
			Tier:       p.Tier,
			Paid:       p.Paid(),
			Override:   override,
		})
	}
	return chain
}

func distance(t, preferred types.Tier) int {
	d := t.Rank() - preferred.Rank()
	if d < 0 {
		return -d
	}
	return d
}

// demoteQuality moves every quality tier candidate directly after the last
// fast tier candidate, keeping relative order otherwise.
func demoteQuality(chain model.Chain) model.Chain {
	lastFast := -1
	for i, c := range chain {
		if c.Tier == types.TierFast {
			lastFast = i
		}
	}
	if lastFast < 0 {
		return chain
	}

	out := make(model.Chain, 0, len(chain))
	var quality model.Chain
	for i, c := range chain {
		if c.Tier == types.TierQuality && i < lastFast {
			quality = append(quality, c)
			continue
		}
		out = append(out, c)
		if i == lastFast {
			out = append(out, quality...)
		}
	}
	return out
}
