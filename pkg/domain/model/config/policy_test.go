package config_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

func TestRoutingTierFor(t *testing.T) {
	r := config.Default().Routing

	gt.Value(t, r.TierFor(types.IntentComplexTask, 0.9)).Equal(types.TierQuality)
	gt.Value(t, r.TierFor(types.IntentSimpleQuery, 0.7)).Equal(types.TierFast)
	gt.Value(t, r.TierFor(types.IntentComplexTask, 0.69)).Equal(types.TierBalanced)

	delete(r.IntentTiers, types.IntentOther)
	gt.Value(t, r.TierFor(types.IntentOther, 1)).Equal(r.DefaultTier)
}

func TestProviderCost(t *testing.T) {
	p := config.Provider{InputCostPer1K: 0.003, OutputCostPer1K: 0.015}
	gt.Bool(t, p.Paid()).True()
	gt.Number(t, p.Cost(2000, 1000)).Greater(0.0209)
	gt.Number(t, p.Cost(2000, 1000)).Less(0.0211)

	gt.Bool(t, config.Provider{}.Paid()).False()
}

func TestPolicyProviderLookup(t *testing.T) {
	p := config.Default()
	p.Providers = []config.Provider{{ID: "fast-one", Tier: types.TierFast}}

	got, ok := p.Provider("fast-one")
	gt.Bool(t, ok).True()
	gt.Value(t, got.Tier).Equal(types.TierFast)

	_, ok = p.Provider("missing")
	gt.Bool(t, ok).False()
}
