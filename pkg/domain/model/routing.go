package model

import "github.com/secmon-lab/concierge/pkg/domain/types"

// RoutingDecision is the output of the classification stage.
type RoutingDecision struct {
	Intent        types.Intent
	Confidence    float64
	PreferredTier types.Tier
	// Degraded is set when the decision is the fallback default
	Degraded bool
	Reason   string
}

// DefaultRoutingDecision is the lowest-risk decision used when classification fails.
func DefaultRoutingDecision(reason string) RoutingDecision {
	return RoutingDecision{
		Intent:     types.IntentSimpleQuery,
		Confidence: 0,
		Degraded:   true,
		Reason:     reason,
	}
}

// Candidate is one entry of a fallback chain.
type Candidate struct {
	ProviderID types.ProviderID
	Tier       types.Tier
	// Paid is false for providers configured with zero cost
	Paid bool
	// Override marks a provider attempted although health reported it unavailable
	Override bool
}

// Chain is the ordered list of providers to attempt for one request.
type Chain []Candidate

func (c Chain) IDs() []types.ProviderID {
	ids := make([]types.ProviderID, len(c))
	for i, cand := range c {
		ids[i] = cand.ProviderID
	}
	return ids
}
