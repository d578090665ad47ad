package config

import (
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// Policy is the runtime routing and admission policy. A Policy value is
// treated as immutable once published; reloads replace the whole value.
type Policy struct {
	Routing    Routing
	Classifier Classifier
	Providers  []Provider
	Budget     Budget
	RateLimit  RateLimit
	Retry      Retry
	Health     Health
	Context    Context
	Sanitizer  Sanitizer
}

// Routing maps classified intents to preferred tiers
type Routing struct {
	MinConfidence     float64
	LowConfidenceTier types.Tier
	DefaultTier       types.Tier
	IntentTiers       map[types.Intent]types.Tier
}

// TierFor returns the preferred tier for an intent, falling back to
// LowConfidenceTier when confidence is below MinConfidence.
func (r Routing) TierFor(intent types.Intent, confidence float64) types.Tier {
	if confidence < r.MinConfidence && r.LowConfidenceTier != "" {
		return r.LowConfidenceTier
	}
	if tier, ok := r.IntentTiers[intent]; ok {
		return tier
	}
	return r.DefaultTier
}

const (
	ClassifierLLM       = "llm"
	ClassifierHeuristic = "heuristic"
)

type Classifier struct {
	Kind       string
	ProviderID types.ProviderID
	Timeout    time.Duration
}

// Provider is one configured generation backend
type Provider struct {
	ID              types.ProviderID
	Backend         string
	Model           string
	Tier            types.Tier
	InputCostPer1K  float64
	OutputCostPer1K float64
	// ChargeOnFailure records the reported partial cost of failed calls
	ChargeOnFailure bool
	Timeout         time.Duration
}

// Paid reports whether the provider has any configured cost.
func (p Provider) Paid() bool {
	return p.InputCostPer1K > 0 || p.OutputCostPer1K > 0
}

// Cost computes USD cost for token counts
func (p Provider) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*p.InputCostPer1K + float64(tokensOut)/1000*p.OutputCostPer1K
}

type Budget struct {
	DailyCapUSD   float64
	MonthlyCapUSD float64
	// Thresholds are percentages that trigger notifications when crossed
	Thresholds []float64
	// HardStopPercent makes the executor skip paid providers at or above it. Zero disables.
	HardStopPercent float64
	Location        *time.Location
	// Caps limit the spend of one provider or task type within a period
	Caps []ScopedCap
}

// ScopedCap is a cap on the entries matching ProviderID and Task. An empty
// filter matches every entry.
type ScopedCap struct {
	Period     types.BudgetPeriod
	ProviderID types.ProviderID
	Task       string
	CapUSD     float64
}

// Cap returns the cap of the period. Zero or less means unlimited.
func (b Budget) Cap(period types.BudgetPeriod) float64 {
	switch period {
	case types.BudgetPeriodDaily:
		return b.DailyCapUSD
	case types.BudgetPeriodMonthly:
		return b.MonthlyCapUSD
	default:
		return 0
	}
}

// CapFor returns the cap of a scope. Unfiltered scopes use the global cap of
// the period; filtered ones use the matching scoped cap or are unlimited.
func (b Budget) CapFor(period types.BudgetPeriod, providerID types.ProviderID, task string) float64 {
	if providerID == "" && task == "" {
		return b.Cap(period)
	}
	for _, c := range b.Caps {
		if c.Period == period && c.ProviderID == providerID && c.Task == task {
			return c.CapUSD
		}
	}
	return 0
}

type RateLimit struct {
	MaxRequests     int
	Window          time.Duration
	WarningCooldown time.Duration
}

type Retry struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

type Health struct {
	FailureThreshold int
	Cooldown         time.Duration
	ProbeInterval    time.Duration
}

type Context struct {
	TopK           int
	MaxTopK        int
	HistoryLimit   int
	MaxPromptChars int
	AutoRemember   bool
	Timeout        time.Duration
}

type Sanitizer struct {
	BracketDensity     float64
	MinDensityLength   int
	RoleMarkerLimit    int
	NormalizationDelta float64
}

// Provider looks up a provider by ID
func (p *Policy) Provider(id types.ProviderID) (Provider, bool) {
	for _, prov := range p.Providers {
		if prov.ID == id {
			return prov, true
		}
	}
	return Provider{}, false
}

// Default returns the policy used when no file is given and as the base
// that file values override.
func Default() *Policy {
	return &Policy{
		Routing: Routing{
			MinConfidence:     0.7,
			LowConfidenceTier: types.TierBalanced,
			DefaultTier:       types.TierBalanced,
			IntentTiers: map[types.Intent]types.Tier{
				types.IntentSimpleQuery:  types.TierFast,
				types.IntentComplexTask:  types.TierQuality,
				types.IntentMemoryStore:  types.TierFast,
				types.IntentMemoryRecall: types.TierBalanced,
				types.IntentOther:        types.TierBalanced,
			},
		},
		Classifier: Classifier{
			Kind:    ClassifierHeuristic,
			Timeout: 10 * time.Second,
		},
		Budget: Budget{
			Thresholds: []float64{80, 100},
			Location:   time.UTC,
		},
		RateLimit: RateLimit{
			MaxRequests:     10,
			Window:          60 * time.Second,
			WarningCooldown: 30 * time.Second,
		},
		Retry: Retry{
			MaxRetries:     2,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       10 * time.Second,
			AttemptTimeout: 60 * time.Second,
		},
		Health: Health{
			FailureThreshold: 3,
			Cooldown:         5 * time.Minute,
			ProbeInterval:    30 * time.Second,
		},
		Context: Context{
			TopK:           5,
			MaxTopK:        20,
			HistoryLimit:   10,
			MaxPromptChars: 24000,
			AutoRemember:   true,
			Timeout:        15 * time.Second,
		},
		Sanitizer: Sanitizer{
			BracketDensity:     0.15,
			MinDensityLength:   40,
			RoleMarkerLimit:    2,
			NormalizationDelta: 0.10,
		},
	}
}
