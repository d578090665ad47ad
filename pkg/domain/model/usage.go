package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// UsageID is a ULID so ledger entries sort by creation time.
type UsageID string

func NewUsageID(t time.Time) UsageID {
	return UsageID(ulid.MustNew(ulid.Timestamp(t), rand.Reader).String())
}

// TaskType of a usage entry: either an intent or one of the internal tasks.
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskEmbedding      TaskType = "embedding"
)

// UsageRecord is an immutable ledger entry for one provider turn.
type UsageRecord struct {
	ID         UsageID
	Timestamp  time.Time
	Owner      types.OwnerID
	ProviderID types.ProviderID
	Task       TaskType
	TokensIn   int
	TokensOut  int
	CostUSD    float64
	Success    bool
	// Attempts is the number of dispatches made to the provider in this turn
	Attempts int
}

// BudgetScope selects which ledger entries count toward a cap. Empty filters match all.
type BudgetScope struct {
	Period     types.BudgetPeriod
	ProviderID types.ProviderID
	Task       TaskType
}

// BudgetState is derived from the ledger on every check and never stored.
type BudgetState struct {
	Scope       BudgetScope
	SpentUSD    float64
	CapUSD      float64
	PercentUsed float64
	WithinLimit bool
	WindowStart time.Time
}

// EstimateTokens approximates token count at four bytes per token. It is
// only used when a backend does not report usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
