package model

import (
	"fmt"
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type EventKind string

const (
	EventBudgetThreshold EventKind = "budget-threshold"
	EventProviderDown    EventKind = "provider-down"
	EventProviderUp      EventKind = "provider-up"
)

// Event is delivered to notification sinks on a best-effort basis.
type Event struct {
	Kind       EventKind
	At         time.Time
	ProviderID types.ProviderID
	Budget     *BudgetState
	Threshold  float64
	Detail     string
}

// Summary renders a single line description for chat or log sinks.
func (e *Event) Summary() string {
	switch e.Kind {
	case EventBudgetThreshold:
		if e.Budget == nil {
			return fmt.Sprintf("budget threshold %.0f%% crossed", e.Threshold)
		}
		return fmt.Sprintf("%s budget crossed %.0f%%: $%.4f of $%.2f (%.1f%%)",
			e.Budget.Scope.Period, e.Threshold, e.Budget.SpentUSD, e.Budget.CapUSD, e.Budget.PercentUsed)
	case EventProviderDown:
		return fmt.Sprintf("provider %s marked unavailable: %s", e.ProviderID, e.Detail)
	case EventProviderUp:
		return fmt.Sprintf("provider %s is available again", e.ProviderID)
	default:
		return string(e.Kind)
	}
}
