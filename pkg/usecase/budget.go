package usecase

import (
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// BudgetUseCase reports spending against the configured caps
type BudgetUseCase struct {
	policies PolicySource
	ledger   BudgetView
}

func NewBudgetUseCase(policies PolicySource, ledger BudgetView) *BudgetUseCase {
	return &BudgetUseCase{policies: policies, ledger: ledger}
}

// Status returns the daily and monthly totals, one daily state per configured
// provider and then the remaining scoped caps.
func (uc *BudgetUseCase) Status() []model.BudgetState {
	policy := uc.policies.Current()
	states := []model.BudgetState{
		uc.ledger.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, policy.Budget),
		uc.ledger.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodMonthly}, policy.Budget),
	}
	for _, p := range policy.Providers {
		states = append(states, uc.ledger.CheckBudget(model.BudgetScope{
			Period:     types.BudgetPeriodDaily,
			ProviderID: p.ID,
		}, policy.Budget))
	}
	for _, c := range policy.Budget.Caps {
		if c.Period == types.BudgetPeriodDaily && c.ProviderID != "" && c.Task == "" {
			continue
		}
		states = append(states, uc.ledger.CheckBudget(model.BudgetScope{
			Period:     c.Period,
			ProviderID: c.ProviderID,
			Task:       model.TaskType(c.Task),
		}, policy.Budget))
	}
	return states
}
