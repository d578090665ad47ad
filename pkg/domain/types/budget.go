package types

import "github.com/m-mizutani/goerr/v2"

// BudgetPeriod is the window a budget cap applies to.
type BudgetPeriod string

const (
	BudgetPeriodDaily   BudgetPeriod = "daily"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
)

func (p BudgetPeriod) IsValid() bool {
	return p == BudgetPeriodDaily || p == BudgetPeriodMonthly
}

func (p BudgetPeriod) String() string {
	return string(p)
}

func ParseBudgetPeriod(s string) (BudgetPeriod, error) {
	p := BudgetPeriod(s)
	if !p.IsValid() {
		return "", goerr.New("invalid budget period", goerr.V("period", s))
	}
	return p, nil
}
