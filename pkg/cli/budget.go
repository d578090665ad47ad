package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/cli/config"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/service/budget"
	"github.com/secmon-lab/concierge/pkg/service/policy"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdBudget() *cli.Command {
	var policyCfg config.Policy
	var repoCfg config.Repository

	var flags []cli.Flag
	flags = append(flags, policyCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "budget",
		Aliases: []string{"b"},
		Usage:   "Print spending against the configured budget caps",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			p, err := policyCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load policy")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			ledger := budget.New(repo.Usage())
			if err := ledger.Load(ctx, p.Budget); err != nil {
				return goerr.Wrap(err, "failed to load budget ledger")
			}

			printBudget(os.Stdout, usecase.NewBudgetUseCase(policy.NewStore(p), ledger).Status())
			return nil
		},
	}
}

func printBudget(w io.Writer, states []model.BudgetState) {
	for _, st := range states {
		scope := st.Scope.Period.String()
		if st.Scope.ProviderID != "" {
			scope += "/" + st.Scope.ProviderID.String()
		}

		line := fmt.Sprintf("%-24s $%.4f", scope, st.SpentUSD)
		if st.CapUSD > 0 {
			line += fmt.Sprintf(" / $%.2f (%.1f%%)", st.CapUSD, st.PercentUsed)
		} else {
			line += " (no cap)"
		}

		c := color.New(color.FgGreen)
		switch {
		case !st.WithinLimit:
			c = color.New(color.FgRed)
		case st.PercentUsed >= 80:
			c = color.New(color.FgYellow)
		}
		c.Fprintln(w, line)
	}
}
