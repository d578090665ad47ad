package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/cli/config"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdValidate() *cli.Command {
	var policyCfg config.Policy

	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the policy file",
		Flags:   policyCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			p, err := policyCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "policy validation failed")
			}

			logger.Info("Policy validation passed",
				"path", policyCfg.Path(),
				"provider_count", len(p.Providers),
				"classifier", p.Classifier.Kind,
			)
			for _, prov := range p.Providers {
				logger.Info("Provider validated",
					"id", prov.ID,
					"backend", prov.Backend,
					"model", prov.Model,
					"tier", prov.Tier,
					"paid", prov.Paid(),
				)
			}
			return nil
		},
	}
}
