package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/secmon-lab/concierge/pkg/cli/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/urfave/cli/v3"
)

func cmdToken() *cli.Command {
	var authCfg config.Auth
	var owner string
	var ttl time.Duration

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner the token acts for",
			Required:    true,
			Destination: &owner,
		},
		&cli.DurationFlag{
			Name:        "ttl",
			Usage:       "Token lifetime",
			Value:       30 * 24 * time.Hour,
			Destination: &ttl,
		},
	}
	flags = append(flags, authCfg.Flags()...)

	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			issuer, err := authCfg.Issuer()
			if err != nil {
				return err
			}
			token, err := issuer.Issue(types.OwnerID(owner), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
