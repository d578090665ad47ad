package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/urfave/cli/v3"
)

func cmdAsk() *cli.Command {
	var owner string
	var channel string
	var appCfg appConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner the request is made for",
			Required:    true,
			Sources:     cli.EnvVars("CONCIERGE_OWNER"),
			Destination: &owner,
		},
		&cli.StringFlag{
			Name:        "channel",
			Usage:       "Conversation channel for history",
			Value:       "cli",
			Sources:     cli.EnvVars("CONCIERGE_CHANNEL"),
			Destination: &channel,
		},
	}
	flags = append(flags, appCfg.Flags()...)

	return &cli.Command{
		Name:      "ask",
		Aliases:   []string{"a"},
		Usage:     "Send one message through the broker and print the answer",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return goerr.New("message is required")
			}

			a, err := appCfg.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.uc.Broker.Handle(ctx, &model.Request{
				Owner:   types.OwnerID(owner),
				Channel: types.ChannelRef(channel),
				Text:    text,
			})
			if err != nil {
				return goerr.Wrap(err, "request failed")
			}

			printResponse(os.Stdout, resp)
			return nil
		},
	}
}

func printResponse(w io.Writer, resp *model.Response) {
	meta := color.New(color.FgHiBlack)

	switch {
	case resp.Denial != nil:
		color.New(color.FgYellow).Fprintf(w, "denied (%s): %s\n", resp.Denial.Reason, resp.Denial.Message)
	case resp.Discarded:
		color.New(color.FgYellow).Fprintln(w, "request cancelled")
	case !resp.Success:
		color.New(color.FgRed).Fprintln(w, resp.Text)
	default:
		fmt.Fprintln(w, resp.Text)
	}

	d := resp.Decision
	if d.Intent != "" {
		meta.Fprintf(w, "intent=%s confidence=%.2f tier=%s", d.Intent, d.Confidence, d.PreferredTier)
		if d.Degraded {
			meta.Fprint(w, " degraded")
		}
		fmt.Fprintln(w)
	}
	if resp.Provider != "" {
		meta.Fprintf(w, "provider=%s elapsed=%s\n", resp.Provider, resp.Elapsed.Round(time.Millisecond))
	}
}
