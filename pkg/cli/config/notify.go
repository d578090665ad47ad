package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/service/notify"
	"github.com/secmon-lab/concierge/pkg/service/slack"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Notify configures where budget and health events are delivered. Events are
// always logged; Slack is added when a bot token is given.
type Notify struct {
	slackToken   string
	slackChannel string
}

func (x *Notify) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack bot token for notifications",
			Category:    "Notification",
			Sources:     cli.EnvVars("CONCIERGE_SLACK_BOT_TOKEN"),
			Destination: &x.slackToken,
		},
		&cli.StringFlag{
			Name:        "slack-channel-id",
			Usage:       "Slack channel ID notifications are posted to",
			Category:    "Notification",
			Sources:     cli.EnvVars("CONCIERGE_SLACK_CHANNEL_ID"),
			Destination: &x.slackChannel,
		},
	}
}

func (x *Notify) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("slack", x.slackToken != ""),
		slog.String("slack_channel_id", x.slackChannel),
	)
}

// Sinks builds the notification sinks
func (x *Notify) Sinks(ctx context.Context) ([]notify.Sink, error) {
	sinks := []notify.Sink{notify.LogSink{}}
	if x.slackToken == "" {
		return sinks, nil
	}
	if x.slackChannel == "" {
		return nil, goerr.Wrap(ErrInvalidConfig, "slack-channel-id is required with slack-bot-token")
	}

	svc, err := slack.New(x.slackToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Slack client")
	}
	team, err := svc.Verify(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to verify Slack bot token")
	}
	logging.Default().Info("Slack notifications enabled", "team", team, "channel_id", x.slackChannel)

	return append(sinks, notify.NewSlackSink(svc, x.slackChannel)), nil
}

// Configure creates the dispatcher. The caller starts and stops it.
func (x *Notify) Configure(ctx context.Context) (*notify.Dispatcher, error) {
	sinks, err := x.Sinks(ctx)
	if err != nil {
		return nil, err
	}
	return notify.NewDispatcher(sinks), nil
}
