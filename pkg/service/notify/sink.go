package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/service/slack"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	goslack "github.com/slack-go/slack"
)

// LogSink writes events to the structured log
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(ctx context.Context, ev *model.Event) error {
	attrs := []any{
		"kind", ev.Kind,
		"at", ev.At,
	}
	if ev.ProviderID != "" {
		attrs = append(attrs, "provider", ev.ProviderID)
	}
	if ev.Budget != nil {
		attrs = append(attrs,
			"period", ev.Budget.Scope.Period,
			"threshold", ev.Threshold,
			"spent_usd", ev.Budget.SpentUSD,
			"cap_usd", ev.Budget.CapUSD,
		)
	}
	logging.From(ctx).Info("notification: "+ev.Summary(), attrs...)
	return nil
}

// SlackSink posts events to one Slack channel
type SlackSink struct {
	svc       slack.Service
	channelID string
}

func NewSlackSink(svc slack.Service, channelID string) *SlackSink {
	return &SlackSink{svc: svc, channelID: channelID}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, ev *model.Event) error {
	summary := ev.Summary()
	_, err := s.svc.PostMessage(ctx, s.channelID, buildBlocks(ev), summary)
	return err
}

func buildBlocks(ev *model.Event) []goslack.Block {
	icon := ":information_source:"
	switch ev.Kind {
	case model.EventBudgetThreshold:
		icon = ":moneybag:"
	case model.EventProviderDown:
		icon = ":red_circle:"
	case model.EventProviderUp:
		icon = ":large_green_circle:"
	}

	text := slack.Truncate(fmt.Sprintf("%s %s", icon, ev.Summary()), slack.MaxSectionText)
	section := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
	footer := goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("`%s` at %s", ev.Kind, ev.At.UTC().Format(time.RFC3339)), false, false),
	)
	return []goslack.Block{section, footer}
}
