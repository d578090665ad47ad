package slack

import (
	"context"

	"github.com/slack-go/slack"
)

// Service is the subset of the Slack API used to deliver notifications
type Service interface {
	// PostMessage posts a Block Kit message to a channel and returns the message timestamp.
	// The text parameter is used as a fallback for notifications.
	PostMessage(ctx context.Context, channelID string, blocks []slack.Block, text string) (string, error)

	// Verify checks the bot token and returns the workspace name
	Verify(ctx context.Context) (string, error)
}
