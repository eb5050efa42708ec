package notify

import (
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// severityColors map event kinds to Slack attachment sidebar colors.
var severityColors = map[string]string{
	"escalation": "#e01e5a",
	"timeout":    "#ecb22e",
	"takeover":   "#36a64f",
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackSender posts alerts to a Slack channel.
type SlackSender struct {
	client  slackClient
	channel string
}

// NewSlackSender creates a SlackSender from a bot token and channel ID.
func NewSlackSender(token, channel string) (*SlackSender, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: slack token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	return &SlackSender{
		client:  slackapi.New(token),
		channel: channel,
	}, nil
}

// Send posts the event as an attachment with a severity color.
func (s *SlackSender) Send(event Event) error {
	color := severityColors[event.Kind]
	if color == "" {
		color = "#cccccc"
	}
	attachment := slackapi.Attachment{
		Color: color,
		Title: event.Title,
		Text:  event.Detail,
	}
	_, _, err := s.client.PostMessage(s.channel, slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}

// Name returns "slack".
func (s *SlackSender) Name() string { return "slack" }
