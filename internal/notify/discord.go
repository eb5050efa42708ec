package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo methods we use.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// embedColors map event kinds to Discord embed colors.
var embedColors = map[string]int{
	"escalation": 0xe01e5a,
	"timeout":    0xecb22e,
	"takeover":   0x36a64f,
}

// DiscordSender posts alerts to a Discord channel via a bot session.
type DiscordSender struct {
	session discordSession
	channel string
}

// NewDiscordSender creates a DiscordSender from a bot token and channel ID.
func NewDiscordSender(token, channel string) (*DiscordSender, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: discord token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordSender{session: dg, channel: channel}, nil
}

// Send posts the event as an embed.
func (d *DiscordSender) Send(event Event) error {
	color := embedColors[event.Kind]
	if color == 0 {
		color = 0xcccccc
	}
	_, err := d.session.ChannelMessageSendEmbed(d.channel, &discordgo.MessageEmbed{
		Title:       event.Title,
		Description: event.Detail,
		Color:       color,
	})
	if err != nil {
		return fmt.Errorf("notify: discord post: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
