// Package discord delivers monitor notifications to a Discord channel.
//
// Only the REST API is used; no gateway connection is opened.
package discord

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/pfrederiksen/web-monitor/internal/logger"
)

// maxMessageLength is Discord's limit for message content.
const maxMessageLength = 2000

// Notifier posts messages to one channel with a bot token
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

// New creates a Discord notifier. The token is verified by fetching the
// bot's own user.
func New(token, channelID string) (*Notifier, error) {
	return newWithSession(token, channelID, nil)
}

func newWithSession(token, channelID string, configure func(*discordgo.Session)) (*Notifier, error) {
	token = strings.TrimSpace(token)
	channelID = strings.TrimSpace(channelID)

	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("channel ID is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if configure != nil {
		configure(session)
	}

	me, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("verifying bot token: %w", err)
	}

	logger.Info("Discord bot authorized", logger.Fields{
		"bot":     me.Username,
		"channel": channelID,
	})

	return &Notifier{session: session, channelID: channelID}, nil
}

// Send posts text to the channel. The HTML markup used for Telegram is
// converted to Discord markdown first.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("message text is required")
	}

	content := ToMarkdown(text)
	if r := []rune(content); len(r) > maxMessageLength {
		content = string(r[:maxMessageLength])
	}

	if _, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	return nil
}

// Name returns "discord".
func (n *Notifier) Name() string {
	return "discord"
}

var (
	markdownReplacer = strings.NewReplacer(
		"<b>", "**", "</b>", "**",
		"<i>", "*", "</i>", "*",
		"<code>", "`", "</code>", "`",
	)
	remainingTags = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// ToMarkdown converts the small HTML subset used in notifications into
// Discord markdown and decodes HTML entities.
func ToMarkdown(text string) string {
	out := markdownReplacer.Replace(text)
	out = remainingTags.ReplaceAllString(out, "")
	return html.UnescapeString(out)
}
