package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/config"
	"github.com/yclin-dev/medremind/pkg/logger"
)

const sendTimeout = 10 * time.Second

// DiscordChannel adapts the reminder dialog to Discord. Discord has no
// native date picker, so date prompts are rendered as instructions to
// type an ISO date and menus as option lists.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	content := renderDiscordText(msg)
	if content == "" {
		return nil
	}

	return c.sendText(ctx, channelID, content)
}

// Notify pushes a reminder into a DM channel with the user.
func (c *DiscordChannel) Notify(ctx context.Context, userID, text string) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	dm, err := c.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}

	return c.sendText(ctx, dm.ID, text)
}

func renderDiscordText(msg bus.OutboundMessage) string {
	text := msg.Text
	if text == "" {
		text = msg.AltText
	}
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(text)

	switch {
	case msg.DatePicker != nil:
		b.WriteString("\n請直接輸入日期（YYYY-MM-DD）")
	case len(msg.Menu) > 0:
		for _, item := range msg.Menu {
			b.WriteString("\n- ")
			b.WriteString(item.Text)
		}
	}

	return b.String()
}

func (c *DiscordChannel) sendText(ctx context.Context, channelID, content string) error {
	// Discord caps messages at 2000 characters.
	runes := []rune(content)
	if len(runes) > 2000 {
		content = string(runes[:1997]) + "..."
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}

	if m.Author.ID == s.State.User.ID {
		return
	}

	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"user_id":    m.Author.ID,
		"channel_id": m.ChannelID,
	})

	c.PublishEvent(bus.InboundEvent{
		UserID: m.Author.ID,
		ChatID: m.ChannelID,
		Kind:   bus.EventText,
		Text:   content,
	})
}
