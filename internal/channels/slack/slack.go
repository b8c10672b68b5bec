// Package slack implements the Slack channel plugin (spec §4.10) against
// the Slack Events API, delivered over a Socket Mode connection so the
// gateway needs no public inbound endpoint.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/relaycrew/gatewaycore/internal/channels"
	"github.com/relaycrew/gatewaycore/internal/config"
)

// Channel connects to Slack over Socket Mode and posts replies via the
// chat.postMessage / chat.update Web API, grounded on the PostMessage
// pattern in the retrieved slack-go reference client.
type Channel struct {
	*channels.BaseChannel
	api            *goslack.Client
	socket         *socketmode.Client
	config         config.SlackConfig
	botUserID      string
	placeholders   sync.Map // chatKey ("channel" or "channel:threadTS") → message ts
	groupHistory   *channels.PendingHistory
	historyLimit   int
	requireMention bool
	cancel         context.CancelFunc
	done           chan struct{}
}

// New creates a new Slack channel from config.
func New(cfg config.SlackConfig, dispatcher channels.Dispatcher) (*Channel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: bot_token and app_token are required")
	}

	api := goslack.New(cfg.BotToken, goslack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(api)

	base := channels.NewBaseChannel("slack", dispatcher, cfg.AllowFrom)

	historyLimit := cfg.HistoryLimit
	if historyLimit == 0 {
		historyLimit = channels.DefaultGroupHistoryLimit
	}

	return &Channel{
		BaseChannel:    base,
		api:            api,
		socket:         socket,
		config:         cfg,
		groupHistory:   channels.NewPendingHistory(),
		historyLimit:   historyLimit,
		requireMention: cfg.RequireMention,
	}, nil
}

// Start opens the Socket Mode connection and begins receiving events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting slack bot (socket mode)")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-c.socket.Events:
				if !ok {
					return
				}
				c.handleSocketEvent(runCtx, evt)
			}
		}
	}()

	go func() {
		if err := c.socket.RunContext(runCtx); err != nil {
			slog.Error("slack: socket mode run exited", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("slack bot connected", "user_id", c.botUserID)
	return nil
}

// Stop closes the Socket Mode connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping slack bot")
	c.SetRunning(false)

	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(10 * time.Second):
			slog.Warn("slack event loop did not exit within timeout")
		}
	}
	return nil
}

// Send delivers an outbound message, editing the "Thinking..." placeholder
// in place when one is pending for the chat, or posting a fresh message.
func (c *Channel) Send(ctx context.Context, msg channels.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack bot not running")
	}

	channel, threadTS := parseSlackChatKey(msg.ChatID)
	content := msg.Content

	// NO_REPLY cleanup: content is empty when the agent suppresses a reply.
	if content == "" {
		if ts, ok := c.placeholders.LoadAndDelete(msg.ChatID); ok {
			_, _, _, err := c.api.DeleteMessageContext(ctx, channel, ts.(string))
			return err
		}
		return nil
	}

	if ts, ok := c.placeholders.LoadAndDelete(msg.ChatID); ok {
		_, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts.(string), goslack.MsgOptionText(content, false))
		if err == nil {
			return nil
		}
		slog.Warn("slack: placeholder update failed, sending new message", "channel", channel, "error", err)
	}

	opts := []goslack.MsgOption{goslack.MsgOptionText(content, false)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	_, _, err := c.api.PostMessageContext(ctx, channel, opts...)
	return err
}

func (c *Channel) postPlaceholder(ctx context.Context, channel, threadTS string) (string, error) {
	opts := []goslack.MsgOption{goslack.MsgOptionText("Thinking...", false)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	return ts, err
}

// parseSlackChatKey splits a chat key of the form "channel" or
// "channel:threadTS" back into its Slack channel id and thread timestamp.
func parseSlackChatKey(key string) (channel, threadTS string) {
	if idx := strings.Index(key, ":"); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

// mentionsBot reports whether text contains a Slack user mention of botUserID.
func mentionsBot(text, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	return strings.Contains(text, "<@"+botUserID+">")
}
