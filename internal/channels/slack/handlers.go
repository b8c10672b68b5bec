package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/relaycrew/gatewaycore/internal/channels"
)

// handleSocketEvent dispatches one Socket Mode event.
func (c *Channel) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := eventsAPIEvent.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			c.handleMessageEvent(ctx, inner)
		case *slackevents.AppMentionEvent:
			c.handleAppMention(ctx, inner)
		}
	default:
		// Connection lifecycle events (hello, connecting, disconnect) need
		// no handling; socketmode.Client manages reconnects internally.
	}
}

// handleMessageEvent processes a plain "message" event. App mentions arrive
// as a separate AppMentionEvent and are handled by handleAppMention instead.
func (c *Channel) handleMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.User == "" || ev.User == c.botUserID {
		return
	}
	if ev.SubType != "" {
		// Edits, joins, file-shares etc. — not a new user message.
		return
	}

	isGroup := ev.ChannelType != "im"
	peerKind := "direct"
	if isGroup {
		peerKind = "group"
	}

	dmPolicy := channels.DMPolicy(c.config.DMPolicy)
	groupPolicy := channels.GroupPolicy(c.config.GroupPolicy)
	if !c.CheckPolicy(peerKind, dmPolicy, groupPolicy, ev.User) {
		slog.Debug("slack message rejected by policy", "user_id", ev.User, "peer_kind", peerKind)
		return
	}

	content := ev.Text
	if content == "" {
		content = "[empty message]"
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	chatKey := ev.Channel
	if threadTS != "" {
		chatKey = ev.Channel + ":" + threadTS
	}

	if isGroup && c.requireMention && !mentionsBot(content, c.botUserID) {
		c.groupHistory.Record(chatKey, channels.HistoryEntry{
			Sender: ev.User, Body: content, Timestamp: time.Now(), MessageID: ev.TimeStamp,
		}, c.historyLimit)
		return
	}

	c.dispatchMessage(ctx, ev.Channel, chatKey, ev.User, threadTS, content, isGroup, peerKind)
}

// handleAppMention processes an explicit @bot mention, which Slack always
// delivers regardless of the channel's mention-gating policy.
func (c *Channel) handleAppMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == "" || ev.User == c.botUserID {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	chatKey := ev.Channel
	if threadTS != "" {
		chatKey = ev.Channel + ":" + threadTS
	}

	content := ev.Text
	if content == "" {
		content = "[empty message]"
	}

	if !c.CheckPolicy("group", channels.DMPolicy(c.config.DMPolicy), channels.GroupPolicy(c.config.GroupPolicy), ev.User) {
		slog.Debug("slack mention rejected by policy", "user_id", ev.User)
		return
	}

	c.dispatchMessage(ctx, ev.Channel, chatKey, ev.User, threadTS, content, true, "group")
}

func (c *Channel) dispatchMessage(ctx context.Context, channel, chatKey, userID, threadTS, content string, isGroup bool, peerKind string) {
	slog.Debug("slack message received", "sender_id", userID, "channel", channel,
		"is_group", isGroup, "preview", channels.Truncate(content, 50))

	finalContent := content
	if isGroup {
		annotated := fmt.Sprintf("[From: %s]\n%s", userID, content)
		if c.historyLimit > 0 {
			finalContent = c.groupHistory.BuildContext(chatKey, annotated, c.historyLimit)
		} else {
			finalContent = annotated
		}
	}

	if ts, err := c.postPlaceholder(ctx, channel, threadTS); err == nil {
		c.placeholders.Store(chatKey, ts)
	} else {
		slog.Warn("slack: failed to post placeholder", "channel", channel, "error", err)
	}

	metadata := map[string]string{
		"channel":   channel,
		"thread_ts": threadTS,
	}

	c.HandleMessage(userID, chatKey, finalContent, nil, metadata, peerKind)

	if isGroup {
		c.groupHistory.Clear(chatKey)
	}
}
