package telegram

import (
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
)

// replyInfo describes the message a Telegram message is replying to.
type replyInfo struct {
	IsBotReply bool
	Preview    string
}

// messageContext carries reply/forward/location context extracted from a
// Telegram message that enrichContentWithContext folds into the agent's view.
type messageContext struct {
	ReplyInfo   *replyInfo
	ForwardFrom string
	Location    string
}

// buildMessageContext extracts reply, forward, and location context from msg.
func buildMessageContext(msg *telego.Message, botUsername string) messageContext {
	var ctx messageContext

	if msg.ReplyToMessage != nil {
		reply := msg.ReplyToMessage
		isBotReply := reply.From != nil && botUsername != "" && reply.From.Username == botUsername
		preview := reply.Text
		if preview == "" {
			preview = reply.Caption
		}
		ctx.ReplyInfo = &replyInfo{IsBotReply: isBotReply, Preview: channelsTruncate(preview, 120)}
	}

	if msg.ForwardOrigin != nil {
		ctx.ForwardFrom = "forwarded message"
	}

	if msg.Location != nil {
		ctx.Location = fmt.Sprintf("lat=%.5f,lon=%.5f", msg.Location.Latitude, msg.Location.Longitude)
	}

	return ctx
}

// enrichContentWithContext prepends reply/forward/location annotations ahead
// of content so the agent sees the conversational context a human reader
// would infer from the Telegram UI.
func enrichContentWithContext(content string, ctx messageContext) string {
	var prefixes []string

	if ctx.ReplyInfo != nil && ctx.ReplyInfo.Preview != "" {
		who := "a previous message"
		if ctx.ReplyInfo.IsBotReply {
			who = "the bot's previous message"
		}
		prefixes = append(prefixes, fmt.Sprintf("[Replying to %s: %q]", who, ctx.ReplyInfo.Preview))
	}
	if ctx.ForwardFrom != "" {
		prefixes = append(prefixes, fmt.Sprintf("[%s]", ctx.ForwardFrom))
	}
	if ctx.Location != "" {
		prefixes = append(prefixes, fmt.Sprintf("[Shared location: %s]", ctx.Location))
	}

	if len(prefixes) == 0 {
		return content
	}
	return strings.Join(prefixes, "\n") + "\n" + content
}

func channelsTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
