package channels

import (
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/config"
)

func newTestSlack() *SlackChannel {
	cfg := config.SlackConfig{
		Enabled:   true,
		BotUserID: "U0BOT",
	}
	return NewSlackChannel(cfg, bus.NewMessageBus())
}

func TestToInboundMention(t *testing.T) {
	c := newTestSlack()

	msg := c.toInbound(&slackevents.MessageEvent{
		Channel:     "C123",
		ChannelType: "channel",
		User:        "U456",
		Text:        "hey <@U0BOT> can you check this",
		TimeStamp:   "1700000000.000100",
	})

	if msg.RoomID != "C123" || msg.SenderID != "U456" {
		t.Errorf("bad identity mapping: %+v", msg)
	}
	if !msg.MentionsSelf {
		t.Error("expected mention detected")
	}
	if msg.IsPrivateChat {
		t.Error("channel message must not be private")
	}
	if msg.Timestamp.Unix() != 1700000000 {
		t.Errorf("bad timestamp %v", msg.Timestamp)
	}
}

func TestToInboundPrivateChat(t *testing.T) {
	c := newTestSlack()

	msg := c.toInbound(&slackevents.MessageEvent{
		Channel:     "D999",
		ChannelType: "im",
		User:        "U456",
		Text:        "hello",
	})

	if !msg.IsPrivateChat {
		t.Error("im channel type must map to private chat")
	}
	if msg.MentionsSelf {
		t.Error("no mention in text")
	}
}

func TestToInboundMediaOnly(t *testing.T) {
	c := newTestSlack()

	msg := c.toInbound(&slackevents.MessageEvent{
		Channel:     "C123",
		ChannelType: "channel",
		User:        "U456",
		SubType:     "file_share",
		Text:        "  ",
	})

	if !msg.MediaOnly {
		t.Error("file share without text must be media-only")
	}
}

func TestAppMentionAlwaysMentionsSelf(t *testing.T) {
	c := newTestSlack()

	msg := c.mentionToInbound(&slackevents.AppMentionEvent{
		Channel:   "C123",
		User:      "U456",
		Text:      "<@U0BOT> ping",
		TimeStamp: "1700000123.5",
	})
	if !msg.MentionsSelf {
		t.Error("app mention event must set MentionsSelf")
	}
}

func TestSlackTimestampFallback(t *testing.T) {
	before := time.Now()
	got := slackTimestamp("garbage")
	if got.Before(before.Add(-time.Minute)) {
		t.Error("unparseable timestamp must fall back to now")
	}
}
