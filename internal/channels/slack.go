package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/time/rate"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/config"
)

// SlackChannel is a socket-mode Slack adapter.
type SlackChannel struct {
	BaseChannel
	cfg     config.SlackConfig
	api     *slack.Client
	socket  *socketmode.Client
	limiter *rate.Limiter
	cancel  context.CancelFunc
}

// NewSlackChannel creates a Slack adapter.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	perSec := cfg.SendRatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start connects in socket mode and begins forwarding events to the bus.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(c.cfg.BotToken) == "" || strings.TrimSpace(c.cfg.AppToken) == "" {
		return fmt.Errorf("slack: bot token and app token required")
	}

	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.socket = socketmode.New(c.api)

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("slack send failed", "room", msg.RoomID, "error", err)
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.runEvents(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts down the socket-mode listener.
func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts a message to a Slack channel, paced by the outbound limiter.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("slack: not started")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack: pacing wait: %w", err)
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.RoomID,
		slack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func (c *SlackChannel) runEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || ev.Type != slackevents.CallbackEvent {
					continue
				}
				switch in := ev.InnerEvent.Data.(type) {
				case *slackevents.MessageEvent:
					if in == nil || in.BotID != "" {
						continue
					}
					c.Bus.PublishInbound(c.toInbound(in))
				case *slackevents.AppMentionEvent:
					if in == nil {
						continue
					}
					c.Bus.PublishInbound(c.mentionToInbound(in))
				}
			}
		}
	}
}

// toInbound converts a Slack message event into the normalized shape.
func (c *SlackChannel) toInbound(in *slackevents.MessageEvent) *bus.InboundMessage {
	mentioned := false
	if botID := strings.TrimSpace(c.cfg.BotUserID); botID != "" {
		mentioned = strings.Contains(in.Text, "<@"+botID+">")
	}
	return &bus.InboundMessage{
		Channel:       c.Name(),
		RoomID:        in.Channel,
		SenderID:      in.User,
		Content:       in.Text,
		Timestamp:     slackTimestamp(in.TimeStamp),
		MentionsSelf:  mentioned,
		IsPrivateChat: in.ChannelType == "im",
		MediaOnly:     strings.TrimSpace(in.Text) == "" && in.SubType == "file_share",
	}
}

func (c *SlackChannel) mentionToInbound(in *slackevents.AppMentionEvent) *bus.InboundMessage {
	return &bus.InboundMessage{
		Channel:      c.Name(),
		RoomID:       in.Channel,
		SenderID:     in.User,
		Content:      in.Text,
		Timestamp:    slackTimestamp(in.TimeStamp),
		MentionsSelf: true,
	}
}

// slackTimestamp parses Slack's "seconds.fraction" message timestamps.
func slackTimestamp(ts string) time.Time {
	f, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
	if err != nil || f <= 0 {
		return time.Now()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
