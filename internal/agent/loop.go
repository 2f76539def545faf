// Package agent implements the arbitration runtime: it consumes inbound
// messages, runs the decision chain, and governs what actually gets sent.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/clock"
	"github.com/chorusbot/chorus/internal/dedupe"
	"github.com/chorusbot/chorus/internal/interest"
	"github.com/chorusbot/chorus/internal/policy"
	"github.com/chorusbot/chorus/internal/provider"
	"github.com/chorusbot/chorus/internal/queue"
	"github.com/chorusbot/chorus/internal/ratelimit"
	"github.com/chorusbot/chorus/internal/team"
)

const responseSystemPrompt = `You are %s, one agent in a chat room. Reply to the
newest message concisely, in plain text, staying consistent with the
conversation so far.`

// DecisionRecorder receives arbitration outcomes for observability.
// Implementations must never influence the decision itself.
type DecisionRecorder interface {
	PublishDecision(ctx context.Context, d team.DecisionPayload) error
}

// LoopOptions contains the collaborators for the arbitration loop.
type LoopOptions struct {
	Bus         *bus.MessageBus
	Provider    provider.LLMProvider
	Tracker     *interest.Tracker
	Coordinator *team.Coordinator
	Policy      *policy.Engine
	RateLimiter *ratelimit.Limiter
	Queue       *queue.Queue
	Dedupe      *dedupe.Deduplicator
	Clock       clock.Clock
	Recorder    DecisionRecorder

	SelfID        string
	SelfName      string
	EmbeddingDims int
	// DrainInterval is how often the queue drain tick runs.
	DrainInterval time.Duration
}

// Loop is the arbitration engine. Inbound events are handled strictly in
// arrival order within this process; there is no intra-process concurrent
// mutation of a room's state.
type Loop struct {
	opts LoopOptions
}

// NewLoop creates the arbitration loop.
func NewLoop(opts LoopOptions) *Loop {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = time.Second
	}
	return &Loop{opts: opts}
}

// Run consumes inbound messages until the context is cancelled. It also
// starts the queue drain tick and the priority bypass consumer.
func (l *Loop) Run(ctx context.Context) error {
	l.startDrain(ctx)
	go l.consumePriority(ctx)

	for {
		msg, err := l.opts.Bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		l.HandleInbound(ctx, msg)
	}
}

// HandleInbound runs the full decision chain for one message.
func (l *Loop) HandleInbound(ctx context.Context, msg *bus.InboundMessage) {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}

	st := l.opts.Tracker.Touch(msg.RoomID, interest.Message{
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	})

	decision := l.opts.Policy.Decide(ctx, msg, st)
	l.record(ctx, msg, decision)
	slog.Debug("arbitration decision",
		"room", msg.RoomID, "trace_id", msg.TraceID,
		"action", decision.Action, "reason", decision.Reason)

	switch decision.Action {
	case policy.ActionStop:
		// Stop engaging: forget the room entirely.
		l.opts.Tracker.Drop(msg.RoomID)
		return
	case policy.ActionIgnore:
		return
	}

	if decision.Delay > 0 {
		// Scheduled continuation; nothing blocks.
		msgCopy := *msg
		l.opts.Clock.AfterFunc(decision.Delay, func() {
			l.respond(ctx, &msgCopy, decision)
		})
		return
	}
	l.respond(ctx, msg, decision)
}

// respond re-validates ownership at emit time, then generates, dedupes, rate
// gates, and queues or sends the reply. Interest and ownership can be
// invalidated between decision and emission, so every check reruns here.
func (l *Loop) respond(ctx context.Context, msg *bus.InboundMessage, decision policy.Decision) {
	if !l.opts.Tracker.IsInterested(msg.RoomID) {
		slog.Debug("interest decayed before emit", "room", msg.RoomID, "trace_id", msg.TraceID)
		return
	}
	st, ok := l.opts.Tracker.Get(msg.RoomID)
	if !ok {
		return
	}
	if st.CurrentHandlerID != l.opts.SelfID {
		// Relinquished or handed off between decision and emit.
		slog.Debug("room handed off before emit",
			"room", msg.RoomID, "handler", st.CurrentHandlerID)
		return
	}

	if decision.RecheckLeader && l.opts.Coordinator != nil {
		if !l.opts.Coordinator.ShouldRespondAfterBackoff(st) {
			slog.Debug("leader already responded, standing down",
				"room", msg.RoomID, "trace_id", msg.TraceID)
			return
		}
	}

	if l.opts.RateLimiter != nil {
		if !l.opts.RateLimiter.CanRequest(msg.RoomID) {
			slog.Debug("rate limited",
				"room", msg.RoomID,
				"wait", l.opts.RateLimiter.TimeUntilNext(msg.RoomID))
			return
		}
	}

	content, err := l.generate(ctx, msg, st)
	if err != nil {
		slog.Error("content generation failed",
			"room", msg.RoomID, "trace_id", msg.TraceID, "error", err)
		return
	}
	if content == "" {
		return
	}

	embedding := l.embed(ctx, content)
	if l.opts.Dedupe != nil && embedding != nil {
		// The room's own threshold wins; zero falls back to the dedup config.
		if l.opts.Dedupe.IsDuplicate(ctx, msg.RoomID, embedding, float32(st.SimilarityThreshold)) {
			slog.Info("near-duplicate reply suppressed",
				"room", msg.RoomID, "trace_id", msg.TraceID)
			return
		}
		if err := l.opts.Dedupe.Remember(ctx, uuid.NewString(), msg.RoomID, content, embedding); err != nil {
			slog.Warn("dedup store write failed", "room", msg.RoomID, "error", err)
		}
	}

	if l.opts.RateLimiter != nil {
		l.opts.RateLimiter.Record(msg.RoomID)
	}

	out := &bus.OutboundMessage{
		Channel: msg.Channel,
		RoomID:  msg.RoomID,
		TraceID: msg.TraceID,
		Content: content,
	}

	if l.opts.Queue != nil {
		dims := 0
		if embedding != nil {
			dims = len(embedding)
		}
		res := l.opts.Queue.Enqueue(&queue.Item{
			Payload:       out,
			Text:          content,
			EmbeddingDims: dims,
			Priority:      msg.MentionsSelf,
		})
		if !res.Accepted {
			slog.Warn("outbound dropped by queue", "room", msg.RoomID, "trace_id", msg.TraceID)
			return
		}
		if !res.Bypassed {
			// Queued; the drain tick will send it.
			l.noteOwnSend(msg.RoomID)
			return
		}
		// Bypassed items are emitted by the priority consumer.
		l.noteOwnSend(msg.RoomID)
		return
	}

	l.opts.Bus.PublishOutbound(out)
	l.noteOwnSend(msg.RoomID)
}

func (l *Loop) generate(ctx context.Context, msg *bus.InboundMessage, st *interest.RoomState) (string, error) {
	req := &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: fmt.Sprintf(responseSystemPrompt, l.opts.SelfName)},
			{Role: "user", Content: buildTranscript(st.Window, msg)},
		},
		MaxTokens:   512,
		Temperature: 0.7,
	}
	resp, err := l.opts.Provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Content, nil
}

// embed returns nil on failure: dedup fails open rather than blocking sends.
func (l *Loop) embed(ctx context.Context, content string) []float32 {
	if l.opts.Provider == nil {
		return nil
	}
	vec, err := l.opts.Provider.Embed(ctx, content)
	if err != nil {
		slog.Warn("embedding unavailable, skipping dedup", "error", err)
		return nil
	}
	return vec
}

// noteOwnSend records the agent's own message in the room window so cadence
// dampening can count it.
func (l *Loop) noteOwnSend(roomID string) {
	l.opts.Tracker.Touch(roomID, interest.Message{
		SenderID:   l.opts.SelfID,
		SenderName: l.opts.SelfName,
		Timestamp:  l.opts.Clock.Now(),
	})
}

func (l *Loop) record(ctx context.Context, msg *bus.InboundMessage, d policy.Decision) {
	if l.opts.Recorder == nil {
		return
	}
	_ = l.opts.Recorder.PublishDecision(ctx, team.DecisionPayload{
		RoomID:  msg.RoomID,
		TraceID: msg.TraceID,
		Action:  string(d.Action),
		Reason:  d.Reason,
		Owner:   d.OwnerAgentID == l.opts.SelfID,
	})
}

func (l *Loop) startDrain(ctx context.Context) {
	if l.opts.Queue == nil {
		return
	}
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		if item, ok := l.opts.Queue.DequeueIfDue(); ok {
			if out, ok := item.Payload.(*bus.OutboundMessage); ok {
				l.opts.Bus.PublishOutbound(out)
			}
		}
		l.opts.Clock.AfterFunc(l.opts.DrainInterval, tick)
	}
	l.opts.Clock.AfterFunc(l.opts.DrainInterval, tick)
}

func (l *Loop) consumePriority(ctx context.Context) {
	if l.opts.Queue == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-l.opts.Queue.PriorityLane():
			if out, ok := item.Payload.(*bus.OutboundMessage); ok {
				l.opts.Bus.PublishOutbound(out)
			}
		}
	}
}
