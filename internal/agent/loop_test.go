package agent

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/clock"
	"github.com/chorusbot/chorus/internal/dedupe"
	"github.com/chorusbot/chorus/internal/interest"
	"github.com/chorusbot/chorus/internal/policy"
	"github.com/chorusbot/chorus/internal/provider"
	"github.com/chorusbot/chorus/internal/queue"
	"github.com/chorusbot/chorus/internal/ratelimit"
	"github.com/chorusbot/chorus/internal/team"
	"github.com/chorusbot/chorus/internal/vector"
)

type fakeLLM struct {
	reply     string
	embedding []float32
	embedErr  error
	chatCalls int
}

func (f *fakeLLM) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.chatCalls++
	return &provider.ChatResponse{Content: f.reply}, nil
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedding, nil
}

func (f *fakeLLM) DefaultModel() string { return "fake" }

type loopFixture struct {
	loop    *Loop
	bus     *bus.MessageBus
	clk     *clock.Fake
	tracker *interest.Tracker
	store   *interest.Store
	coord   *team.Coordinator
	llm     *fakeLLM
}

func newFixture(t *testing.T, mutate func(*LoopOptions)) *loopFixture {
	t.Helper()

	fc := clock.NewFake(time.Unix(10000, 0))
	store := interest.NewStore()
	tracker := interest.NewTracker(interest.DefaultConfig(), store, fc, "agent-a", nil)

	teamCfg := team.DefaultConfig("agent-a", "alpha")
	teamCfg.IsLeader = false
	teamCfg.LeaderID = "agent-lead"
	teamCfg.Members = []team.Member{
		{ID: "agent-lead", Name: "lead"},
		{ID: "agent-a", Name: "alpha", Keywords: []string{"deploy"}},
	}
	teamCfg.CoordinationKeywords = []string{"everyone"}
	coord := team.NewCoordinator(teamCfg, fc).WithRand(func() float64 { return 0.5 })

	llm := &fakeLLM{reply: "sure, on it", embedding: []float32{1, 0, 0}}
	b := bus.NewMessageBus()

	opts := LoopOptions{
		Bus:         b,
		Provider:    llm,
		Tracker:     tracker,
		Coordinator: coord,
		Policy:      policy.New(policy.DefaultConfig(), "agent-a", coord, nil).WithRand(func() float64 { return 0.5 }),
		RateLimiter: ratelimit.New(5*time.Second, fc),
		Clock:       fc,
		SelfID:      "agent-a",
		SelfName:    "alpha",
	}
	if mutate != nil {
		mutate(&opts)
	}

	return &loopFixture{
		loop:    NewLoop(opts),
		bus:     b,
		clk:     fc,
		tracker: tracker,
		store:   store,
		coord:   coord,
		llm:     llm,
	}
}

func TestMentionProducesImmediateReply(t *testing.T) {
	f := newFixture(t, nil)

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		Channel: "slack", RoomID: "r1", SenderID: "u1", Content: "hey", MentionsSelf: true,
	})

	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected 1 outbound, got %d", f.bus.OutboundSize())
	}

	// The agent's own send is recorded in the window for cadence counting.
	st, _ := f.tracker.Get("r1")
	if st.CountSentBy("agent-a", 0) != 1 {
		t.Error("own send must be recorded in the room window")
	}
}

func TestRateLimiterBlocksRapidReplies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u1", Content: "hi", MentionsSelf: true})
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u1", Content: "hi again", MentionsSelf: true})

	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected second reply rate limited, got %d outbound", f.bus.OutboundSize())
	}

	f.clk.Advance(6 * time.Second)
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u1", Content: "still there?", MentionsSelf: true})
	if f.bus.OutboundSize() != 2 {
		t.Fatalf("expected reply after window, got %d outbound", f.bus.OutboundSize())
	}
}

func TestCoordinationBackoffStandsDownAfterLeaderPost(t *testing.T) {
	f := newFixture(t, nil)
	f.coord.WithRand(func() float64 { return 0.9 })

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "everyone: status report please",
	})
	if f.bus.OutboundSize() != 0 {
		t.Fatal("non-leader must not reply before its backoff")
	}

	// The leader's reply lands while we are backing off.
	f.tracker.Touch("r1", interest.Message{SenderID: "agent-lead", Content: "all green", Timestamp: f.clk.Now()})

	f.clk.Advance(5 * time.Second)
	if f.bus.OutboundSize() != 0 {
		t.Error("non-leader must stand down after observing the leader's reply")
	}
}

func TestCoordinationBackoffProceedsWithoutLeaderPost(t *testing.T) {
	f := newFixture(t, nil)

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "everyone: status report please",
	})

	f.clk.Advance(5 * time.Second)
	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected reply after uncontested backoff, got %d", f.bus.OutboundSize())
	}
}

func TestCoordinationRequestRepliesAfterRelinquish(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Another member is addressed first, clearing our handler binding.
	f.loop.HandleInbound(ctx, &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "lead can you take this?",
	})
	if f.bus.OutboundSize() != 0 {
		t.Fatal("relinquished room must not produce a reply")
	}

	// A team-wide request must still be answered after an uncontested
	// backoff; the earlier relinquish does not mute the room.
	f.loop.HandleInbound(ctx, &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "everyone: status report please",
	})
	f.clk.Advance(5 * time.Second)
	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected reply to coordination request after relinquish, got %d", f.bus.OutboundSize())
	}
}

func TestHandoffBeforeEmitCancelsReply(t *testing.T) {
	f := newFixture(t, nil)

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "everyone: report",
	})

	// Another member is addressed during the backoff; the handler binding
	// moves away from us.
	st, _ := f.tracker.Get("r1")
	st.CurrentHandlerID = "agent-lead"

	f.clk.Advance(5 * time.Second)
	if f.bus.OutboundSize() != 0 {
		t.Error("reply must be cancelled when ownership moved before emit")
	}
}

func TestStopVerdictDropsRoom(t *testing.T) {
	f := newFixture(t, func(opts *LoopOptions) {
		cls := &stopClassifier{}
		opts.Policy = policy.New(policy.DefaultConfig(), "agent-a", opts.Coordinator, cls)
	})

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "totally unrelated chatter",
	})

	if f.store.Len() != 0 {
		t.Error("STOP must drop the room state")
	}
	if f.bus.OutboundSize() != 0 {
		t.Error("STOP must not produce output")
	}
}

type stopClassifier struct{}

func (stopClassifier) ClassifyResponse(context.Context, *bus.InboundMessage, []interest.Message) (string, error) {
	return "STOP", nil
}

func TestDuplicateReplySuppressed(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	vstore := vector.NewSQLiteStore(db, 3)
	if err := vstore.InitSchema(context.Background()); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, func(opts *LoopOptions) {
		opts.RateLimiter = nil
		opts.Dedupe = dedupe.New(dedupe.DefaultConfig(), vstore, opts.Clock)
	})

	ctx := context.Background()
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u1", Content: "hi", MentionsSelf: true})
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u2", Content: "hi", MentionsSelf: true})

	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected near-identical second reply suppressed, got %d", f.bus.OutboundSize())
	}

	// Past the dedup window the same content is allowed again.
	f.clk.Advance(11 * time.Second)
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u3", Content: "hi", MentionsSelf: true})
	if f.bus.OutboundSize() != 2 {
		t.Fatalf("expected reply after dedup window, got %d", f.bus.OutboundSize())
	}
}

func TestRoomSimilarityThresholdGovernsDedup(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	vstore := vector.NewSQLiteStore(db, 3)
	if err := vstore.InitSchema(context.Background()); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, func(opts *LoopOptions) {
		opts.RateLimiter = nil
		opts.Dedupe = dedupe.New(dedupe.DefaultConfig(), vstore, opts.Clock)
	})

	ctx := context.Background()
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u1", Content: "hi", MentionsSelf: true})
	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected first reply, got %d", f.bus.OutboundSize())
	}

	// Second reply embeds at ~0.89 similarity: suppressed under the room's
	// seeded 0.8 threshold.
	f.llm.embedding = []float32{0.9, 0.45, 0}
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u2", Content: "hi", MentionsSelf: true})
	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected near-duplicate suppressed at room threshold 0.8, got %d", f.bus.OutboundSize())
	}

	// Tightening the room's threshold lets the same similarity through.
	st, _ := f.tracker.Get("r1")
	st.SimilarityThreshold = 0.95
	f.loop.HandleInbound(ctx, &bus.InboundMessage{RoomID: "r1", SenderID: "u3", Content: "hi", MentionsSelf: true})
	if f.bus.OutboundSize() != 2 {
		t.Fatalf("expected reply under stricter room threshold, got %d", f.bus.OutboundSize())
	}
}

func TestEmbeddingFailureFailsOpen(t *testing.T) {
	f := newFixture(t, func(opts *LoopOptions) {
		opts.Dedupe = dedupe.New(dedupe.DefaultConfig(), failingVectorStore{}, opts.Clock)
	})
	f.llm.embedErr = errors.New("embedding service down")

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "hi", MentionsSelf: true,
	})

	if f.bus.OutboundSize() != 1 {
		t.Error("embedding failure must not block the reply")
	}
}

type failingVectorStore struct{}

func (failingVectorStore) Insert(context.Context, vector.Record) error { return errors.New("down") }
func (failingVectorStore) SearchSimilar(context.Context, string, []float32, float32, int) ([]vector.Record, error) {
	return nil, errors.New("down")
}

func TestQueuedReplyDrainsOnTick(t *testing.T) {
	f := newFixture(t, func(opts *LoopOptions) {
		opts.Queue = queue.New(queue.Config{MaxCount: 5, MaxBytes: 1 << 20, MinInterval: time.Second}, opts.Clock, nil)
		opts.DrainInterval = time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.loop.startDrain(ctx)

	// Private chat responds but is not a mention, so it takes the queue path.
	f.loop.HandleInbound(ctx, &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "hello there", IsPrivateChat: true,
	})

	if f.bus.OutboundSize() != 0 {
		t.Fatal("queued reply must not be sent synchronously")
	}

	f.clk.Advance(time.Second)
	if f.bus.OutboundSize() != 1 {
		t.Fatalf("expected drain tick to send the reply, got %d", f.bus.OutboundSize())
	}
}

func TestMentionBypassesQueue(t *testing.T) {
	f := newFixture(t, func(opts *LoopOptions) {
		opts.Queue = queue.New(queue.Config{MaxCount: 5, MaxBytes: 1 << 20, MinInterval: time.Second}, opts.Clock, nil)
	})

	f.loop.HandleInbound(context.Background(), &bus.InboundMessage{
		RoomID: "r1", SenderID: "u1", Content: "urgent!", MentionsSelf: true,
	})

	q := f.loop.opts.Queue
	if q.Len() != 0 {
		t.Error("priority item must not occupy the queue")
	}
	select {
	case item := <-q.PriorityLane():
		out := item.Payload.(*bus.OutboundMessage)
		if out.RoomID != "r1" {
			t.Errorf("unexpected room %s", out.RoomID)
		}
	default:
		t.Fatal("expected item on the priority lane")
	}
}
