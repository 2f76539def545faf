package interest

import (
	"fmt"
	"testing"
	"time"

	"github.com/chorusbot/chorus/internal/clock"
)

func newTestTracker(fc *clock.Fake) (*Tracker, *Store) {
	store := NewStore()
	cfg := Config{
		DecayTime:           30 * time.Minute,
		PartialDecay:        10 * time.Minute,
		MaxMessages:         5,
		SimilarityThreshold: 0.8,
	}
	tr := NewTracker(cfg, store, fc, "agent-1", []string{"deploy", "oncall"})
	return tr, store
}

func TestTouchCreatesRoomWithSelfAsHandler(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	tr, store := newTestTracker(fc)

	st := tr.Touch("room-a", Message{SenderID: "u1", Content: "hi"})

	if st.CurrentHandlerID != "agent-1" {
		t.Errorf("expected handler agent-1, got %s", st.CurrentHandlerID)
	}
	if st.SimilarityThreshold != 0.8 {
		t.Errorf("expected threshold 0.8, got %v", st.SimilarityThreshold)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 room, got %d", store.Len())
	}
}

func TestWindowTrimsToMaxMessages(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	tr, _ := newTestTracker(fc)

	for i := 0; i < 8; i++ {
		tr.Touch("room-a", Message{SenderID: "u1", Content: fmt.Sprintf("msg-%d", i)})
	}

	st, _ := tr.Get("room-a")
	if len(st.Window) != 5 {
		t.Fatalf("expected window of 5, got %d", len(st.Window))
	}
	if st.Window[0].Content != "msg-3" {
		t.Errorf("expected oldest surviving message msg-3, got %s", st.Window[0].Content)
	}
}

func TestInterestFullDecayDeletesRoom(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	tr, store := newTestTracker(fc)

	tr.Touch("room-a", Message{SenderID: "u1", Content: "hi"})

	fc.Advance(29 * time.Minute)
	// Inside the partial band; plain content no longer holds interest but the
	// room survives.
	if tr.IsInterested("room-a") {
		t.Error("expected partial-band room with irrelevant content to be uninteresting")
	}
	if store.Len() != 1 {
		t.Fatal("partial decay must not delete the room")
	}

	fc.Advance(2 * time.Minute)
	if tr.IsInterested("room-a") {
		t.Error("expected interest false after full decay")
	}
	if store.Len() != 0 {
		t.Error("full decay must delete the room state")
	}
}

func TestPartialDecayKeywordKeepsInterest(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	tr, _ := newTestTracker(fc)

	tr.Touch("room-a", Message{SenderID: "u1", Content: "who is ONCALL today?"})

	fc.Advance(15 * time.Minute)
	if !tr.IsInterested("room-a") {
		t.Error("keyword-matching last message should hold interest in the partial band")
	}
}

func TestFreshRoomIsInterestedUnconditionally(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	tr, _ := newTestTracker(fc)

	tr.Touch("room-a", Message{SenderID: "u1", Content: "completely unrelated"})

	fc.Advance(5 * time.Minute)
	if !tr.IsInterested("room-a") {
		t.Error("room inside the partial-decay bound should stay interesting")
	}
}

func TestIsInterestedAbsentRoom(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	tr, _ := newTestTracker(fc)

	if tr.IsInterested("never-seen") {
		t.Error("absent room must not be interesting")
	}
}

func TestCountSentBy(t *testing.T) {
	st := &RoomState{}
	for i := 0; i < 6; i++ {
		sender := "other"
		if i%2 == 0 {
			sender = "agent-1"
		}
		st.Window = append(st.Window, Message{SenderID: sender})
	}

	if got := st.CountSentBy("agent-1", 0); got != 3 {
		t.Errorf("expected 3 over full window, got %d", got)
	}
	if got := st.CountSentBy("agent-1", 2); got != 1 {
		t.Errorf("expected 1 over last 2, got %d", got)
	}
}
