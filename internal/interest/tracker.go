package interest

import (
	"log/slog"
	"strings"
	"time"

	"github.com/chorusbot/chorus/internal/clock"
)

// Config holds the tracker's decay and window settings.
type Config struct {
	// DecayTime is how long after the last message a room stays interesting.
	DecayTime time.Duration
	// PartialDecay is the start of the band in which interest is re-derived
	// from keyword relevance instead of trusted outright.
	PartialDecay time.Duration
	// MaxMessages caps the per-room message window.
	MaxMessages int
	// SimilarityThreshold seeds RoomState.SimilarityThreshold on creation.
	SimilarityThreshold float64
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		DecayTime:           30 * time.Minute,
		PartialDecay:        10 * time.Minute,
		MaxMessages:         50,
		SimilarityThreshold: 0.8,
	}
}

// Tracker maintains per-room attention state. All expiry is evaluated lazily
// against the clock at read time.
type Tracker struct {
	cfg      Config
	store    *Store
	clk      clock.Clock
	selfID   string
	keywords []string
}

// NewTracker creates a tracker over the given store.
// keywords are the terms that keep a partially-decayed room relevant.
func NewTracker(cfg Config, store *Store, clk clock.Clock, selfID string, keywords []string) *Tracker {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultConfig().MaxMessages
	}
	if cfg.DecayTime <= 0 {
		cfg.DecayTime = DefaultConfig().DecayTime
	}
	if cfg.PartialDecay <= 0 || cfg.PartialDecay > cfg.DecayTime {
		cfg.PartialDecay = cfg.DecayTime / 3
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Tracker{
		cfg:      cfg,
		store:    store,
		clk:      clk,
		selfID:   selfID,
		keywords: lowered,
	}
}

// Touch records an inbound message for a room, creating the room state on
// first contact with this agent as the initial handler.
func (t *Tracker) Touch(roomID string, msg Message) *RoomState {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = t.clk.Now()
	}

	st, ok := t.store.Get(roomID)
	if !ok {
		st = &RoomState{
			RoomID:              roomID,
			CurrentHandlerID:    t.selfID,
			SimilarityThreshold: t.cfg.SimilarityThreshold,
		}
		t.store.Put(st)
	}

	st.Window = append(st.Window, msg)
	if len(st.Window) > t.cfg.MaxMessages {
		st.Window = st.Window[len(st.Window)-t.cfg.MaxMessages:]
	}
	st.LastMessageAt = t.clk.Now()
	return st
}

// Drop forgets a room immediately, regardless of decay.
func (t *Tracker) Drop(roomID string) {
	t.store.Delete(roomID)
}

// Get returns the room state without evaluating decay.
func (t *Tracker) Get(roomID string) (*RoomState, bool) {
	return t.store.Get(roomID)
}

// IsInterested reports whether this agent still cares about a room. A fully
// decayed room is deleted on the spot; a partially decayed room stays
// interesting only if the latest message matches a configured keyword.
func (t *Tracker) IsInterested(roomID string) bool {
	st, ok := t.store.Get(roomID)
	if !ok {
		return false
	}

	idle := t.clk.Now().Sub(st.LastMessageAt)
	if idle > t.cfg.DecayTime {
		t.store.Delete(roomID)
		slog.Debug("room interest expired", "room", roomID, "idle", idle)
		return false
	}
	if idle > t.cfg.PartialDecay {
		last, ok := st.LastMessage()
		if !ok {
			return false
		}
		return t.matchesKeyword(last.Content)
	}
	return true
}

func (t *Tracker) matchesKeyword(content string) bool {
	lowered := strings.ToLower(content)
	for _, k := range t.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}
