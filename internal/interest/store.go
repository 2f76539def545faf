// Package interest tracks per-room conversational attention with time decay.
package interest

import (
	"sync"
	"time"
)

// Message is one entry in a room's recent-message window.
type Message struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomState holds the transient attention state for one room. It is owned by
// the single process that created it; there is no cross-process sharing.
type RoomState struct {
	RoomID              string
	CurrentHandlerID    string
	LastMessageAt       time.Time
	Window              []Message
	SimilarityThreshold float64
}

// LastMessage returns the most recent message in the window, if any.
func (s *RoomState) LastMessage() (Message, bool) {
	if len(s.Window) == 0 {
		return Message{}, false
	}
	return s.Window[len(s.Window)-1], true
}

// CountSentBy returns how many of the windowed messages were sent by the
// given sender, scanning at most the last n entries.
func (s *RoomState) CountSentBy(senderID string, n int) int {
	start := 0
	if n > 0 && len(s.Window) > n {
		start = len(s.Window) - n
	}
	count := 0
	for _, m := range s.Window[start:] {
		if m.SenderID == senderID {
			count++
		}
	}
	return count
}

// Store is an explicit room-state registry with a defined lifecycle: states
// are created on first touch, mutated on every message, and deleted when
// interest fully decays.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*RoomState
}

// NewStore creates an empty room-state store.
func NewStore() *Store {
	return &Store{rooms: make(map[string]*RoomState)}
}

// Get returns the state for a room. Absence is the expected initial
// condition, not an error.
func (s *Store) Get(roomID string) (*RoomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[roomID]
	return st, ok
}

// Put inserts or replaces a room state.
func (s *Store) Put(st *RoomState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[st.RoomID] = st
}

// Delete removes a room state. Deleting an absent room is a no-op.
func (s *Store) Delete(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Len returns the number of tracked rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
