// Package team resolves handler ownership among cooperating agent instances
// sharing a chat room. There is no shared lock between instances: the chat
// history itself is the only shared medium, so ownership is a best-effort
// heuristic built from keyword routing, randomized backoff, and
// re-observation. Duplicate responses are mitigated, not eliminated.
package team

import "time"

// Member describes one agent instance in the team.
type Member struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// Config is the immutable team topology, loaded once per agent lifetime.
type Config struct {
	SelfID   string   `json:"selfId"`
	SelfName string   `json:"selfName"`
	IsLeader bool     `json:"isLeader"`
	LeaderID string   `json:"leaderId"`
	Members  []Member `json:"members"`

	// CoordinationKeywords signal that the whole team should act.
	CoordinationKeywords []string `json:"coordinationKeywords"`

	// AfterLeaderChance is the probability a non-leader still responds after
	// observing a recent leader post at the end of its backoff.
	AfterLeaderChance float64 `json:"afterLeaderChance"`

	// BackoffMin/BackoffMax bound the non-leader's randomized delay on
	// coordination requests.
	BackoffMin time.Duration `json:"backoffMin"`
	BackoffMax time.Duration `json:"backoffMax"`

	// KeywordDelay is the fixed delay a keyword-matched non-leader waits so
	// a keyword-matching leader can preempt it.
	KeywordDelay time.Duration `json:"keywordDelay"`

	// LeaderRecency is how far back a leader post counts as "the leader
	// already handled this".
	LeaderRecency time.Duration `json:"leaderRecency"`
}

// DefaultConfig returns a single-agent team with standard timing.
func DefaultConfig(selfID, selfName string) Config {
	return Config{
		SelfID:            selfID,
		SelfName:          selfName,
		IsLeader:          true,
		LeaderID:          selfID,
		AfterLeaderChance: 0.2,
		BackoffMin:        1500 * time.Millisecond,
		BackoffMax:        4500 * time.Millisecond,
		KeywordDelay:      800 * time.Millisecond,
		LeaderRecency:     5 * time.Second,
	}
}

// MemberByID returns the member record for an agent ID.
func (c Config) MemberByID(id string) (Member, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// SelfKeywords returns this agent's configured keyword set.
func (c Config) SelfKeywords() []string {
	if m, ok := c.MemberByID(c.SelfID); ok {
		return m.Keywords
	}
	return nil
}

// Resolution is the outcome of an ownership check.
type Resolution struct {
	// Owner reports whether this instance should treat itself as room owner.
	Owner bool
	// Delay is how long to wait before acting.
	Delay time.Duration
	// RecheckLeader means the caller must re-read recent room history after
	// Delay and consult ShouldRespondAfterBackoff before acting.
	RecheckLeader bool
	// Relinquish means another member was addressed: drop the handler
	// binding and stay silent.
	Relinquish bool
	// Reason is a short machine-readable tag for logs and audit.
	Reason string
}
