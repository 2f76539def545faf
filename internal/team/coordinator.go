package team

import (
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/clock"
	"github.com/chorusbot/chorus/internal/interest"
)

// Coordinator evaluates ownership rules for inbound messages. Evaluation is
// independent per process and explicitly not linearizable across processes.
type Coordinator struct {
	cfg    Config
	clk    clock.Clock
	randFn func() float64
}

// NewCoordinator creates a coordinator. The random source is seeded from the
// default shared source; tests override it with WithRand.
func NewCoordinator(cfg Config, clk clock.Clock) *Coordinator {
	if cfg.AfterLeaderChance <= 0 {
		cfg.AfterLeaderChance = 0.2
	}
	if cfg.BackoffMax <= cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin + 3*time.Second
	}
	if cfg.LeaderRecency <= 0 {
		cfg.LeaderRecency = 5 * time.Second
	}
	return &Coordinator{cfg: cfg, clk: clk, randFn: rand.Float64}
}

// WithRand replaces the random source, for deterministic tests.
func (c *Coordinator) WithRand(fn func() float64) *Coordinator {
	c.randFn = fn
	return c
}

// Config returns the team configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// ResolveOwnership applies the priority rules, first match wins:
// explicit self-mention, team coordination request, own keyword match,
// other-member mention, default non-owner.
// It may clear RoomState.CurrentHandlerID when relinquishing.
func (c *Coordinator) ResolveOwnership(msg *bus.InboundMessage, st *interest.RoomState) Resolution {
	text := strings.ToLower(msg.Content)

	if msg.MentionsSelf || containsName(text, c.cfg.SelfName) {
		c.claim(st)
		return Resolution{Owner: true, Reason: "self_mention"}
	}

	if matchesAny(text, c.cfg.CoordinationKeywords) {
		if c.cfg.IsLeader {
			c.claim(st)
			return Resolution{Owner: true, Reason: "coordination_leader"}
		}
		// Claim before the backoff so a previously relinquished room is
		// re-bound; a relinquish during the backoff clears this again and
		// the emit-time check catches it.
		c.claim(st)
		delay := c.cfg.BackoffMin +
			time.Duration(c.randFn()*float64(c.cfg.BackoffMax-c.cfg.BackoffMin))
		return Resolution{
			Owner:         true,
			Delay:         delay,
			RecheckLeader: true,
			Reason:        "coordination_backoff",
		}
	}

	if matchesAny(text, c.cfg.SelfKeywords()) {
		if c.cfg.IsLeader {
			c.claim(st)
			return Resolution{Owner: true, Reason: "keyword_leader"}
		}
		c.claim(st)
		return Resolution{Owner: true, Delay: c.cfg.KeywordDelay, Reason: "keyword_member"}
	}

	if other, ok := c.mentionedOther(text); ok {
		if st != nil && st.CurrentHandlerID == c.cfg.SelfID {
			st.CurrentHandlerID = ""
		}
		slog.Debug("relinquishing room to mentioned member",
			"room", roomOf(st), "member", other.ID)
		return Resolution{Relinquish: true, Reason: "other_member_mentioned"}
	}

	return Resolution{Reason: "not_owner"}
}

// LeaderPostedRecently reports whether the leader appears in the room window
// within the recency bound. Non-leaders call this after their backoff to
// re-observe the shared history.
func (c *Coordinator) LeaderPostedRecently(st *interest.RoomState) bool {
	if st == nil || c.cfg.LeaderID == "" {
		return false
	}
	now := c.clk.Now()
	for i := len(st.Window) - 1; i >= 0; i-- {
		m := st.Window[i]
		if now.Sub(m.Timestamp) > c.cfg.LeaderRecency {
			break
		}
		if m.SenderID == c.cfg.LeaderID {
			return true
		}
	}
	return false
}

// ShouldRespondAfterBackoff decides whether a non-leader still responds after
// its backoff elapsed. A recent leader post suppresses the response except
// with AfterLeaderChance probability.
func (c *Coordinator) ShouldRespondAfterBackoff(st *interest.RoomState) bool {
	if !c.LeaderPostedRecently(st) {
		return true
	}
	return c.randFn() < c.cfg.AfterLeaderChance
}

func (c *Coordinator) claim(st *interest.RoomState) {
	if st != nil {
		st.CurrentHandlerID = c.cfg.SelfID
	}
}

func (c *Coordinator) mentionedOther(text string) (Member, bool) {
	for _, m := range c.cfg.Members {
		if m.ID == c.cfg.SelfID {
			continue
		}
		if containsName(text, m.Name) {
			return m, true
		}
	}
	return Member{}, false
}

func matchesAny(text string, keywords []string) bool {
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// containsName matches a member name as a whole word, case-insensitive, with
// or without a leading @.
func containsName(text, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	for _, candidate := range []string{"@" + name, name} {
		idx := 0
		for {
			i := strings.Index(text[idx:], candidate)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(candidate)
			beforeOK := start == 0 || isWordBoundary(text[start-1])
			afterOK := end == len(text) || isWordBoundary(text[end])
			if beforeOK && afterOK {
				return true
			}
			idx = end
		}
	}
	return false
}

func isWordBoundary(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return false
	}
	return b != '_'
}

func roomOf(st *interest.RoomState) string {
	if st == nil {
		return ""
	}
	return st.RoomID
}
