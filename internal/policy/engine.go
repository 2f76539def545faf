// Package policy decides, for every inbound message, whether this agent
// responds, stays silent, or stops engaging with a room.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/interest"
	"github.com/chorusbot/chorus/internal/team"
)

// Action is the tri-state arbitration outcome.
type Action string

const (
	ActionRespond Action = "RESPOND"
	ActionIgnore  Action = "IGNORE"
	ActionStop    Action = "STOP"
)

// Decision is the result of a policy evaluation.
type Decision struct {
	Action Action
	// Reason is a short machine-readable tag for logs and audit.
	Reason string
	// OwnerAgentID is the agent the room currently belongs to, if known.
	OwnerAgentID string
	// Plugin names the side capability to delegate to, when keyword routing
	// matched one.
	Plugin string
	// Delay and RecheckLeader carry through from team coordination.
	Delay         time.Duration
	RecheckLeader bool
}

// Classifier is the external capability consulted for ambiguous cases.
type Classifier interface {
	// ClassifyResponse returns a one-line verdict for the given context.
	ClassifyResponse(ctx context.Context, msg *bus.InboundMessage, window []interest.Message) (string, error)
}

// Config holds the engine's deterministic-rule settings.
type Config struct {
	// MentionsOnly restricts responses to explicit mentions.
	MentionsOnly bool `json:"mentionsOnly" envconfig:"MENTIONS_ONLY"`
	// CadenceWindow is how many recent messages the dampening rule inspects.
	CadenceWindow int `json:"cadenceWindow" envconfig:"CADENCE_WINDOW"`
}

// DefaultConfig returns the policy defaults.
func DefaultConfig() Config {
	return Config{CadenceWindow: 10}
}

// Engine evaluates the ordered short-circuit rules. Deterministic rules run
// first; the classifier is the last resort.
type Engine struct {
	cfg        Config
	selfID     string
	coord      *team.Coordinator
	classifier Classifier
	plugins    map[string][]string
	randFn     func() float64
}

// New creates a policy engine. classifier may be nil, in which case ambiguous
// messages are ignored.
func New(cfg Config, selfID string, coord *team.Coordinator, classifier Classifier) *Engine {
	if cfg.CadenceWindow <= 0 {
		cfg.CadenceWindow = DefaultConfig().CadenceWindow
	}
	return &Engine{
		cfg:        cfg,
		selfID:     selfID,
		coord:      coord,
		classifier: classifier,
		plugins:    make(map[string][]string),
		randFn:     rand.Float64,
	}
}

// WithRand replaces the random source, for deterministic tests.
func (e *Engine) WithRand(fn func() float64) *Engine {
	e.randFn = fn
	return e
}

// RegisterPlugin routes messages matching any of the keywords to a named side
// capability instead of free-form generation.
func (e *Engine) RegisterPlugin(name string, keywords []string) {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	e.plugins[name] = lowered
}

// Decide runs the rule chain for one inbound message. Steps before the
// classifier may mutate st.CurrentHandlerID through team coordination.
func (e *Engine) Decide(ctx context.Context, msg *bus.InboundMessage, st *interest.RoomState) Decision {
	text := strings.ToLower(msg.Content)

	if name, ok := e.matchPlugin(text); ok {
		return e.claimed(st, Decision{Action: ActionRespond, Reason: "plugin", Plugin: name})
	}

	if e.cfg.MentionsOnly {
		if msg.MentionsSelf {
			return e.claimed(st, Decision{Action: ActionRespond, Reason: "mentions_only_mention"})
		}
		return Decision{Action: ActionIgnore, Reason: "mentions_only"}
	}

	if msg.MentionsSelf {
		return e.claimed(st, Decision{Action: ActionRespond, Reason: "mention"})
	}

	if msg.IsPrivateChat {
		return e.claimed(st, Decision{Action: ActionRespond, Reason: "private_chat"})
	}

	if msg.MediaOnly {
		return Decision{Action: ActionIgnore, Reason: "media_only"}
	}

	if e.coord != nil {
		res := e.coord.ResolveOwnership(msg, st)
		switch {
		case res.Relinquish:
			return Decision{Action: ActionIgnore, Reason: res.Reason}
		case res.Owner:
			return Decision{
				Action:        ActionRespond,
				Reason:        res.Reason,
				OwnerAgentID:  e.selfID,
				Delay:         res.Delay,
				RecheckLeader: res.RecheckLeader,
			}
		}
	}

	if st != nil {
		own := st.CountSentBy(e.selfID, e.cfg.CadenceWindow)
		if own > 2 {
			chance := math.Pow(0.5, float64(own-2))
			if e.randFn() > chance {
				return Decision{Action: ActionIgnore, Reason: "cadence_dampened"}
			}
		}
	}

	return e.classify(ctx, msg, st)
}

func (e *Engine) classify(ctx context.Context, msg *bus.InboundMessage, st *interest.RoomState) Decision {
	if e.classifier == nil {
		return Decision{Action: ActionIgnore, Reason: "no_classifier"}
	}

	var window []interest.Message
	if st != nil {
		window = st.Window
	}
	verdict, err := e.classifier.ClassifyResponse(ctx, msg, window)
	if err != nil {
		slog.Warn("classifier call failed, defaulting to ignore",
			"room", msg.RoomID, "error", err)
		return Decision{Action: ActionIgnore, Reason: "classifier_error"}
	}

	action, err := ParseAction(verdict)
	if err != nil {
		slog.Warn("classifier verdict unparseable, defaulting to ignore",
			"room", msg.RoomID, "verdict", verdict)
		return Decision{Action: ActionIgnore, Reason: "classifier_unparseable"}
	}
	return Decision{Action: action, Reason: "classifier"}
}

// ParseAction interprets a classifier verdict leniently: exact token match
// first, then substring search in priority order.
func ParseAction(verdict string) (Action, error) {
	token := Action(strings.ToUpper(strings.TrimSpace(verdict)))
	switch token {
	case ActionRespond, ActionIgnore, ActionStop:
		return token, nil
	}

	upper := strings.ToUpper(verdict)
	for _, a := range []Action{ActionRespond, ActionIgnore, ActionStop} {
		if strings.Contains(upper, string(a)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unparseable verdict: %q", verdict)
}

func (e *Engine) matchPlugin(text string) (string, bool) {
	for name, keywords := range e.plugins {
		for _, k := range keywords {
			if strings.Contains(text, k) {
				return name, true
			}
		}
	}
	return "", false
}

func (e *Engine) claimed(st *interest.RoomState, d Decision) Decision {
	if st != nil {
		st.CurrentHandlerID = e.selfID
	}
	d.OwnerAgentID = e.selfID
	return d
}
