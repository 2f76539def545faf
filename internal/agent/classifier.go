package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/interest"
	"github.com/chorusbot/chorus/internal/provider"
)

const decisionSystemPrompt = `You are the response arbiter for a chat agent named %s.
Given the recent conversation and the newest message, answer with exactly one
word: RESPOND if the agent should reply, IGNORE if it should stay silent, or
STOP if it should stop participating in this conversation entirely.`

// DecisionClassifier asks the LLM whether the agent should respond to an
// ambiguous message. It implements policy.Classifier.
type DecisionClassifier struct {
	provider  provider.LLMProvider
	agentName string
}

// NewDecisionClassifier creates a classifier backed by the given provider.
func NewDecisionClassifier(p provider.LLMProvider, agentName string) *DecisionClassifier {
	return &DecisionClassifier{provider: p, agentName: agentName}
}

// ClassifyResponse returns the model's one-line verdict.
func (c *DecisionClassifier) ClassifyResponse(ctx context.Context, msg *bus.InboundMessage, window []interest.Message) (string, error) {
	req := &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: fmt.Sprintf(decisionSystemPrompt, c.agentName)},
			{Role: "user", Content: buildTranscript(window, msg)},
		},
		MaxTokens:   8,
		Temperature: 0,
	}
	resp, err := c.provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("classify response: %w", err)
	}
	return resp.Content, nil
}

// buildTranscript renders the room window plus the newest message as a plain
// conversation log.
func buildTranscript(window []interest.Message, msg *bus.InboundMessage) string {
	var b strings.Builder
	for _, m := range window {
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		fmt.Fprintf(&b, "%s: %s\n", name, m.Content)
	}
	name := msg.SenderName
	if name == "" {
		name = msg.SenderID
	}
	fmt.Fprintf(&b, "[newest] %s: %s\n", name, msg.Content)
	return b.String()
}
