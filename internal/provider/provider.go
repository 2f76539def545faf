// Package provider implements LLM provider interfaces and clients.
package provider

import "context"

// LLMProvider is the interface for LLM API clients. Calls are opaque
// asynchronous capabilities with their own timeout policy; the arbitration
// core never blocks on them outside a scheduled continuation.
type LLMProvider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Embed returns a fixed-length embedding for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
