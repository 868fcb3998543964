// Package llm provides the language-model clients used for open-domain
// replies and for the constrained classification/extraction queries. Every
// caller treats replies as untrusted text and re-validates them against its
// own closed output contract.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn supplied as model context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports token accounting when the provider exposes it.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a provider-independent completion request.
type Request struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Response carries the completion text plus provider metadata.
type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is implemented by each model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
