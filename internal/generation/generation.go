// Package generation calls the downstream text-generation backend of a
// registered AI system.
package generation

import "context"

// Message is one chat message.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// Request is a generation call for one system.
type Request struct {
	Model         string
	Endpoint      string // optional base URL override from the registry
	CredentialEnv string // env var holding the API key; empty uses the default
	Messages      []Message
	TraceID       string
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the generated reply.
type Response struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Generator produces a reply for a conversation. Failures are returned as
// *apperr.Error values of kind Upstream.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
