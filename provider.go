package quarry

import (
	"context"
	"log/slog"
)

// Provider is an opaque text-completion capability. Implementations live in
// provider subpackages; the core only depends on this interface.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// CompletionResponse is the provider's answer plus token accounting.
type CompletionResponse struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Usage holds token counts reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// nopLogger discards all output. Components that accept a logger via options
// fall back to it so logging is never nil-checked in hot paths.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
