// Package llm drives the turn loop (C6): sending an assembled prompt to a
// provider, streaming text/tool_use events back, and reporting token usage
// for cost accounting. Grounded on original_source/src/llms/mod.rs's
// provider-trait shape.
package llm

import (
	"context"

	"github.com/contextpilot/contextpilot/internal/prompt"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Provider identifies which backend a model roster entry belongs to.
type Provider string

const (
	ProviderAnthropic   Provider = "anthropic"
	ProviderOpenAICompat Provider = "openaicompat"
)

// ModelInfo carries context-window and pricing metadata used by the guard
// rail's cost cap (internal/guard).
type ModelInfo struct {
	APIName           string
	DisplayName       string
	Provider          Provider
	ContextWindow     int
	InputPricePerMtok float64
	OutputPricePerMtok float64
}

// StreamEventType tags a single event emitted while a turn streams.
type StreamEventType string

const (
	EventChunk   StreamEventType = "chunk"
	EventToolUse StreamEventType = "tool_use"
	EventDone    StreamEventType = "done"
	EventError   StreamEventType = "error"
)

// StreamEvent is one unit pushed to the turn loop's event channel.
type StreamEvent struct {
	Type         StreamEventType
	Text         string
	ToolUse      statecore.ToolUse
	InputTokens  int
	OutputTokens int
	CacheReadTokens int
	Err          error
}

// Request is a fully assembled call to a provider.
type Request struct {
	Model        string
	APIMessages  []prompt.ApiMessage
	Tools        []statecore.ToolDefinition
	SystemPrompt string
}

// ApiCheckResult reports the three-part health check spec.md's auth doctor
// performs: can we authenticate, can we stream, can we call tools.
type ApiCheckResult struct {
	AuthOK      bool
	StreamingOK bool
	ToolsOK     bool
	Err         error
}

func (r ApiCheckResult) AllOK() bool { return r.AuthOK && r.StreamingOK && r.ToolsOK && r.Err == nil }

// Client is the interface every provider adapter implements.
type Client interface {
	Stream(ctx context.Context, req Request, events chan<- StreamEvent) error
	CheckAPI(ctx context.Context, model string) ApiCheckResult
}
