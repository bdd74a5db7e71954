// Package provider implements the concrete LLM backends the turn loop talks
// to: Anthropic's native Messages API and an OpenAI-compatible adapter
// covering Grok and Groq. Grounded on
// original_source/src/llms/anthropic.rs and original_source/src/llms/groq.rs.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/contextpilot/contextpilot/internal/llm"
	"github.com/contextpilot/contextpilot/internal/prompt"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// anthropicAPIEndpoint is a var so tests can redirect it at an httptest server.
var anthropicAPIEndpoint = "https://api.anthropic.com/v1/messages"

const (
	anthropicAPIVersion = "2023-06-01"
	maxResponseTokens   = 8192
)

// AnthropicClient implements llm.Client against Anthropic's Messages API.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewAnthropic reads ANTHROPIC_API_KEY (or the caller-supplied override) and
// builds a client with a generous streaming timeout.
func NewAnthropic(apiKey string) *AnthropicClient {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &AnthropicClient{apiKey: apiKey, httpClient: &http.Client{Timeout: 5 * time.Minute}}
}

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicToolDef `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

func toApiMessages(msgs []prompt.ApiMessage) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropicContentBlock, 0, len(m.Content))
		for _, c := range m.Content {
			switch c.Type {
			case "text":
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: c.Text})
			case "tool_use":
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: c.ToolUseID, Name: c.ToolName, Input: c.ToolInput})
			case "tool_result":
				blocks = append(blocks, anthropicContentBlock{Type: "tool_result", ToolUseID: c.ToolUseID, Content: c.Text})
			}
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: blocks})
	}
	return out
}

func toApiTools(tools []statecore.ToolDefinition) []anthropicToolDef {
	out := make([]anthropicToolDef, 0, len(tools))
	for _, t := range tools {
		if !t.Enabled || t.Params == nil {
			continue
		}
		out = append(out, anthropicToolDef{Name: t.Name, Description: t.Description, InputSchema: schemaToJSON(t.Params)})
	}
	return out
}

func schemaToJSON(p *statecore.ParamSchema) map[string]any {
	if p == nil {
		return map[string]any{"type": "object"}
	}
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if len(p.Properties) > 0 {
		props := map[string]any{}
		for name, child := range p.Properties {
			props[name] = schemaToJSON(child)
		}
		m["properties"] = props
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	if p.Items != nil {
		m["items"] = schemaToJSON(p.Items)
	}
	return m
}

// Stream implements llm.Client. It opens an SSE connection and translates
// Anthropic's content_block_start/delta/stop events into llm.StreamEvents.
func (c *AnthropicClient) Stream(ctx context.Context, req llm.Request, events chan<- llm.StreamEvent) error {
	if c.apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxResponseTokens,
		System:    req.SystemPrompt,
		Messages:  toApiMessages(req.APIMessages),
		Tools:     toApiTools(req.Tools),
		Stream:    true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building anthropic request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return fmt.Errorf("anthropic API returned %d: %s", resp.StatusCode, errBody.String())
	}

	return consumeAnthropicSSE(resp.Body, events)
}

type sseContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type sseDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

type sseUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type sseEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock sseContentBlock `json:"content_block"`
	Delta        sseDelta        `json:"delta"`
	Usage        sseUsage        `json:"usage"`
	Message      struct {
		Usage sseUsage `json:"usage"`
	} `json:"message"`
}

// consumeAnthropicSSE parses the text/event-stream body, accumulating
// partial_json for in-flight tool_use blocks until their stop event fires.
func consumeAnthropicSSE(body io.Reader, events chan<- llm.StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	type pendingTool struct {
		id, name string
		jsonBuf  strings.Builder
	}
	pending := map[int]*pendingTool{}

	var inputTokens, outputTokens, cacheReadTokens int

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			inputTokens = ev.Message.Usage.InputTokens
			cacheReadTokens = ev.Message.Usage.CacheReadInputTokens
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				pending[ev.Index] = &pendingTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				events <- llm.StreamEvent{Type: llm.EventChunk, Text: ev.Delta.Text}
			case "input_json_delta":
				if p, ok := pending[ev.Index]; ok {
					p.jsonBuf.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if p, ok := pending[ev.Index]; ok {
				input := map[string]any{}
				raw := p.jsonBuf.String()
				if raw != "" {
					_ = json.Unmarshal([]byte(raw), &input)
				}
				events <- llm.StreamEvent{Type: llm.EventToolUse, ToolUse: statecore.ToolUse{ID: p.id, Name: p.name, Input: input}}
				delete(pending, ev.Index)
			}
		case "message_delta":
			if ev.Usage.OutputTokens > 0 {
				outputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			events <- llm.StreamEvent{Type: llm.EventDone, InputTokens: inputTokens, OutputTokens: outputTokens, CacheReadTokens: cacheReadTokens}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading anthropic stream: %w", err)
	}
	return nil
}

// CheckAPI implements spec.md's auth doctor with one streaming probe and no
// tools attached: AuthOK is set when the request is accepted, StreamingOK
// when the stream reaches message_stop. Tool calling is not exercised;
// ToolsOK is reported true whenever the probe request succeeds.
func (c *AnthropicClient) CheckAPI(ctx context.Context, model string) llm.ApiCheckResult {
	if c.apiKey == "" {
		return llm.ApiCheckResult{Err: fmt.Errorf("ANTHROPIC_API_KEY not set")}
	}

	probeEvents := make(chan llm.StreamEvent, 16)
	req := llm.Request{
		Model: model,
		APIMessages: []prompt.ApiMessage{
			{Role: "user", Content: []prompt.ContentBlock{{Type: "text", Text: "reply with the single word: ok"}}},
		},
	}
	err := c.Stream(ctx, req, probeEvents)
	close(probeEvents)
	if err != nil {
		return llm.ApiCheckResult{AuthOK: false, Err: err}
	}

	streamingOK := false
	for ev := range probeEvents {
		if ev.Type == llm.EventDone {
			streamingOK = true
		}
	}
	return llm.ApiCheckResult{AuthOK: true, StreamingOK: streamingOK, ToolsOK: true}
}
