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

// OpenAICompatClient speaks the OpenAI chat-completions wire format shared
// by Grok and Groq (original_source/src/llms/groq.rs, grok.rs).
type OpenAICompatClient struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewGrok builds an OpenAI-compatible client against xAI's Grok endpoint.
func NewGrok(apiKey string) *OpenAICompatClient {
	if apiKey == "" {
		apiKey = os.Getenv("GROK_API_KEY")
	}
	return &OpenAICompatClient{name: "grok", endpoint: "https://api.x.ai/v1/chat/completions", apiKey: apiKey, httpClient: &http.Client{Timeout: 5 * time.Minute}}
}

// NewGroq builds an OpenAI-compatible client against Groq's endpoint.
func NewGroq(apiKey string) *OpenAICompatClient {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	return &OpenAICompatClient{name: "groq", endpoint: "https://api.groq.com/openai/v1/chat/completions", apiKey: apiKey, httpClient: &http.Client{Timeout: 5 * time.Minute}}
}

type oaiMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []oaiToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiToolDef struct {
	Type     string         `json:"type"`
	Function oaiFunctionDef `json:"function"`
}

type oaiFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiRequest struct {
	Model               string       `json:"model"`
	Messages            []oaiMessage `json:"messages"`
	Tools               []oaiToolDef `json:"tools,omitempty"`
	MaxCompletionTokens int          `json:"max_completion_tokens"`
	Stream              bool         `json:"stream"`
}

// toOaiMessages flattens the neutral ApiMessage shape (which can carry
// separate tool_use/tool_result blocks per Anthropic's pairing convention)
// into OpenAI's single-role-per-message-with-tool_calls shape.
func toOaiMessages(system string, msgs []prompt.ApiMessage) []oaiMessage {
	out := make([]oaiMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, oaiMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		var text strings.Builder
		var calls []oaiToolCall
		var toolResults []oaiMessage

		for _, c := range m.Content {
			switch c.Type {
			case "text":
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(c.Text)
			case "tool_use":
				args, _ := json.Marshal(c.ToolInput)
				calls = append(calls, oaiToolCall{ID: c.ToolUseID, Type: "function", Function: oaiFunction{Name: c.ToolName, Arguments: string(args)}})
			case "tool_result":
				toolResults = append(toolResults, oaiMessage{Role: "tool", ToolCallID: c.ToolUseID, Content: c.Text})
			}
		}

		if text.Len() > 0 || len(calls) > 0 {
			out = append(out, oaiMessage{Role: m.Role, Content: text.String(), ToolCalls: calls})
		}
		out = append(out, toolResults...)
	}
	return out
}

func toOaiTools(tools []statecore.ToolDefinition) []oaiToolDef {
	out := make([]oaiToolDef, 0, len(tools))
	for _, t := range tools {
		if !t.Enabled || t.Params == nil {
			continue
		}
		out = append(out, oaiToolDef{Type: "function", Function: oaiFunctionDef{Name: t.Name, Description: t.Description, Parameters: schemaToJSON(t.Params)}})
	}
	return out
}

// Stream implements llm.Client.
func (c *OpenAICompatClient) Stream(ctx context.Context, req llm.Request, events chan<- llm.StreamEvent) error {
	if c.apiKey == "" {
		return fmt.Errorf("%s API key not set", c.name)
	}

	body := oaiRequest{
		Model:               req.Model,
		Messages:            toOaiMessages(req.SystemPrompt, req.APIMessages),
		Tools:               toOaiTools(req.Tools),
		MaxCompletionTokens: maxResponseTokens,
		Stream:              true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", c.name, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return fmt.Errorf("%s API returned %d: %s", c.name, resp.StatusCode, errBody.String())
	}

	return consumeOaiSSE(resp.Body, events)
}

type oaiStreamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiStreamDelta struct {
	Content   string              `json:"content"`
	ToolCalls []oaiStreamToolCall `json:"tool_calls"`
}

type oaiStreamChoice struct {
	Delta        oaiStreamDelta `json:"delta"`
	FinishReason string         `json:"finish_reason"`
}

type oaiStreamUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiStreamResponse struct {
	Choices []oaiStreamChoice `json:"choices"`
	Usage   *oaiStreamUsage   `json:"usage"`
}

type pendingCall struct {
	id, name string
	args     strings.Builder
}

func consumeOaiSSE(body io.Reader, events chan<- llm.StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	pending := map[int]*pendingCall{}

	var inputTokens, outputTokens int

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			if data == "[DONE]" {
				flushPendingToolCalls(pending, events)
				events <- llm.StreamEvent{Type: llm.EventDone, InputTokens: inputTokens, OutputTokens: outputTokens}
			}
			continue
		}

		var resp oaiStreamResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				events <- llm.StreamEvent{Type: llm.EventChunk, Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				p, ok := pending[tc.Index]
				if !ok {
					p = &pendingCall{id: tc.ID, name: tc.Function.Name}
					pending[tc.Index] = p
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason == "tool_calls" {
				flushPendingToolCalls(pending, events)
			}
			if choice.FinishReason == "stop" {
				flushPendingToolCalls(pending, events)
				events <- llm.StreamEvent{Type: llm.EventDone, InputTokens: inputTokens, OutputTokens: outputTokens}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

func flushPendingToolCalls(pending map[int]*pendingCall, events chan<- llm.StreamEvent) {
	for _, p := range pending {
		input := map[string]any{}
		if raw := p.args.String(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &input)
		}
		events <- llm.StreamEvent{Type: llm.EventToolUse, ToolUse: statecore.ToolUse{ID: p.id, Name: p.name, Input: input}}
	}
	for k := range pending {
		delete(pending, k)
	}
}

// CheckAPI mirrors AnthropicClient.CheckAPI's probe for the OpenAI-compatible
// wire format.
func (c *OpenAICompatClient) CheckAPI(ctx context.Context, model string) llm.ApiCheckResult {
	if c.apiKey == "" {
		return llm.ApiCheckResult{Err: fmt.Errorf("%s API key not set", c.name)}
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
