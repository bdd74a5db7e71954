// Package prompt implements the Prompt Assembler (C5): a single
// deterministic function turning panels, messages, and tool definitions
// into a neutral ApiMessage sequence any provider adapter can serialize.
// Grounded directly on original_source/src/app/prompt_builder.rs.
package prompt

import (
	"fmt"
	"sort"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// ContentBlock is one neutral content unit inside an ApiMessage.
type ContentBlock struct {
	Type        string // "text" | "tool_use" | "tool_result"
	Text        string
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any
	IsError     bool
	CacheAnchor bool // advisory prefix-cache breakpoint hint (spec.md §4.5)
}

// ApiMessage is the neutral, provider-agnostic message shape.
type ApiMessage struct {
	Role    string // "user" | "assistant"
	Content []ContentBlock
}

// Input bundles everything the assembler needs.
type Input struct {
	Messages         []*statecore.Message
	Panels           []*statecore.ContextElement
	Tools            []*statecore.ToolDefinition
	PendingResults   []statecore.ToolResultBlock
	SystemPromptSeed string // empty means no seed re-injection
}

const (
	panelHeaderText = "Context panels (refreshed most-stale-first):"
	panelFooterID   = "panel_footer"
	panelFooterAck  = "Acknowledged — panels loaded."
	seedReinjectText = "System instructions (repeated for emphasis)"
	seedAckText      = "Understood"
)

// Assemble builds the neutral ApiMessage sequence. Deterministic: identical
// input produces a byte-identical sequence (spec.md §4.5's contract).
func Assemble(in Input) []ApiMessage {
	var out []ApiMessage

	out = append(out, assemblePanels(in.Panels)...)

	if in.SystemPromptSeed != "" {
		out = append(out,
			ApiMessage{Role: "user", Content: []ContentBlock{{Type: "text", Text: seedReinjectText + "\n\n" + in.SystemPromptSeed}}},
			ApiMessage{Role: "assistant", Content: []ContentBlock{{Type: "text", Text: seedAckText}}},
		)
	}

	out = append(out, assembleConversation(in.Messages, len(in.PendingResults) > 0)...)

	if len(in.PendingResults) > 0 {
		blocks := make([]ContentBlock, 0, len(in.PendingResults))
		for _, r := range in.PendingResults {
			blocks = append(blocks, ContentBlock{Type: "tool_result", ToolUseID: r.ToolUseID, Text: r.Content, IsError: r.IsError})
		}
		out = append(out, ApiMessage{Role: "user", Content: blocks})
	}

	return out
}

// assemblePanels implements spec.md §4.5 step 1: panels sorted by
// last_refresh_ms ascending (oldest first, freshest closest to the
// conversation), each as a synthetic tool_use/tool_result pair, followed by
// a footer pair.
func assemblePanels(panels []*statecore.ContextElement) []ApiMessage {
	if len(panels) == 0 {
		return nil
	}

	sorted := make([]*statecore.ContextElement, len(panels))
	copy(sorted, panels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastRefreshMs < sorted[j].LastRefreshMs
	})

	var out []ApiMessage
	total := len(sorted)
	for i, p := range sorted {
		assistantText := fmt.Sprintf("refreshed %s", humanAge(p.LastRefreshMs))
		if i == 0 {
			assistantText = panelHeaderText + "\n\n" + assistantText
		}
		toolUseID := "panel_" + p.ID
		out = append(out, ApiMessage{
			Role: "assistant",
			Content: []ContentBlock{
				{Type: "text", Text: assistantText},
				{Type: "tool_use", ToolUseID: toolUseID, ToolName: "dynamic_panel", ToolInput: map[string]any{"id": p.ID}},
			},
		})

		content := ""
		if p.CachedContent != nil {
			content = *p.CachedContent
		}
		block := ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Text: content}
		block.CacheAnchor = isCacheBreakpoint(i+1, total)
		out = append(out, ApiMessage{Role: "user", Content: []ContentBlock{block}})
	}

	out = append(out, ApiMessage{
		Role:    "assistant",
		Content: []ContentBlock{{Type: "tool_use", ToolUseID: panelFooterID, ToolName: "dynamic_panel", ToolInput: map[string]any{}}},
	})
	out = append(out, ApiMessage{
		Role:    "user",
		Content: []ContentBlock{{Type: "tool_result", ToolUseID: panelFooterID, Text: panelFooterAck}},
	})
	return out
}

// isCacheBreakpoint marks the 25/50/75/100% (ceiling division) panel
// indices as advisory prefix-cache anchors (spec.md §4.5).
func isCacheBreakpoint(index1based, total int) bool {
	if total == 0 {
		return false
	}
	for _, pct := range []int{1, 2, 3, 4} {
		threshold := ceilDiv(total*pct, 4)
		if index1based == threshold {
			return true
		}
	}
	return false
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func humanAge(lastRefreshMs int64) string {
	// A relative, human timestamp ("refreshed 12s ago"); the exact
	// wall-clock comparison point is supplied by the caller embedding this
	// package, so here we just render the stored epoch millis as a duration
	// tag understood by callers that pass "now" through LastRefreshMs
	// themselves when constructing panels for assembly in tests.
	return fmt.Sprintf("%dms ago", lastRefreshMs)
}

// assembleConversation implements spec.md §4.5 step 3: walks messages in
// order, skipping Deleted/Detached/empty records, suppressing orphaned
// tool_use blocks, and merging tool_use blocks into the immediately
// preceding open assistant message.
func assembleConversation(msgs []*statecore.Message, hasPendingResults bool) []ApiMessage {
	var out []ApiMessage
	var openAssistant *ApiMessage // pointer into out's backing array via index
	openIdx := -1

	flushOpen := func() {
		openAssistant = nil
		openIdx = -1
	}

	for i, m := range msgs {
		if !m.IsVisible() {
			continue
		}

		switch m.Type {
		case statecore.MessageToolResult:
			if len(m.ToolResults) == 0 {
				continue
			}
			blocks := make([]ContentBlock, 0, len(m.ToolResults))
			for _, r := range m.ToolResults {
				blocks = append(blocks, ContentBlock{Type: "tool_result", ToolUseID: r.ToolUseID, Text: r.Content, IsError: r.IsError})
			}
			out = append(out, ApiMessage{Role: "user", Content: blocks})
			flushOpen()

		case statecore.MessageToolCall:
			var blocks []ContentBlock
			for _, tu := range m.ToolUses {
				if !statecore.HasMatchingResult(msgs, i, tu.ID) {
					continue // orphaned tool_use suppression (spec.md §4.5.3, §8 property 1/S3)
				}
				blocks = append(blocks, ContentBlock{Type: "tool_use", ToolUseID: tu.ID, ToolName: tu.Name, ToolInput: tu.Input})
			}
			if len(blocks) == 0 {
				continue
			}
			if openIdx >= 0 {
				out[openIdx].Content = append(out[openIdx].Content, blocks...)
			} else {
				out = append(out, ApiMessage{Role: "assistant", Content: blocks})
				openIdx = len(out) - 1
				openAssistant = &out[openIdx]
			}
			_ = openAssistant

		case statecore.MessageUser, statecore.MessageAssistant:
			text := m.EffectiveText()
			if text == "" {
				continue
			}
			role := "user"
			if m.Type == statecore.MessageAssistant {
				role = "assistant"
			}
			isLastAssistant := m.Type == statecore.MessageAssistant && isLastVisibleAssistant(msgs, i)
			content := []ContentBlock{{Type: "text", Text: text}}
			if isLastAssistant && hasPendingResults && len(m.ToolUses) > 0 {
				for _, tu := range m.ToolUses {
					content = append(content, ContentBlock{Type: "tool_use", ToolUseID: tu.ID, ToolName: tu.Name, ToolInput: tu.Input})
				}
			}
			out = append(out, ApiMessage{Role: role, Content: content})
			if role == "assistant" {
				openIdx = len(out) - 1
				openAssistant = &out[openIdx]
			} else {
				flushOpen()
			}
		}
	}
	return out
}

func isLastVisibleAssistant(msgs []*statecore.Message, idx int) bool {
	for i := idx + 1; i < len(msgs); i++ {
		if msgs[i].IsVisible() && msgs[i].Type == statecore.MessageAssistant {
			return false
		}
	}
	return true
}
