package prompt

import (
	"testing"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

func strPtr(s string) *string { return &s }

// TestS2PromptPairing implements spec.md §8 scenario S2: a tool_call message
// followed by its tool_result renders as adjacent assistant/user messages
// with matching tool_use_id, and a plain text exchange renders as simple
// text turns.
func TestS2PromptPairing(t *testing.T) {
	msgs := []*statecore.Message{
		{ID: "U0", Type: statecore.MessageUser, Status: statecore.StatusActive, Text: "list files"},
		{ID: "A1", Type: statecore.MessageToolCall, Status: statecore.StatusActive,
			ToolUses: []statecore.ToolUse{{ID: "tu_1", Name: "glob", Input: map[string]any{"pattern": "*.go"}}}},
		{ID: "R2", Type: statecore.MessageToolResult, Status: statecore.StatusActive,
			ToolResults: []statecore.ToolResultBlock{{ToolUseID: "tu_1", Content: "main.go"}}},
		{ID: "A3", Type: statecore.MessageAssistant, Status: statecore.StatusActive, Text: "found main.go"},
	}

	out := Assemble(Input{Messages: msgs})

	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(out), out)
	}
	if out[0].Role != "user" || out[0].Content[0].Text != "list files" {
		t.Errorf("turn 0 mismatch: %+v", out[0])
	}
	if out[1].Role != "assistant" || out[1].Content[0].Type != "tool_use" || out[1].Content[0].ToolUseID != "tu_1" {
		t.Errorf("turn 1 should be assistant tool_use tu_1: %+v", out[1])
	}
	if out[2].Role != "user" || out[2].Content[0].Type != "tool_result" || out[2].Content[0].ToolUseID != "tu_1" {
		t.Errorf("turn 2 should be user tool_result tu_1: %+v", out[2])
	}
	if out[3].Role != "assistant" || out[3].Content[0].Text != "found main.go" {
		t.Errorf("turn 3 mismatch: %+v", out[3])
	}
}

// TestS3OrphanToolUseSuppression implements spec.md §8 scenario S3: a
// tool_use with no later matching tool_result is dropped from the assembled
// prompt entirely (the assistant message around it may vanish if nothing
// else remains).
func TestS3OrphanToolUseSuppression(t *testing.T) {
	msgs := []*statecore.Message{
		{ID: "U0", Type: statecore.MessageUser, Status: statecore.StatusActive, Text: "hi"},
		{ID: "A1", Type: statecore.MessageToolCall, Status: statecore.StatusActive,
			ToolUses: []statecore.ToolUse{{ID: "tu_orphan", Name: "bash", Input: map[string]any{}}}},
	}

	out := Assemble(Input{Messages: msgs})

	if len(out) != 1 {
		t.Fatalf("expected orphaned tool_use to be fully suppressed, got %d messages: %+v", len(out), out)
	}
	if out[0].Content[0].Text != "hi" {
		t.Errorf("unexpected surviving message: %+v", out[0])
	}
}

// TestToolUseMergesIntoPrecedingAssistant: two tool_call messages in a row
// with no intervening text merge into one assistant message's content list
// rather than producing two separate assistant turns.
func TestToolUseMergesIntoPrecedingAssistant(t *testing.T) {
	msgs := []*statecore.Message{
		{ID: "A0", Type: statecore.MessageToolCall, Status: statecore.StatusActive,
			ToolUses: []statecore.ToolUse{{ID: "tu_1", Name: "glob"}}},
		{ID: "A1", Type: statecore.MessageToolCall, Status: statecore.StatusActive,
			ToolUses: []statecore.ToolUse{{ID: "tu_2", Name: "grep"}}},
		{ID: "R2", Type: statecore.MessageToolResult, Status: statecore.StatusActive,
			ToolResults: []statecore.ToolResultBlock{{ToolUseID: "tu_1", Content: "a"}, {ToolUseID: "tu_2", Content: "b"}}},
	}

	out := Assemble(Input{Messages: msgs})

	if len(out) != 2 {
		t.Fatalf("expected merged assistant turn + result turn, got %d: %+v", len(out), out)
	}
	if len(out[0].Content) != 2 {
		t.Fatalf("expected both tool_use blocks merged into one assistant message, got %+v", out[0])
	}
}

// TestPanelOrderingByLastRefresh implements spec.md §8 property 2: panels
// are injected oldest-refreshed-first.
func TestPanelOrderingByLastRefresh(t *testing.T) {
	panels := []*statecore.ContextElement{
		{ID: "P9", LastRefreshMs: 300, CachedContent: strPtr("c9")},
		{ID: "P10", LastRefreshMs: 100, CachedContent: strPtr("c10")},
		{ID: "P11", LastRefreshMs: 200, CachedContent: strPtr("c11")},
	}

	out := Assemble(Input{Panels: panels})

	// Each panel is a 2-message pair (assistant tool_use, user tool_result),
	// plus a trailing footer pair.
	if len(out) != 4*2 {
		t.Fatalf("expected 3 panel pairs + 1 footer pair, got %d messages", len(out))
	}
	firstPanelToolUseID := out[0].Content[1].ToolUseID
	if firstPanelToolUseID != "panel_P10" {
		t.Errorf("expected P10 (oldest refresh) first, got %s", firstPanelToolUseID)
	}
	secondPanelToolUseID := out[2].Content[1].ToolUseID
	if secondPanelToolUseID != "panel_P11" {
		t.Errorf("expected P11 second, got %s", secondPanelToolUseID)
	}
}

// TestCacheBreakpointsAtQuartiles implements spec.md §8's cache-breakpoint
// hinting: with 4 panels, breakpoints land exactly on indices 1,2,3,4.
func TestCacheBreakpointsAtQuartiles(t *testing.T) {
	panels := make([]*statecore.ContextElement, 4)
	for i := range panels {
		panels[i] = &statecore.ContextElement{ID: "P" + string(rune('9'+i)), LastRefreshMs: int64(i), CachedContent: strPtr("x")}
	}

	out := Assemble(Input{Panels: panels})

	for i := 0; i < 4; i++ {
		resultMsg := out[i*2+1]
		if !resultMsg.Content[0].CacheAnchor {
			t.Errorf("expected panel index %d to be a cache breakpoint", i+1)
		}
	}
}

// TestSeedReinjection checks the seed user/assistant acknowledgement pair is
// inserted between panels and the conversation when a seed is supplied, and
// omitted entirely when it is not.
func TestSeedReinjection(t *testing.T) {
	out := Assemble(Input{SystemPromptSeed: "be concise"})
	if len(out) != 2 {
		t.Fatalf("expected exactly the seed pair, got %d: %+v", len(out), out)
	}
	if out[0].Role != "user" || out[1].Role != "assistant" || out[1].Content[0].Text != seedAckText {
		t.Errorf("seed pair malformed: %+v", out)
	}

	none := Assemble(Input{})
	if len(none) != 0 {
		t.Errorf("expected no messages with no panels/seed/conversation, got %+v", none)
	}
}

// TestPendingResultsAppendedAsFinalUserTurn covers the case of resuming a
// turn loop mid-flight: pending tool results not yet recorded as a Message
// are appended as the final user turn.
func TestPendingResultsAppendedAsFinalUserTurn(t *testing.T) {
	msgs := []*statecore.Message{
		{ID: "U0", Type: statecore.MessageUser, Status: statecore.StatusActive, Text: "go"},
	}
	pending := []statecore.ToolResultBlock{{ToolUseID: "tu_x", Content: "done"}}

	out := Assemble(Input{Messages: msgs, PendingResults: pending})

	last := out[len(out)-1]
	if last.Role != "user" || last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "tu_x" {
		t.Errorf("expected pending result as final user turn, got %+v", last)
	}
}

// TestDeletedAndDetachedMessagesSkipped ensures lifecycle status actually
// removes a message from the assembled prompt.
func TestDeletedAndDetachedMessagesSkipped(t *testing.T) {
	msgs := []*statecore.Message{
		{ID: "U0", Type: statecore.MessageUser, Status: statecore.StatusDeleted, Text: "secret"},
		{ID: "U1", Type: statecore.MessageUser, Status: statecore.StatusDetached, Text: "also hidden"},
		{ID: "U2", Type: statecore.MessageUser, Status: statecore.StatusActive, Text: "visible"},
	}

	out := Assemble(Input{Messages: msgs})

	if len(out) != 1 || out[0].Content[0].Text != "visible" {
		t.Fatalf("expected only the active message to survive, got %+v", out)
	}
}

// TestSummarizedMessageUsesTLDR ensures EffectiveText's TLDR substitution is
// honored in assembled output.
func TestSummarizedMessageUsesTLDR(t *testing.T) {
	msgs := []*statecore.Message{
		{ID: "U0", Type: statecore.MessageUser, Status: statecore.StatusSummarized, Text: "a very long message", TLDR: "short"},
	}

	out := Assemble(Input{Messages: msgs})

	if len(out) != 1 || out[0].Content[0].Text != "short" {
		t.Fatalf("expected TLDR substitution, got %+v", out)
	}
}

// TestDeterministicOutput implements spec.md §8 property: identical input
// produces byte-identical (structurally identical) output across repeated
// calls.
func TestDeterministicOutput(t *testing.T) {
	panels := []*statecore.ContextElement{
		{ID: "P9", LastRefreshMs: 50, CachedContent: strPtr("x")},
	}
	msgs := []*statecore.Message{
		{ID: "U0", Type: statecore.MessageUser, Status: statecore.StatusActive, Text: "hello"},
	}

	first := Assemble(Input{Panels: panels, Messages: msgs, SystemPromptSeed: "seed"})
	second := Assemble(Input{Panels: panels, Messages: msgs, SystemPromptSeed: "seed"})

	if len(first) != len(second) {
		t.Fatalf("non-deterministic length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Role != second[i].Role || len(first[i].Content) != len(second[i].Content) {
			t.Errorf("non-deterministic at index %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
