package module

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Core owns the Overview/Tools fixed panels and the always-on system tools:
// Close_panel, reload, and tool_manage. Grounded on
// original_source/src/modules/overview/mod.rs, whose OverviewModule.id()
// is literally "core" — the original's Core module and Overview module are
// one and the same type. module_toggle is declared on this module for
// discoverability but, per mod.rs's dispatch_tool, its execution is routed
// centrally by Dispatch.executeModuleToggle rather than through Execute
// here. Close_panel/tool_manage have no surviving source in the pack
// (only their ToolDefinition schemas in mod.rs); their execution below is
// inferred from those schemas. No panel_goto_page tool is declared.
type Core struct{}

func NewCore() *Core { return &Core{} }

func (*Core) ID() string             { return "core" }
func (*Core) Name() string           { return "Overview" }
func (*Core) Description() string    { return "Overview panel and system tools" }
func (*Core) Dependencies() []string { return nil }
func (*Core) IsCore() bool           { return true }
func (*Core) IsGlobal() bool         { return true }

func (*Core) FixedPanelKinds() []statecore.PanelKind {
	return []statecore.PanelKind{statecore.PanelOverview, statecore.PanelTools}
}
func (*Core) DynamicPanelKinds() []statecore.PanelKind { return nil }

func (*Core) SaveData(*statecore.State) (any, error) { return nil, nil }
func (*Core) LoadData(any, *statecore.State) error   { return nil }

func (*Core) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "Close_panel", Name: "Close Panel", Category: "Context", Enabled: true, Module: "core",
			Description: "Closes context elements by their IDs (e.g., P6, P7). Cannot close core elements (P1-P6).",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"ids"}, Properties: map[string]*statecore.ParamSchema{
				"ids": {Type: "array", Description: "Panel IDs to close", Items: &statecore.ParamSchema{Type: "string"}},
			}},
		},
		{
			ID: "reload", Name: "Reload", Category: "System", Enabled: true, Module: "core",
			Description: "Reloads the application to apply changes. State is preserved.",
			Params:      &statecore.ParamSchema{Type: "object"},
		},
		{
			ID: "tool_manage", Name: "Manage Tools", Category: "System", Enabled: true, Module: "core",
			Description: "Enables or disables tools. This tool cannot be disabled.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"changes"}, Properties: map[string]*statecore.ParamSchema{
				"changes": {Type: "array", Description: "Tool enable/disable changes", Items: &statecore.ParamSchema{
					Type: "object", Required: []string{"tool", "action"}, Properties: map[string]*statecore.ParamSchema{
						"tool":   {Type: "string", Description: "Tool ID"},
						"action": {Type: "string", Description: "enable or disable", Enum: []string{"enable", "disable"}},
					},
				}},
			}},
		},
	}
}

func (c *Core) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "Close_panel":
		return c.executeClosePanel(tu, s), nil
	case "reload":
		return c.executeReload(tu, s), nil
	case "tool_manage":
		return c.executeToolManage(tu, s), nil
	default:
		return nil, nil
	}
}

// coreFixedIDs are the reserved fixed-panel ids (P1-P6) that Close_panel
// refuses to touch, per mod.rs's ToolDefinition description for Close_panel.
var coreFixedIDs = map[string]bool{"P1": true, "P2": true, "P3": true, "P4": true, "P5": true, "P6": true}

func (c *Core) executeClosePanel(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	raw, ok := tu.Input["ids"].([]any)
	if !ok || len(raw) == 0 {
		return errResult(tu.ID, "Missing 'ids' array parameter")
	}

	var closed, refused, missing []string
	for _, v := range raw {
		id, _ := v.(string)
		if id == "" {
			continue
		}
		if coreFixedIDs[id] {
			refused = append(refused, id)
			continue
		}
		if s.RemovePanel(id) {
			closed = append(closed, id)
		} else {
			missing = append(missing, id)
		}
	}

	var parts []string
	if len(closed) > 0 {
		parts = append(parts, fmt.Sprintf("Closed: %s", strings.Join(closed, ", ")))
	}
	if len(refused) > 0 {
		parts = append(parts, fmt.Sprintf("Refused (core elements): %s", strings.Join(refused, ", ")))
	}
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf("Not found: %s", strings.Join(missing, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "No panel IDs supplied")
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: strings.Join(parts, "\n"), IsError: len(closed) == 0}
}

// executeReload acknowledges a reload request. Grounded on mod.rs's
// system_reload: in the original TUI this redraws from persisted state; a
// headless worker has nothing to redraw, so it only clears transient
// bookkeeping that a fresh process would otherwise start clean with.
func (c *Core) executeReload(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	s.Lock()
	s.APIRetryCount = 0
	s.Unlock()
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "Reloaded. State is preserved."}
}

func (c *Core) executeToolManage(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	raw, ok := tu.Input["changes"].([]any)
	if !ok || len(raw) == 0 {
		return errResult(tu.ID, "Missing 'changes' array parameter")
	}

	s.Lock()
	defer s.Unlock()

	byID := make(map[string]*statecore.ToolDefinition, len(s.Tools))
	for _, t := range s.Tools {
		byID[t.ID] = t
	}

	var successes, failures []string
	for i, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			failures = append(failures, fmt.Sprintf("Change %d: malformed entry", i+1))
			continue
		}
		id := str(m, "tool")
		action := str(m, "action")
		if id == "" || action == "" {
			failures = append(failures, fmt.Sprintf("Change %d: missing 'tool' or 'action'", i+1))
			continue
		}
		if statecore.IsUnkillable(id) {
			failures = append(failures, fmt.Sprintf("'%s' cannot be disabled", id))
			continue
		}
		t, known := byID[id]
		if !known {
			failures = append(failures, fmt.Sprintf("unknown tool '%s'", id))
			continue
		}
		switch action {
		case "enable":
			t.Enabled = true
			successes = append(successes, fmt.Sprintf("enabled '%s'", id))
		case "disable":
			t.Enabled = false
			successes = append(successes, fmt.Sprintf("disabled '%s'", id))
		default:
			failures = append(failures, fmt.Sprintf("Change %d: invalid action '%s'", i+1, action))
		}
	}

	content := joinToolManageParts(successes, failures)
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: content, IsError: len(failures) > 0 && len(successes) == 0}
}

func joinToolManageParts(successes, failures []string) string {
	var out []string
	if len(successes) > 0 {
		out = append(out, "OK: "+strings.Join(successes, ", "))
	}
	if len(failures) > 0 {
		out = append(out, "FAILED: "+strings.Join(failures, "; "))
	}
	return strings.Join(out, "\n")
}

// FormatOverview renders the Overview panel's content: active modules and
// open panel count, matching overview/mod.rs's role as the always-present
// orientation panel. Unlike Tree/Grep/Glob, Overview and Tools are cheap to
// compute synchronously and are refreshed inline by the entrypoint rather
// than through cache.Pipeline.
func (c *Core) FormatOverview(s *statecore.State) string {
	s.RLock()
	defer s.RUnlock()
	var active []string
	for id, on := range s.ActiveModules {
		if on {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	var b strings.Builder
	fmt.Fprintf(&b, "Active modules: %s\n", strings.Join(active, ", "))
	fmt.Fprintf(&b, "Open panels: %d\n", len(s.Panels))
	if s.GuardRailBlocked != nil {
		fmt.Fprintf(&b, "Blocked: %s\n", *s.GuardRailBlocked)
	}
	fmt.Fprintf(&b, "Accumulated cost: $%.4f\n", s.AccumulatedCostUSD)
	return strings.TrimRight(b.String(), "\n")
}

// FormatTools renders the Tools panel's content: one line per tool with its
// enabled/disabled status, sorted by module then id, matching
// overview/mod.rs's tools listing.
func (c *Core) FormatTools(s *statecore.State) string {
	s.RLock()
	defer s.RUnlock()
	tools := append([]*statecore.ToolDefinition(nil), s.Tools...)
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Module != tools[j].Module {
			return tools[i].Module < tools[j].Module
		}
		return tools[i].ID < tools[j].ID
	})
	var b strings.Builder
	for _, t := range tools {
		status := "enabled"
		if !t.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", t.ID, t.Module, status, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
