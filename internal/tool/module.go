// Package tool implements Tool Dispatch & Modules (C7): the pluggable unit
// that declares tools, owns panel kinds, and mutates shared state. Grounded
// on original_source/src/modules/mod.rs's Module trait and dispatch_tool.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/contextpilot/contextpilot/internal/llm"
	"github.com/contextpilot/contextpilot/internal/panel"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Module is the plug-in unit (spec.md §4.7).
type Module interface {
	ID() string
	Name() string
	Description() string
	Dependencies() []string
	IsCore() bool
	IsGlobal() bool

	ToolDefinitions() []statecore.ToolDefinition
	// Execute returns (nil, nil) when the module doesn't own tu.Name.
	Execute(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error)

	FixedPanelKinds() []statecore.PanelKind
	DynamicPanelKinds() []statecore.PanelKind

	SaveData(s *statecore.State) (any, error)
	LoadData(data any, s *statecore.State) error
}

// Registry holds every known module in fixed dispatch order (spec.md §4.7:
// "modules are consulted in fixed order and the first Some(result) wins").
type Registry struct {
	modules []Module
	byID    map[string]Module
}

// NewRegistry builds a registry from a fixed-order module list.
func NewRegistry(modules []Module) *Registry {
	byID := make(map[string]Module, len(modules))
	for _, m := range modules {
		byID[m.ID()] = m
	}
	return &Registry{modules: modules, byID: byID}
}

func (r *Registry) Lookup(id string) (Module, bool) {
	m, ok := r.byID[id]
	return m, ok
}

func (r *Registry) All() []Module { return r.modules }

// ActiveToolDefinitions collects tool definitions from every active module,
// in fixed module order.
func (r *Registry) ActiveToolDefinitions(active map[string]bool) []statecore.ToolDefinition {
	var out []statecore.ToolDefinition
	for _, m := range r.modules {
		if active[m.ID()] {
			out = append(out, m.ToolDefinitions()...)
		}
	}
	return out
}

// ValidateDependencies checks every active module's dependencies are
// themselves active. Called at startup (spec.md §4.7).
func (r *Registry) ValidateDependencies(active map[string]bool) error {
	for _, m := range r.modules {
		if !active[m.ID()] {
			continue
		}
		for _, dep := range m.Dependencies() {
			if !active[dep] {
				return fmt.Errorf("module %q depends on %q, but %q is not active", m.ID(), dep, dep)
			}
		}
	}
	return nil
}

// CheckCanDeactivate implements spec.md §4.7's module togglability rules
// (a) refused if a dependent is active, (b) refused for core modules.
func (r *Registry) CheckCanDeactivate(id string, active map[string]bool) error {
	m, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("unknown module %q", id)
	}
	if m.IsCore() {
		return fmt.Errorf("cannot deactivate core module %q", id)
	}
	for _, other := range r.modules {
		if other.ID() == id || !active[other.ID()] {
			continue
		}
		for _, dep := range other.Dependencies() {
			if dep == id {
				return fmt.Errorf("cannot deactivate %q: required by %q", id, other.ID())
			}
		}
	}
	return nil
}

// Dispatch routes a tool_use to the first active module that owns it. It
// implements llm.Dispatcher so the turn loop can drive it directly.
type Dispatch struct {
	reg    *Registry
	panels *panel.Registry
	active map[string]bool
}

// NewDispatch builds a llm.Dispatcher backed by reg, consulting active for
// which modules currently participate.
func NewDispatch(reg *Registry, panels *panel.Registry, active map[string]bool) *Dispatch {
	return &Dispatch{reg: reg, panels: panels, active: active}
}

var _ llm.Dispatcher = (*Dispatch)(nil)

// Dispatch implements llm.Dispatcher. module_toggle is handled centrally
// ahead of the per-module scan, matching original_source/src/modules/mod.rs's
// dispatch_tool (the Core module only advertises it via
// ToolDefinitions for discoverability). tool_manage, by contrast, is a
// normal module-owned tool: it falls through to the per-module scan below
// and is handled by the Core module's Execute.
func (d *Dispatch) Dispatch(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	if tu.Name == "module_toggle" && d.active["core"] {
		return d.executeModuleToggle(tu, s)
	}

	for _, m := range d.reg.modules {
		if !d.active[m.ID()] {
			continue
		}
		res, err := m.Execute(ctx, tu, s)
		if res != nil || err != nil {
			// preset_load changes s.ActiveModules directly (see
			// module/preset.go) without going through executeModuleToggle,
			// so s.Tools needs the same rebuild module_toggle triggers
			// itself; it can't call RebuildTools itself without importing
			// this package back, so Dispatch does it here instead.
			if tu.Name == "preset_load" && err == nil && res != nil && !res.IsError {
				d.RebuildTools(s)
			}
			return res, err
		}
	}

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Unknown tool: %s", tu.Name), IsError: true}, nil
}

// RebuildTools regenerates s.Tools from the active module set, preserving
// any per-tool enable/disable the user has made (spec.md §4.7 rule d).
func (d *Dispatch) RebuildTools(s *statecore.State) {
	s.Lock()
	defer s.Unlock()

	disabled := map[string]bool{}
	for _, t := range s.Tools {
		if !t.Enabled {
			disabled[t.ID] = true
		}
	}

	defs := d.reg.ActiveToolDefinitions(d.active)
	tools := make([]*statecore.ToolDefinition, 0, len(defs))
	for i := range defs {
		t := defs[i]
		if !statecore.IsUnkillable(t.ID) && disabled[t.ID] {
			t.Enabled = false
		}
		tools = append(tools, &t)
	}
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Category < tools[j].Category })
	s.Tools = tools
}

type moduleToggleChange struct {
	Module string `json:"module"`
	Action string `json:"action"`
}

// executeModuleToggle implements spec.md §4.7's activation/deactivation tool,
// grounded on original_source/src/modules/mod.rs's execute_module_toggle.
func (d *Dispatch) executeModuleToggle(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	raw, ok := tu.Input["changes"].([]any)
	if !ok {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "Missing 'changes' parameter (expected array)", IsError: true}, nil
	}

	var successes, failures []string

	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			failures = append(failures, fmt.Sprintf("Change %d: malformed entry", i+1))
			continue
		}
		moduleID, _ := m["module"].(string)
		action, _ := m["action"].(string)
		if moduleID == "" {
			failures = append(failures, fmt.Sprintf("Change %d: missing 'module' field", i+1))
			continue
		}
		if action == "" {
			failures = append(failures, fmt.Sprintf("Change %d: missing 'action' field", i+1))
			continue
		}
		mod, known := d.reg.Lookup(moduleID)
		if !known {
			failures = append(failures, fmt.Sprintf("Change %d: unknown module '%s'", i+1, moduleID))
			continue
		}

		switch action {
		case "activate":
			if d.active[moduleID] {
				successes = append(successes, fmt.Sprintf("'%s' already active", moduleID))
				continue
			}
			d.active[moduleID] = true
			d.RebuildTools(s)
			successes = append(successes, fmt.Sprintf("activated '%s' (%s)", mod.Name(), mod.Description()))
		case "deactivate":
			if !d.active[moduleID] {
				successes = append(successes, fmt.Sprintf("'%s' already inactive", moduleID))
				continue
			}
			if err := d.reg.CheckCanDeactivate(moduleID, d.active); err != nil {
				failures = append(failures, fmt.Sprintf("Change %d: %s", i+1, err))
				continue
			}
			fixed := mod.FixedPanelKinds()
			dynamic := mod.DynamicPanelKinds()
			s.Lock()
			kept := s.Panels[:0]
			for _, p := range s.Panels {
				if containsKind(fixed, p.Kind) || containsKind(dynamic, p.Kind) {
					continue
				}
				kept = append(kept, p)
			}
			s.Panels = kept
			s.Unlock()

			delete(d.active, moduleID)
			d.RebuildTools(s)
			successes = append(successes, fmt.Sprintf("deactivated '%s'", moduleID))
		default:
			failures = append(failures, fmt.Sprintf("Change %d: invalid action '%s' (use 'activate' or 'deactivate')", i+1, action))
		}
	}

	content := joinResultParts(successes, failures)
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: content, IsError: len(failures) > 0 && len(successes) == 0}, nil
}

func containsKind(kinds []statecore.PanelKind, k statecore.PanelKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func joinResultParts(successes, failures []string) string {
	var out []string
	if len(successes) > 0 {
		out = append(out, "OK: "+strings.Join(successes, ", "))
	}
	if len(failures) > 0 {
		out = append(out, "FAILED: "+strings.Join(failures, "; "))
	}
	return strings.Join(out, "\n")
}
