package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextpilot/contextpilot/internal/config"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// PresetPanelConfig snapshots one dynamic panel for preset_save/preset_load.
// Grounded on crates/cp-mod-preset/src/types.rs's PresetPanelConfig, scoped
// down to the generic Kind/DisplayName/Metadata a ContextElement already
// carries rather than the original's named per-panel-kind fields
// (file_path/glob_pattern/tmux_pane_id/...) — see DESIGN.md.
type PresetPanelConfig struct {
	Kind        statecore.PanelKind `json:"kind"`
	DisplayName string              `json:"display_name"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// PresetWorkerState is the restorable slice of worker state a preset
// captures. The original's PresetWorkerState also carries active_agent_id,
// loaded_skill_ids, and a per-module save_module_data blob; none of those
// are captured here (the active agent and loaded skills live in the library
// module's private state, which this module does not read, and wiring
// per-module data capture back through this module would need a
// dependency on the tool registry that owns the module list, which would
// create an import cycle with internal/tool) — see DESIGN.md.
type PresetWorkerState struct {
	ActiveModules []string            `json:"active_modules"`
	DisabledTools []string            `json:"disabled_tools"`
	DynamicPanels []PresetPanelConfig `json:"dynamic_panels"`
}

// PresetFile is one snapshot, serialized to presets/{name}.json. Grounded on
// crates/cp-mod-preset/src/types.rs's Preset.
type PresetFile struct {
	PresetName  string            `json:"preset_name"`
	Description string            `json:"description"`
	BuiltIn     bool              `json:"built_in"`
	WorkerState PresetWorkerState `json:"worker_state"`
}

// Preset snapshots and restores the active module set, disabled tools, and
// dynamic panel layout to named files under .context-pilot/presets/.
// Grounded on crates/cp-mod-preset/src/tools.rs.
type Preset struct {
	root string
}

func NewPreset(_ *statecore.State, root string) *Preset {
	return &Preset{root: root}
}

func (*Preset) ID() string          { return "preset" }
func (*Preset) Name() string        { return "Preset" }
func (*Preset) Description() string { return "Saves and restores module/panel layout snapshots" }
func (*Preset) Dependencies() []string { return nil }
func (*Preset) IsCore() bool           { return false }
func (*Preset) IsGlobal() bool         { return true }

func (*Preset) FixedPanelKinds() []statecore.PanelKind   { return nil }
func (*Preset) DynamicPanelKinds() []statecore.PanelKind { return nil }

// SaveData/LoadData are no-ops: a preset's content lives entirely in its own
// file under presets/, not in the generic per-module worker-state blob.
func (*Preset) SaveData(*statecore.State) (any, error) { return nil, nil }
func (*Preset) LoadData(any, *statecore.State) error   { return nil }

func (p *Preset) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "preset_save", Name: "Save Preset", Category: "preset", Enabled: true, Module: "preset",
			Description: "Snapshots the current active modules, disabled tools, and dynamic panel layout to a named preset.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"name", "description"}, Properties: map[string]*statecore.ParamSchema{
				"name":        {Type: "string", Description: "Preset name (alphanumeric and hyphens only); also the filename"},
				"description": {Type: "string", Description: "Human-readable summary of what this preset is for"},
				"replace":     {Type: "string", Description: "Name of an existing non-built-in preset to overwrite instead of erroring on a name collision"},
			}},
		},
		{
			ID: "preset_load", Name: "Load Preset", Category: "preset", Enabled: true, Module: "preset",
			Description: "Restores active modules, disabled tools, and dynamic panel layout from a saved preset. " +
				"Core modules always stay active regardless of the preset contents.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"name"}, Properties: map[string]*statecore.ParamSchema{
				"name": {Type: "string", Description: "Preset name to load"},
			}},
		},
		{
			ID: "preset_list", Name: "List Presets", Category: "preset", Enabled: true, Module: "preset",
			Description: "Lists all saved presets with their descriptions.",
			Params:      &statecore.ParamSchema{Type: "object"},
		},
	}
}

func (p *Preset) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "preset_save":
		return p.executeSave(tu, s), nil
	case "preset_load":
		return p.executeLoad(tu, s), nil
	case "preset_list":
		return p.executeList(tu), nil
	default:
		return nil, nil
	}
}

func (p *Preset) presetsDir() string {
	return filepath.Join(p.root, config.Dir, "presets")
}

func (p *Preset) presetPath(name string) string {
	return filepath.Join(p.presetsDir(), name+".json")
}

func validatePresetName(name string) error {
	if name == "" {
		return fmt.Errorf("preset name cannot be empty")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return fmt.Errorf("preset name must contain only alphanumeric characters and hyphens")
		}
	}
	return nil
}

func (p *Preset) executeSave(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	name := str(tu.Input, "name")
	description := str(tu.Input, "description")
	if name == "" {
		return errResult(tu.ID, "'name' parameter is required")
	}
	if description == "" {
		return errResult(tu.ID, "'description' parameter is required")
	}
	if err := validatePresetName(name); err != nil {
		return errResult(tu.ID, err.Error())
	}

	destPath := p.presetPath(name)
	if replace := str(tu.Input, "replace"); replace != "" {
		replacePath := p.presetPath(replace)
		if existing, err := loadPresetFile(replacePath); err == nil {
			if existing.BuiltIn {
				return errResult(tu.ID, fmt.Sprintf("cannot replace built-in preset %q", replace))
			}
			_ = os.Remove(replacePath)
		}
		destPath = p.presetPath(name)
	} else if _, err := os.Stat(destPath); err == nil {
		return errResult(tu.ID, fmt.Sprintf("preset %q already exists; use the 'replace' parameter to overwrite it", name))
	}

	s.RLock()
	var activeModules []string
	for id, on := range s.ActiveModules {
		if on {
			activeModules = append(activeModules, id)
		}
	}
	sort.Strings(activeModules)

	var disabledTools []string
	for _, t := range s.Tools {
		if !t.Enabled {
			disabledTools = append(disabledTools, t.ID)
		}
	}
	sort.Strings(disabledTools)

	var panels []PresetPanelConfig
	for _, c := range s.Panels {
		if statecore.IsFixed(c.Kind) {
			continue
		}
		panels = append(panels, PresetPanelConfig{Kind: c.Kind, DisplayName: c.DisplayName, Metadata: c.Metadata})
	}
	s.RUnlock()

	preset := PresetFile{
		PresetName:  name,
		Description: description,
		WorkerState: PresetWorkerState{ActiveModules: activeModules, DisabledTools: disabledTools, DynamicPanels: panels},
	}
	if err := os.MkdirAll(p.presetsDir(), 0755); err != nil {
		return errResult(tu.ID, fmt.Sprintf("creating presets directory: %v", err))
	}
	data, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("serializing preset: %v", err))
	}
	if err := os.WriteFile(destPath, append(data, '\n'), 0644); err != nil {
		return errResult(tu.ID, fmt.Sprintf("writing preset file: %v", err))
	}

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf(
		"Preset %q saved (%d modules, %d dynamic panels)", name, len(activeModules), len(panels))}
}

func (p *Preset) executeLoad(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	name := str(tu.Input, "name")
	if name == "" {
		return errResult(tu.ID, "'name' parameter is required")
	}
	preset, err := loadPresetFile(p.presetPath(name))
	if err != nil {
		available := p.listNames()
		if len(available) == 0 {
			return errResult(tu.ID, fmt.Sprintf("preset %q not found; no presets available", name))
		}
		return errResult(tu.ID, fmt.Sprintf("preset %q not found; available presets: %s", name, strings.Join(available, ", ")))
	}

	ws := preset.WorkerState
	s.Lock()
	// s.ActiveModules is shared by reference with tool.Dispatch, so it is
	// mutated in place (clear + refill) rather than reassigned — matching
	// tool.Dispatch.executeModuleToggle's own activate/deactivate pattern.
	keepAlwaysOn := map[string]bool{}
	for id := range s.ActiveModules {
		if isAlwaysOnModule(id) {
			keepAlwaysOn[id] = true
		}
	}
	for id := range s.ActiveModules {
		delete(s.ActiveModules, id)
	}
	for _, id := range ws.ActiveModules {
		s.ActiveModules[id] = true
	}
	for id := range keepAlwaysOn {
		s.ActiveModules[id] = true
	}

	disabledSet := map[string]bool{}
	for _, id := range ws.DisabledTools {
		disabledSet[id] = true
	}
	for _, t := range s.Tools {
		if t.ID == "tool_manage" || t.ID == "module_toggle" {
			continue
		}
		if disabledSet[t.ID] {
			t.Enabled = false
		}
	}

	kept := s.Panels[:0]
	for _, c := range s.Panels {
		if statecore.IsFixed(c.Kind) {
			kept = append(kept, c)
		}
	}
	s.Panels = kept
	for _, pc := range ws.DynamicPanels {
		s.Panels = append(s.Panels, &statecore.ContextElement{
			ID: s.NextPanelID(), Kind: pc.Kind, DisplayName: pc.DisplayName, Metadata: pc.Metadata, CacheDeprecated: true,
		})
	}
	for _, c := range s.Panels {
		c.CacheDeprecated = true
	}
	moduleCount := len(s.ActiveModules)
	panelCount := len(ws.DynamicPanels)
	s.Unlock()

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf(
		"Loaded preset %q: %s — %d modules, %d dynamic panels restored", name, preset.Description, moduleCount, panelCount)}
}

// isAlwaysOnModule reports whether id names a core module that must never be
// deactivated by preset_load. The preset module only has the active-module
// id set on hand (not the Registry's IsCore flags, to avoid importing
// internal/tool here), so it hardcodes the core module ids defined by this
// codebase (core.go and files.go) rather than asking the registry.
func isAlwaysOnModule(id string) bool {
	return id == "core" || id == "files"
}

func (p *Preset) executeList(tu statecore.ToolUse) *statecore.ToolResultBlock {
	entries := p.listWithInfo()
	if len(entries) == 0 {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "No presets saved."}
	}
	var b strings.Builder
	for _, e := range entries {
		builtin := ""
		if e.BuiltIn {
			builtin = " [built-in]"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", e.PresetName, builtin, e.Description)
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: strings.TrimRight(b.String(), "\n")}
}

func (p *Preset) listNames() []string {
	var names []string
	for _, e := range p.listWithInfo() {
		names = append(names, e.PresetName)
	}
	return names
}

func (p *Preset) listWithInfo() []PresetFile {
	entries, err := os.ReadDir(p.presetsDir())
	if err != nil {
		return nil
	}
	var out []PresetFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		pf, err := loadPresetFile(filepath.Join(p.presetsDir(), e.Name()))
		if err != nil {
			continue
		}
		out = append(out, pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PresetName < out[j].PresetName })
	return out
}

func loadPresetFile(path string) (PresetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PresetFile{}, err
	}
	var pf PresetFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PresetFile{}, err
	}
	return pf, nil
}
