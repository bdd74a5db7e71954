package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// LibraryEntry is one agent/skill/command prompt. Grounded on
// crates/cp-mod-prompt/src/types.rs's PromptItem (shared shape for the three
// kinds), read back from library_panel.rs's table columns since tools.rs
// for this module was not present in the filtered source pack — agent_load/
// skill_load/skill_unload's exact argument shapes are
// inferred from the panel's own state fields, not ported from a tools.rs
// (see DESIGN.md).
type LibraryEntry struct {
	ID          string
	Name        string
	Description string
	Content     string
	IsBuiltin   bool
}

type libraryKind string

const (
	libraryAgent   libraryKind = "agents"
	librarySkill   libraryKind = "skills"
	libraryCommand libraryKind = "commands"
)

type libraryData struct {
	ActiveAgentID   string   `json:"active_agent_id,omitempty"`
	LoadedSkillIDs  []string `json:"loaded_skill_ids"`
}

// Library is the read-only prompt library: agents (system prompts),
// skills (optionally-loaded prompt snippets), and commands (slash-command
// definitions), loaded from markdown files under .context-pilot/library/.
// Grounded on crates/cp-mod-prompt/src/library_panel.rs; the agent/skill/
// command set itself is file-backed rather than also supporting an
// interactive prompt editor (Library_open_editor/Library_close_editor),
// which has no surviving tools.rs source — see DESIGN.md.
type Library struct {
	handle *statecore.ModuleHandle[libraryData]
	root   string
}

func NewLibrary(s *statecore.State, root string) *Library {
	h := statecore.RegisterModuleHandle(s.ModuleStore, "library", libraryData{})
	return &Library{handle: h, root: root}
}

func (*Library) ID() string          { return "library" }
func (*Library) Name() string        { return "Library" }
func (*Library) Description() string { return "Agent, skill, and command prompt library" }
func (*Library) Dependencies() []string { return nil }
func (*Library) IsCore() bool           { return false }
func (*Library) IsGlobal() bool         { return false }

func (*Library) FixedPanelKinds() []statecore.PanelKind   { return []statecore.PanelKind{statecore.PanelLibrary} }
func (*Library) DynamicPanelKinds() []statecore.PanelKind { return nil }

func (l *Library) SaveData(*statecore.State) (any, error) { return l.handle.Get(), nil }
func (l *Library) LoadData(data any, *statecore.State) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var d libraryData
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	l.handle.Set(d)
	return nil
}

func (*Library) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "agent_load", Name: "Load Agent", Category: "library", Enabled: true, Module: "library",
			Description: "Sets the active system-prompt agent by id.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
				"id": {Type: "string", Description: "Agent id from the library panel's AGENTS table"},
			}},
		},
		{
			ID: "skill_load", Name: "Load Skill", Category: "library", Enabled: true, Module: "library",
			Description: "Adds a skill's prompt content to the active context.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
				"id": {Type: "string", Description: "Skill id from the library panel's SKILLS table"},
			}},
		},
		{
			ID: "skill_unload", Name: "Unload Skill", Category: "library", Enabled: true, Module: "library",
			Description: "Removes a previously loaded skill from the active context.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
				"id": {Type: "string", Description: "Skill id to unload"},
			}},
		},
	}
}

func (l *Library) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "agent_load":
		return l.executeAgentLoad(tu, s), nil
	case "skill_load":
		return l.executeSkillLoad(tu, s), nil
	case "skill_unload":
		return l.executeSkillUnload(tu, s), nil
	default:
		return nil, nil
	}
}

func (l *Library) dir(kind libraryKind) string {
	return filepath.Join(l.root, ".context-pilot", "library", string(kind))
}

// loadEntries parses every *.md file under dir(kind). Front matter (a
// leading "---"-delimited id/name/description block) is optional; a file
// with none is treated as a custom entry keyed by its filename stem.
func (l *Library) loadEntries(kind libraryKind) []LibraryEntry {
	entries, err := os.ReadDir(l.dir(kind))
	if err != nil {
		return nil
	}
	var out []LibraryEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir(kind), e.Name()))
		if err != nil {
			continue
		}
		out = append(out, parseLibraryEntry(strings.TrimSuffix(e.Name(), ".md"), string(data)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func parseLibraryEntry(stem, raw string) LibraryEntry {
	entry := LibraryEntry{ID: stem, Name: stem, Content: raw}
	if !strings.HasPrefix(raw, "---\n") {
		return entry
	}
	rest := raw[4:]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return entry
	}
	header, body := rest[:end], rest[end+5:]
	for _, line := range strings.Split(header, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "id":
			entry.ID = v
		case "name":
			entry.Name = v
		case "description":
			entry.Description = v
		case "built_in":
			entry.IsBuiltin = v == "true"
		}
	}
	entry.Content = strings.TrimLeft(body, "\n")
	return entry
}

func (l *Library) findEntry(kind libraryKind, id string) (LibraryEntry, bool) {
	for _, e := range l.loadEntries(kind) {
		if e.ID == id {
			return e, true
		}
	}
	return LibraryEntry{}, false
}

func (l *Library) executeAgentLoad(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "'id' parameter is required")
	}
	entry, ok := l.findEntry(libraryAgent, id)
	if !ok {
		return errResult(tu.ID, fmt.Sprintf("agent %q not found", id))
	}
	l.handle.Update(func(d libraryData) libraryData {
		d.ActiveAgentID = id
		return d
	})
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelLibrary })
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Active agent set to %q (%s)", id, entry.Name)}
}

func (l *Library) executeSkillLoad(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "'id' parameter is required")
	}
	entry, ok := l.findEntry(librarySkill, id)
	if !ok {
		return errResult(tu.ID, fmt.Sprintf("skill %q not found", id))
	}
	already := false
	l.handle.Update(func(d libraryData) libraryData {
		if containsStr(d.LoadedSkillIDs, id) {
			already = true
			return d
		}
		d.LoadedSkillIDs = append(d.LoadedSkillIDs, id)
		return d
	})
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelLibrary })
	if already {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Skill %q already loaded", id)}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Loaded skill %q (%s)", id, entry.Name)}
}

func (l *Library) executeSkillUnload(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "'id' parameter is required")
	}
	removed := false
	l.handle.Update(func(d libraryData) libraryData {
		if containsStr(d.LoadedSkillIDs, id) {
			d.LoadedSkillIDs = removeStr(d.LoadedSkillIDs, id)
			removed = true
		}
		return d
	})
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelLibrary })
	if !removed {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Skill %q was not loaded", id)}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Unloaded skill %q", id)}
}

// FormatLibraryPanel renders the Library panel's content: markdown tables of
// agents, skills, and commands, matching library_panel.rs's context()
// (minus the prompt-editor-open special case, since editor state isn't
// ported here).
func (l *Library) FormatLibraryPanel() string {
	d := l.handle.Get()
	agents := l.loadEntries(libraryAgent)
	skills := l.loadEntries(librarySkill)
	commands := l.loadEntries(libraryCommand)

	var b strings.Builder
	b.WriteString("Agents (system prompts):\n\n")
	b.WriteString("| ID | Name | Active | Description |\n")
	b.WriteString("|------|------|--------|-------------|\n")
	for _, a := range agents {
		active := ""
		if a.ID == d.ActiveAgentID {
			active = "x"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", a.ID, a.Name, active, a.Description)
	}

	if len(skills) > 0 {
		b.WriteString("\nSkills (use skill_load/skill_unload):\n\n")
		b.WriteString("| ID | Name | Loaded | Description |\n")
		b.WriteString("|------|------|--------|-------------|\n")
		for _, sk := range skills {
			loaded := ""
			if containsStr(d.LoadedSkillIDs, sk.ID) {
				loaded = "x"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", sk.ID, sk.Name, loaded, sk.Description)
		}
	}

	if len(commands) > 0 {
		b.WriteString("\nCommands:\n\n")
		b.WriteString("| Command | Name | Description |\n")
		b.WriteString("|---------|------|-------------|\n")
		for _, c := range commands {
			fmt.Fprintf(&b, "| /%s | %s | %s |\n", c.ID, c.Name, c.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
