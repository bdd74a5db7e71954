package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/contextpilot/contextpilot/internal/config"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Callback lets the model register shell scripts against a glob pattern of
// changed files, stores them in scripts/hooks.toml, and owns the fixed
// Callback panel that lists them. No code in this build runs a registered
// script when files change. Grounded on
// original_source/crates/cp-mod-callback/src/{tools_upsert.rs,panel.rs}.
//
// The original also supports a diff-based script edit (old_string/new_string)
// gated behind a separate "editor open" tool (Callback_open_editor /
// Callback_close_editor) whose source was not present in the filtered pack.
// That precondition and the editor-open state are not ported; callback_update
// only supports full script replacement (see DESIGN.md).
type Callback struct {
	handle *statecore.ModuleHandle[*config.HookRegistry]
	root   string
}

// NewCallback loads scripts/hooks.toml from root (creating an empty registry
// if absent) and registers the module's private state slot on s.
func NewCallback(s *statecore.State, root string) (*Callback, error) {
	reg, err := config.LoadHookRegistry(root)
	if err != nil {
		return nil, fmt.Errorf("loading hook registry: %w", err)
	}
	h := statecore.RegisterModuleHandle(s.ModuleStore, "callback", reg)
	return &Callback{handle: h, root: root}, nil
}

func (*Callback) ID() string          { return "callback" }
func (*Callback) Name() string        { return "Callback" }
func (*Callback) Description() string { return "File-change triggered shell script hooks" }
func (*Callback) Dependencies() []string { return nil }
func (*Callback) IsCore() bool           { return false }
func (*Callback) IsGlobal() bool         { return false }

func (*Callback) FixedPanelKinds() []statecore.PanelKind   { return []statecore.PanelKind{statecore.PanelCallback} }
func (*Callback) DynamicPanelKinds() []statecore.PanelKind { return nil }

// SaveData/LoadData are no-ops: scripts/hooks.toml is the durable copy and
// is written directly by config.SaveHookRegistry after every mutation, not
// round-tripped through the generic worker-state blob.
func (*Callback) SaveData(*statecore.State) (any, error) { return nil, nil }
func (*Callback) LoadData(any, *statecore.State) error    { return nil }

func (*Callback) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "callback_create", Name: "Create Callback", Category: "callback", Enabled: true, Module: "callback",
			Description: "Registers a shell script under a glob pattern of changed file paths and saves it under scripts/. " +
				"Registered scripts are not run when files change; nothing in this build executes them.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"name", "pattern", "script_content"}, Properties: map[string]*statecore.ParamSchema{
				"name":            {Type: "string", Description: "Unique callback name; also the script filename"},
				"pattern":         {Type: "string", Description: "Glob pattern matched against changed file paths"},
				"script_content":  {Type: "string", Description: "Bash script body (shebang and set -euo pipefail are added automatically)"},
				"description":     {Type: "string", Description: "What this callback does"},
				"blocking":        {Type: "boolean", Description: "If true, the turn waits for the script to finish", Default: false},
				"timeout":         {Type: "integer", Description: "Max execution seconds; required when blocking is true"},
				"success_message": {Type: "string", Description: "Message to surface when the script exits 0"},
				"cwd":             {Type: "string", Description: "Working directory for the script; defaults to project root"},
				"one_at_a_time":   {Type: "boolean", Description: "Serialize runs of this callback instead of overlapping them", Default: false},
			}},
		},
		{
			ID: "callback_update", Name: "Update Callback", Category: "callback", Enabled: true, Module: "callback",
			Description: "Updates an existing callback's metadata and/or replaces its script body wholesale.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
				"id":              {Type: "string", Description: "Callback id, e.g. CB1"},
				"name":            {Type: "string", Description: "Rename the callback (also renames its script file)"},
				"pattern":         {Type: "string", Description: "New glob pattern"},
				"description":     {Type: "string", Description: "New description"},
				"script_content":  {Type: "string", Description: "Full replacement script body"},
				"blocking":        {Type: "boolean", Description: "New blocking flag"},
				"timeout":         {Type: "integer", Description: "New timeout in seconds"},
				"success_message": {Type: "string", Description: "New success message"},
				"cwd":             {Type: "string", Description: "New working directory"},
				"one_at_a_time":   {Type: "boolean", Description: "New one-at-a-time flag"},
			}},
		},
		{
			ID: "callback_delete", Name: "Delete Callback", Category: "callback", Enabled: true, Module: "callback",
			Description: "Removes a callback and deletes its script file.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
				"id": {Type: "string", Description: "Callback id, e.g. CB1"},
			}},
		},
		{
			ID: "callback_toggle", Name: "Toggle Callback", Category: "callback", Enabled: true, Module: "callback",
			Description: "Enables or disables a callback without deleting it.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id", "enabled"}, Properties: map[string]*statecore.ParamSchema{
				"id":      {Type: "string", Description: "Callback id, e.g. CB1"},
				"enabled": {Type: "boolean", Description: "Whether the callback should run"},
			}},
		},
	}
}

func (c *Callback) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "callback_create":
		return c.executeCreate(tu, s), nil
	case "callback_update":
		return c.executeUpdate(tu, s), nil
	case "callback_delete":
		return c.executeDelete(tu, s), nil
	case "callback_toggle":
		return c.executeToggle(tu, s), nil
	default:
		return nil, nil
	}
}

func (c *Callback) scriptsDir() string {
	return filepath.Join(c.root, config.Dir, "scripts")
}

func (c *Callback) scriptPath(name string) string {
	return filepath.Join(c.scriptsDir(), name+".sh")
}

func (c *Callback) persist(s *statecore.State) error {
	return config.SaveHookRegistry(c.root, c.handle.Get())
}

func (c *Callback) executeCreate(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	name := str(tu.Input, "name")
	pattern := str(tu.Input, "pattern")
	scriptContent := str(tu.Input, "script_content")
	if name == "" {
		return errResult(tu.ID, "'name' parameter is required")
	}
	if pattern == "" {
		return errResult(tu.ID, "'pattern' parameter is required")
	}
	if scriptContent == "" {
		return errResult(tu.ID, "'script_content' parameter is required")
	}
	if !doublestar.ValidatePattern(pattern) {
		return errResult(tu.ID, fmt.Sprintf("invalid glob pattern %q", pattern))
	}

	blocking, _ := tu.Input["blocking"].(bool)
	timeout := intField(tu.Input, "timeout", 0)
	if blocking && timeout <= 0 {
		return errResult(tu.ID, "blocking callbacks require a 'timeout' parameter (max execution seconds)")
	}

	reg := c.handle.Get()
	if _, exists := reg.Hooks[name]; exists {
		return errResult(tu.ID, fmt.Sprintf("a callback named %q already exists; use callback_update or pick a different name", name))
	}

	if err := os.MkdirAll(c.scriptsDir(), 0755); err != nil {
		return errResult(tu.ID, fmt.Sprintf("creating scripts directory: %v", err))
	}
	description := str(tu.Input, "description")
	fullScript := renderCallbackScript(name, pattern, description, scriptContent)
	if err := os.WriteFile(c.scriptPath(name), []byte(fullScript), 0755); err != nil {
		return errResult(tu.ID, fmt.Sprintf("writing script file: %v", err))
	}
	if err := os.Chmod(c.scriptPath(name), 0755); err != nil {
		return errResult(tu.ID, fmt.Sprintf("making script executable: %v", err))
	}

	hook := config.RegistryHook{
		ID: reg.NextHookID(), Description: description, Event: "file-change",
		Matchers: []string{pattern}, Command: c.scriptPath(name), Scope: "project",
		Enabled: true, Blocking: blocking, TimeoutSecs: timeout,
		SuccessMessage: str(tu.Input, "success_message"), OneAtATime: oneAtATime(tu.Input),
		CWD: str(tu.Input, "cwd"),
	}
	c.handle.Update(func(r *config.HookRegistry) *config.HookRegistry {
		r.Hooks[name] = hook
		return r
	})
	if err := c.persist(s); err != nil {
		return errResult(tu.ID, fmt.Sprintf("saving hook registry: %v", err))
	}

	msg := fmt.Sprintf("Created callback %s [%s]:\n  Pattern: %s\n  Blocking: %v\n  Script: %s/scripts/%s.sh",
		hook.ID, name, pattern, blocking, config.Dir, name)
	if hook.SuccessMessage != "" {
		msg += fmt.Sprintf("\n  Success message: %s", hook.SuccessMessage)
	}
	if timeout > 0 {
		msg += fmt.Sprintf("\n  Timeout: %ds", timeout)
	}
	msg += fmt.Sprintf("\n  One at a time: %v\n  Status: active", hook.OneAtATime)
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: msg}
}

func (c *Callback) executeUpdate(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "'id' parameter is required")
	}
	reg := c.handle.Get()
	name, hook, ok := findHookByID(reg, id)
	if !ok {
		return errResult(tu.ID, fmt.Sprintf("callback %q not found", id))
	}

	var changes []string
	newName := name
	if v := str(tu.Input, "name"); v != "" && v != name {
		if _, exists := reg.Hooks[v]; exists {
			return errResult(tu.ID, fmt.Sprintf("a callback named %q already exists", v))
		}
		newName = v
		changes = append(changes, fmt.Sprintf("name -> %s", v))
	}
	if v := str(tu.Input, "description"); v != "" {
		hook.Description = v
		changes = append(changes, "description updated")
	}
	if v := str(tu.Input, "pattern"); v != "" {
		if !doublestar.ValidatePattern(v) {
			return errResult(tu.ID, fmt.Sprintf("invalid glob pattern %q", v))
		}
		hook.Matchers = []string{v}
		changes = append(changes, fmt.Sprintf("pattern -> %s", v))
	}
	if v, ok := tu.Input["blocking"].(bool); ok {
		hook.Blocking = v
		changes = append(changes, fmt.Sprintf("blocking -> %v", v))
	}
	if _, ok := tu.Input["timeout"]; ok {
		hook.TimeoutSecs = intField(tu.Input, "timeout", hook.TimeoutSecs)
		changes = append(changes, fmt.Sprintf("timeout -> %ds", hook.TimeoutSecs))
	}
	if v := str(tu.Input, "success_message"); v != "" {
		hook.SuccessMessage = v
		changes = append(changes, "success_message updated")
	}
	if v := str(tu.Input, "cwd"); v != "" {
		hook.CWD = v
		changes = append(changes, fmt.Sprintf("cwd -> %s", v))
	}
	if v, ok := tu.Input["one_at_a_time"].(bool); ok {
		hook.OneAtATime = v
		changes = append(changes, fmt.Sprintf("one_at_a_time -> %v", v))
	}
	if hook.Blocking && hook.TimeoutSecs <= 0 {
		return errResult(tu.ID, "blocking callbacks require a 'timeout' parameter (max execution seconds)")
	}

	if scriptContent := str(tu.Input, "script_content"); scriptContent != "" {
		full := renderCallbackScript(newName, hook.Matchers[0], hook.Description, scriptContent)
		if err := os.WriteFile(c.scriptPath(name), []byte(full), 0755); err != nil {
			return errResult(tu.ID, fmt.Sprintf("writing script: %v", err))
		}
		changes = append(changes, "script replaced")
	}
	if newName != name {
		oldPath := c.scriptPath(name)
		if _, err := os.Stat(oldPath); err == nil {
			_ = os.Rename(oldPath, c.scriptPath(newName))
		}
		hook.Command = c.scriptPath(newName)
	}

	c.handle.Update(func(r *config.HookRegistry) *config.HookRegistry {
		delete(r.Hooks, name)
		r.Hooks[newName] = hook
		return r
	})
	if err := c.persist(s); err != nil {
		return errResult(tu.ID, fmt.Sprintf("saving hook registry: %v", err))
	}

	if len(changes) == 0 {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Callback %s updated (no changes specified)", id)}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Callback %s updated:\n  %s", id, strings.Join(changes, "\n  "))}
}

func (c *Callback) executeDelete(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "'id' parameter is required")
	}
	reg := c.handle.Get()
	name, _, ok := findHookByID(reg, id)
	if !ok {
		return errResult(tu.ID, fmt.Sprintf("callback %q not found", id))
	}

	c.handle.Update(func(r *config.HookRegistry) *config.HookRegistry {
		delete(r.Hooks, name)
		return r
	})
	if err := c.persist(s); err != nil {
		return errResult(tu.ID, fmt.Sprintf("saving hook registry: %v", err))
	}

	scriptMsg := " (no script file found)"
	if err := os.Remove(c.scriptPath(name)); err == nil {
		scriptMsg = " + script file deleted"
	} else if !os.IsNotExist(err) {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID,
			Content: fmt.Sprintf("Callback %s [%s] removed from config, but failed to delete script: %v", id, name, err)}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Callback %s [%s] deleted%s", id, name, scriptMsg)}
}

func (c *Callback) executeToggle(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "'id' parameter is required")
	}
	enabled, hasEnabled := tu.Input["enabled"].(bool)
	if !hasEnabled {
		return errResult(tu.ID, "'enabled' parameter is required")
	}
	reg := c.handle.Get()
	name, hook, ok := findHookByID(reg, id)
	if !ok {
		return errResult(tu.ID, fmt.Sprintf("callback %q not found", id))
	}
	hook.Enabled = enabled
	c.handle.Update(func(r *config.HookRegistry) *config.HookRegistry {
		r.Hooks[name] = hook
		return r
	})
	if err := c.persist(s); err != nil {
		return errResult(tu.ID, fmt.Sprintf("saving hook registry: %v", err))
	}
	state := "disabled"
	if enabled {
		state = "active"
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Callback %s [%s] is now %s", id, name, state)}
}

// EnsureBuiltinHook registers a callback whose command is a fully-formed
// shell invocation rather than a script file under scripts/ — used by
// modules (e.g. typst) that shell back into this binary itself rather than
// writing a user-editable script. A no-op if a hook with this name already
// exists, so callers can call it unconditionally on every invocation (the
// hook may have been deleted externally in the meantime).
func (c *Callback) EnsureBuiltinHook(name, pattern, description, command, successMessage string, blocking bool, timeoutSecs int) error {
	reg := c.handle.Get()
	if _, exists := reg.Hooks[name]; exists {
		return nil
	}
	hook := config.RegistryHook{
		ID: reg.NextHookID(), Description: description, Event: "file-change",
		Matchers: []string{pattern}, Command: command, Scope: "project",
		Enabled: true, Blocking: blocking, TimeoutSecs: timeoutSecs, SuccessMessage: successMessage,
	}
	c.handle.Update(func(r *config.HookRegistry) *config.HookRegistry {
		r.Hooks[name] = hook
		return r
	})
	return c.persist(nil)
}

func findHookByID(reg *config.HookRegistry, id string) (string, config.RegistryHook, bool) {
	for name, h := range reg.Hooks {
		if h.ID == id {
			return name, h, true
		}
	}
	return "", config.RegistryHook{}, false
}

func oneAtATime(input map[string]any) bool {
	v, _ := input["one_at_a_time"].(bool)
	return v
}

func renderCallbackScript(name, pattern, description, body string) string {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\nset -euo pipefail\n\n")
	b.WriteString(fmt.Sprintf("# Callback: %s\n# Pattern: %s\n", name, pattern))
	if description != "" {
		b.WriteString(fmt.Sprintf("# Description: %s\n", description))
	}
	b.WriteString("#\n# Environment variables provided by the assistant:\n")
	b.WriteString("#   $CP_CHANGED_FILES  - newline-separated list of changed file paths (relative to project root)\n")
	b.WriteString("#   $CP_PROJECT_ROOT   - absolute path to project root\n")
	b.WriteString("#   $CP_CALLBACK_NAME  - name of this callback rule\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// FormatCallbackPanel renders the Callback panel's content: a markdown table
// of registered callbacks, matching
// cp-mod-callback/src/panel.rs's format_for_context (minus the ratatui
// table/wrap styling, which has no terminal analogue here).
func FormatCallbackPanel(reg *config.HookRegistry) string {
	if len(reg.Hooks) == 0 {
		return "No callbacks configured."
	}
	names := make([]string, 0, len(reg.Hooks))
	for name := range reg.Hooks {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("| ID | Name | Pattern | Description | Blocking | Timeout | Active | 1-at-a-time | Success Msg | CWD |\n")
	b.WriteString("|----|------|---------|-------------|----------|---------|--------|-------------|-------------|-----|\n")
	for _, name := range names {
		h := reg.Hooks[name]
		active := "no"
		if h.Enabled {
			active = "yes"
		}
		blocking := "no"
		if h.Blocking {
			blocking = "yes"
		}
		timeout := "-"
		if h.TimeoutSecs > 0 {
			timeout = fmt.Sprintf("%ds", h.TimeoutSecs)
		}
		success := h.SuccessMessage
		if success == "" {
			success = "-"
		}
		cwd := h.CWD
		if cwd == "" {
			cwd = "project root"
		}
		pattern := ""
		if len(h.Matchers) > 0 {
			pattern = h.Matchers[0]
		}
		oneAt := "no"
		if h.OneAtATime {
			oneAt = "yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			h.ID, name, pattern, h.Description, blocking, timeout, active, oneAt, success, cwd)
	}
	return strings.TrimRight(b.String(), "\n")
}
