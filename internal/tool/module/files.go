// Package module holds the concrete Module implementations: core, file
// edit, git, github, todo, console, glob/grep/tree, the library, presets,
// callbacks, and typst. Each is grounded on the matching
// original_source/src/modules/<name> directory.
package module

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/contextpilot/contextpilot/internal/cache"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Files provides read/edit/write/create tools over the local filesystem.
// Grounded on original_source/src/modules/files/mod.rs; it is core and
// global since every other module assumes file access works.
type Files struct{}

func (Files) ID() string          { return "files" }
func (Files) Name() string        { return "Files" }
func (Files) Description() string { return "File open, edit, write, and create tools" }
func (Files) Dependencies() []string { return nil }
func (Files) IsCore() bool        { return true }
func (Files) IsGlobal() bool      { return true }

func (Files) FixedPanelKinds() []statecore.PanelKind   { return nil }
func (Files) DynamicPanelKinds() []statecore.PanelKind { return []statecore.PanelKind{statecore.PanelFile} }

func (Files) SaveData(*statecore.State) (any, error)       { return nil, nil }
func (Files) LoadData(any, *statecore.State) error          { return nil }

func str(v map[string]any, key string) string {
	s, _ := v[key].(string)
	return s
}

func (Files) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "file_open", Name: "Open File", Category: "file", Enabled: true, Module: "files",
			Description: "Opens a file and adds it to context so you can see its content. ALWAYS use this BEFORE file_edit to see current content.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"path"}, Properties: map[string]*statecore.ParamSchema{
				"path": {Type: "string", Description: "Path to the file to open"},
			}},
		},
		{
			ID: "file_edit", Name: "Edit File", Category: "file", Enabled: true, Module: "files",
			Description: "Edits a file by replacing exact text. Use file_open first to see current content; old_string must be exact text from the file.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"file_path", "old_string", "new_string"}, Properties: map[string]*statecore.ParamSchema{
				"file_path":   {Type: "string", Description: "Absolute path to the file to edit"},
				"old_string":  {Type: "string", Description: "Exact text to find and replace"},
				"new_string":  {Type: "string", Description: "Replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace all occurrences (default false)"},
			}},
		},
		{
			ID: "file_write", Name: "Write File", Category: "file", Enabled: true, Module: "files",
			Description: "Writes complete contents to a file, creating or overwriting it.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"file_path", "contents"}, Properties: map[string]*statecore.ParamSchema{
				"file_path": {Type: "string", Description: "Path to the file to write"},
				"contents":  {Type: "string", Description: "Complete file contents to write"},
			}},
		},
		{
			ID: "file_create", Name: "Create File", Category: "file", Enabled: true, Module: "files",
			Description: "Creates a new file. Fails if the file already exists.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"path", "content"}, Properties: map[string]*statecore.ParamSchema{
				"path":    {Type: "string", Description: "Path for the new file"},
				"content": {Type: "string", Description: "Content to write to the file"},
			}},
		},
	}
}

func (Files) Execute(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "file_open":
		return executeFileOpen(tu, s)
	case "file_edit":
		return executeFileEdit(tu, s)
	case "file_write":
		return executeFileWrite(tu, s)
	case "file_create":
		return executeFileCreate(tu, s)
	default:
		return nil, nil
	}
}

func executeFileOpen(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	path := str(tu.Input, "path")
	if path == "" {
		return errResult(tu.ID, "path is required"), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("reading %s: %v", path, err)), nil
	}

	s.Lock()
	defer s.Unlock()
	var existing *statecore.ContextElement
	for _, p := range s.Panels {
		if p.Kind == statecore.PanelFile && p.Metadata["path"] == path {
			existing = p
			break
		}
	}
	body := string(content)
	if existing == nil {
		id := s.NextPanelID()
		existing = &statecore.ContextElement{
			ID: id, UID: "UID_" + id + "_P", Kind: statecore.PanelFile,
			DisplayName: path, Metadata: map[string]string{"path": path},
		}
		s.Panels = append(s.Panels, existing)
	}
	existing.ApplyRefresh(body, cache.HashContent(body), cache.EstimateTokens(body))

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Opened %s (%d bytes) as panel %s", path, len(content), existing.ID)}, nil
}

func executeFileEdit(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	path := str(tu.Input, "file_path")
	oldStr := str(tu.Input, "old_string")
	newStr := str(tu.Input, "new_string")
	replaceAll, _ := tu.Input["replace_all"].(bool)
	if path == "" || oldStr == "" {
		return errResult(tu.ID, "file_path and old_string are required"), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("reading %s: %v", path, err)), nil
	}
	body := string(content)
	count := strings.Count(body, oldStr)
	if count == 0 {
		return errResult(tu.ID, "old_string not found in file"), nil
	}
	if count > 1 && !replaceAll {
		return errResult(tu.ID, fmt.Sprintf("old_string matches %d times; pass replace_all or give more context", count)), nil
	}

	n := 1
	if replaceAll {
		n = -1
	}
	updated := strings.Replace(body, oldStr, newStr, n)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return errResult(tu.ID, fmt.Sprintf("writing %s: %v", path, err)), nil
	}

	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool {
		return p.Kind == statecore.PanelFile && p.Metadata["path"] == path
	})
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Edited %s", path)}, nil
}

func executeFileWrite(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	path := str(tu.Input, "file_path")
	contents := str(tu.Input, "contents")
	if path == "" {
		return errResult(tu.ID, "file_path is required"), nil
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		return errResult(tu.ID, fmt.Sprintf("writing %s: %v", path, err)), nil
	}
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool {
		return p.Kind == statecore.PanelFile && p.Metadata["path"] == path
	})
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Wrote %d bytes to %s", len(contents), path)}, nil
}

func executeFileCreate(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	path := str(tu.Input, "path")
	content := str(tu.Input, "content")
	if path == "" {
		return errResult(tu.ID, "path is required"), nil
	}
	if _, err := os.Stat(path); err == nil {
		return errResult(tu.ID, fmt.Sprintf("%s already exists; use file_edit to modify it", path)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errResult(tu.ID, fmt.Sprintf("creating %s: %v", path, err)), nil
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Created %s", path)}, nil
}

func errResult(toolUseID, msg string) *statecore.ToolResultBlock {
	return &statecore.ToolResultBlock{ToolUseID: toolUseID, Content: msg, IsError: true}
}
