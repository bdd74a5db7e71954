package module

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Git provides version-control tools and owns the fixed Git status panel.
// Grounded on original_source/src/modules/git/mod.rs.
type Git struct{}

func (Git) ID() string             { return "git" }
func (Git) Name() string           { return "Git" }
func (Git) Description() string    { return "Git version control tools and status panel" }
func (Git) Dependencies() []string { return nil }
func (Git) IsCore() bool           { return false }
func (Git) IsGlobal() bool         { return false }

func (Git) FixedPanelKinds() []statecore.PanelKind   { return []statecore.PanelKind{statecore.PanelGit} }
func (Git) DynamicPanelKinds() []statecore.PanelKind { return nil }

func (Git) SaveData(*statecore.State) (any, error) { return nil, nil }
func (Git) LoadData(any, *statecore.State) error   { return nil }

func (Git) ToolDefinitions() []statecore.ToolDefinition {
	str := func(desc string) *statecore.ParamSchema { return &statecore.ParamSchema{Type: "string", Description: desc} }
	return []statecore.ToolDefinition{
		{ID: "git_toggle_details", Name: "Toggle Git Details", Category: "git", Enabled: true, Module: "git",
			Description: "Accepts a request to show or hide diffs in the Git panel. The Git panel has no diff display setting, so nothing changes.",
			Params:      &statecore.ParamSchema{Type: "object", Properties: map[string]*statecore.ParamSchema{"show": {Type: "boolean", Description: "Set true to show diffs, false to hide. Omit to toggle."}}}},
		{ID: "git_commit", Name: "Git Commit", Category: "git", Enabled: true, Module: "git",
			Description: "Stages specified files (or uses current staging) and creates a git commit.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"message"}, Properties: map[string]*statecore.ParamSchema{
				"message": str("Commit message"),
				"files":   {Type: "array", Description: "File paths to stage before committing", Items: &statecore.ParamSchema{Type: "string"}},
			}}},
		{ID: "git_branch_create", Name: "Git Create Branch", Category: "git", Enabled: true, Module: "git",
			Description: "Creates a new git branch from the current branch and switches to it.",
			Params:      &statecore.ParamSchema{Type: "object", Required: []string{"name"}, Properties: map[string]*statecore.ParamSchema{"name": str("Name for the new branch")}}},
		{ID: "git_branch_switch", Name: "Git Switch Branch", Category: "git", Enabled: true, Module: "git",
			Description: "Switches to another git branch. Fails if there are uncommitted changes.",
			Params:      &statecore.ParamSchema{Type: "object", Required: []string{"branch"}, Properties: map[string]*statecore.ParamSchema{"branch": str("Branch name to switch to")}}},
		{ID: "git_pull", Name: "Git Pull", Category: "git", Enabled: true, Module: "git", Description: "Pulls changes from the remote repository.", Params: &statecore.ParamSchema{Type: "object"}},
		{ID: "git_push", Name: "Git Push", Category: "git", Enabled: true, Module: "git", Description: "Pushes local commits to the remote repository.", Params: &statecore.ParamSchema{Type: "object"}},
		{ID: "git_fetch", Name: "Git Fetch", Category: "git", Enabled: true, Module: "git", Description: "Fetches changes from the remote repository without merging.", Params: &statecore.ParamSchema{Type: "object"}},
	}
}

func (Git) Execute(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "git_toggle_details":
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "git diff display is not configurable; nothing changed"}, nil
	case "git_commit":
		return gitCommit(ctx, tu, s)
	case "git_branch_create":
		return runGit(ctx, tu, s, "checkout", "-b", strField(tu.Input, "name"))
	case "git_branch_switch":
		return runGit(ctx, tu, s, "checkout", strField(tu.Input, "branch"))
	case "git_pull":
		return runGit(ctx, tu, s, "pull")
	case "git_push":
		return runGit(ctx, tu, s, "push")
	case "git_fetch":
		return runGit(ctx, tu, s, "fetch")
	default:
		return nil, nil
	}
}

func strField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func gitCommit(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	message := strField(tu.Input, "message")
	if message == "" {
		return errResult(tu.ID, "message is required"), nil
	}
	if files, ok := tu.Input["files"].([]any); ok && len(files) > 0 {
		args := []string{"add"}
		for _, f := range files {
			if s, ok := f.(string); ok {
				args = append(args, s)
			}
		}
		if out, err := runGitRaw(ctx, args...); err != nil {
			return errResult(tu.ID, fmt.Sprintf("git add failed: %v\n%s", err, out)), nil
		}
	}
	return runGit(ctx, tu, s, "commit", "-m", message)
}

func runGit(ctx context.Context, tu statecore.ToolUse, s *statecore.State, args ...string) (*statecore.ToolResultBlock, error) {
	out, err := runGitRaw(ctx, args...)
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelGit })
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)), nil
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: out}, nil
}

func runGitRaw(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
