package module

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// ghCmdTimeout bounds a mutating gh invocation; grounded on
// original_source's GH_CMD_TIMEOUT_SECS.
const ghCmdTimeout = 30 * time.Second

// maxGhResultBytes caps the content returned inline from a mutating gh
// command, distinct from the panel cache's larger MaxContentBytes.
const maxGhResultBytes = 64 * 1024

// Github runs gh (GitHub CLI) commands. Read-only commands populate an
// auto-refreshing GithubResult panel; mutating commands execute directly
// and their output is returned inline. Grounded on
// original_source/src/modules/github/tools.rs and
// original_source/crates/cp-mod-github/src/classify.rs.
type Github struct{}

func (Github) ID() string          { return "github" }
func (Github) Name() string        { return "GitHub" }
func (Github) Description() string { return "Runs gh (GitHub CLI) commands, caching read-only results as panels" }
func (Github) Dependencies() []string { return nil }
func (Github) IsCore() bool           { return false }
func (Github) IsGlobal() bool         { return false }

func (Github) FixedPanelKinds() []statecore.PanelKind { return nil }
func (Github) DynamicPanelKinds() []statecore.PanelKind {
	return []statecore.PanelKind{statecore.PanelGithubResult}
}

func (Github) SaveData(*statecore.State) (any, error) { return nil, nil }
func (Github) LoadData(any, *statecore.State) error    { return nil }

func (Github) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "gh_command", Name: "GitHub CLI", Category: "github", Enabled: true, Module: "github",
			Description: "Runs a raw gh (GitHub CLI) command, e.g. 'gh pr list' or 'gh issue view 42'. " +
				"The command must start with 'gh' and may not contain shell operators " +
				"(pipes, redirects, semicolons, backticks, $(), &&) outside quoted strings. " +
				"Read-only commands (list/view/status) are cached as a panel; others run " +
				"immediately and their output is returned here.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"command"}, Properties: map[string]*statecore.ParamSchema{
				"command": {Type: "string", Description: "Full gh command line, starting with 'gh'"},
			}},
		},
	}
}

func (Github) Execute(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	if tu.Name != "gh_command" {
		return nil, nil
	}
	return executeGhCommand(ctx, tu, s)
}

func executeGhCommand(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GH_TOKEN")
	}
	if token == "" {
		return errResult(tu.ID, "GITHUB_TOKEN not set. Add GITHUB_TOKEN to your environment."), nil
	}

	command := str(tu.Input, "command")
	if command == "" {
		return errResult(tu.ID, "'command' parameter is required"), nil
	}

	args, err := validateGhCommand(command)
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("validation error: %v", err)), nil
	}

	switch classifyGh(args) {
	case ghReadOnly:
		return ghReadOnlyPanel(tu, s, command), nil
	default:
		return ghRunMutating(ctx, tu, s, args, token), nil
	}
}

// ghReadOnlyPanel reuses or creates the GithubResult panel for command; the
// cache package's GhPoller (synced from this panel's Metadata["command"])
// performs the actual gh invocation and ETag/hash-based refresh.
func ghReadOnlyPanel(tu statecore.ToolUse, s *statecore.State, command string) *statecore.ToolResultBlock {
	s.Lock()
	defer s.Unlock()

	for _, p := range s.Panels {
		if p.Kind == statecore.PanelGithubResult && p.Metadata["command"] == command {
			p.MarkDeprecated()
			return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Panel updated: %s", p.ID)}
		}
	}

	id := s.NextPanelID()
	el := &statecore.ContextElement{
		ID: id, UID: "UID_" + id + "_P", Kind: statecore.PanelGithubResult,
		DisplayName: command, Metadata: map[string]string{"command": command},
	}
	el.MarkDeprecated()
	s.Panels = append(s.Panels, el)
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Panel created: %s", id)}
}

// ghRunMutating executes a mutating gh command directly and invalidates
// every cached GithubResult and Git status panel, since mutations can
// affect either (PRs and merges touch git status too).
func ghRunMutating(ctx context.Context, tu statecore.ToolUse, s *statecore.State, args []string, token string) *statecore.ToolResultBlock {
	runCtx, cancel := context.WithTimeout(ctx, ghCmdTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "gh", args...)
	cmd.Env = append(os.Environ(),
		"GITHUB_TOKEN="+token, "GH_TOKEN="+token,
		"GH_PROMPT_DISABLED=1", "NO_COLOR=1",
	)
	stdout, runErr := cmd.Output()

	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool {
		return p.Kind == statecore.PanelGithubResult || p.Kind == statecore.PanelGit
	})

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		if errors.Is(runErr, exec.ErrNotFound) {
			return errResult(tu.ID, "gh CLI not found. Install: https://cli.github.com")
		}
		return errResult(tu.ID, fmt.Sprintf("error running gh: %v", runErr))
	}

	var stderr []byte
	if exitErr != nil {
		stderr = exitErr.Stderr
	}
	isError := runErr != nil
	combined := combineOutput(string(stdout), string(stderr))
	combined = redactToken(combined, token)
	combined = truncateOutput(combined, maxGhResultBytes)
	if combined == "" {
		if isError {
			combined = "command failed with no output"
		} else {
			combined = "command completed successfully"
		}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: combined, IsError: isError}
}

func combineOutput(stdout, stderr string) string {
	stdout, stderr = strings.TrimSpace(stdout), strings.TrimSpace(stderr)
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}

// redactToken scrubs an accidentally-leaked token from command output.
func redactToken(output, token string) string {
	if len(token) >= 8 && strings.Contains(output, token) {
		return strings.ReplaceAll(output, token, "[REDACTED]")
	}
	return output
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... [truncated, %d bytes total]", len(s))
}
