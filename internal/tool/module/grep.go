package module

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/contextpilot/contextpilot/internal/cache"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

const grepMaxMatches = 500
const grepMaxLineBytes = 200

// Grep provides content search across files, backed by a dynamic Grep panel
// that a cache.Worker (GrepWorker) recomputes in the background. Grounded on
// original_source/src/modules/grep/{mod.rs,tools.rs}.
type Grep struct{}

func (Grep) ID() string             { return "grep" }
func (Grep) Name() string           { return "Grep" }
func (Grep) Description() string    { return "Content search across files" }
func (Grep) Dependencies() []string { return nil }
func (Grep) IsCore() bool           { return false }
func (Grep) IsGlobal() bool         { return false }

func (Grep) FixedPanelKinds() []statecore.PanelKind   { return nil }
func (Grep) DynamicPanelKinds() []statecore.PanelKind { return []statecore.PanelKind{statecore.PanelGrep} }

func (Grep) SaveData(*statecore.State) (any, error) { return nil, nil }
func (Grep) LoadData(any, *statecore.State) error    { return nil }

func (Grep) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "file_grep", Name: "Grep Search", Category: "file", Enabled: true, Module: "grep",
			Description: "Searches file contents for a regex pattern. Results show matching lines with " +
				"file:line context. Results are added to context and update dynamically.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"pattern"}, Properties: map[string]*statecore.ParamSchema{
				"pattern":      {Type: "string", Description: "Regex pattern to search for"},
				"path":         {Type: "string", Description: "Base path to search from", Default: "."},
				"file_pattern": {Type: "string", Description: "Glob pattern to filter files (e.g. '*.go', '*.ts')"},
			}},
		},
	}
}

func (Grep) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	if tu.Name != "file_grep" {
		return nil, nil
	}
	pattern := str(tu.Input, "pattern")
	if pattern == "" {
		return errResult(tu.ID, "'pattern' parameter is required"), nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return errResult(tu.ID, fmt.Sprintf("invalid regex pattern: %v", err)), nil
	}
	path := str(tu.Input, "path")
	if path == "" {
		path = "."
	}
	filePattern := str(tu.Input, "file_pattern")

	s.Lock()
	defer s.Unlock()

	id := s.NextPanelID()
	meta := map[string]string{"pattern": pattern, "path": path}
	if filePattern != "" {
		meta["file_pattern"] = filePattern
	}
	el := &statecore.ContextElement{
		ID: id, UID: "UID_" + id + "_P", Kind: statecore.PanelGrep,
		DisplayName: fmt.Sprintf("grep:%s", pattern), Metadata: meta,
	}
	el.MarkDeprecated()
	s.Panels = append(s.Panels, el)

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Created grep %s for %q in %q", id, pattern, path)}, nil
}

// GrepWorker computes a Grep panel's content: a cache.Worker registered
// against statecore.PanelGrep. Grounded on
// original_source/src/modules/grep/tools.rs's compute_grep_results, ported
// from the `ignore`/`regex`/`globset` crates to filepath.WalkDir,
// regexp, and doublestar (no suitable third-party recursive-ignore-aware
// walker was found in the example pack, so .git/ is skipped by hand — see
// DESIGN.md).
func GrepWorker(_ context.Context, req cache.Request) cache.Result {
	pattern := req.Metadata["pattern"]
	searchPath := req.Metadata["path"]
	if searchPath == "" {
		searchPath = "."
	}
	filePattern := req.Metadata["file_pattern"]

	re, err := regexp.Compile(pattern)
	if err != nil {
		return cache.Result{PanelID: req.PanelID, Err: fmt.Errorf("invalid regex pattern: %w", err)}
	}

	content, err := computeGrepResults(re, searchPath, filePattern)
	if err != nil {
		return cache.Result{PanelID: req.PanelID, Err: err}
	}
	return cache.Result{PanelID: req.PanelID, Content: content}
}

func computeGrepResults(re *regexp.Regexp, searchPath, filePattern string) (string, error) {
	var matches []string
	truncated := false

	walkErr := filepath.WalkDir(searchPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		relative, relErr := filepath.Rel(searchPath, p)
		if relErr != nil {
			relative = p
		}
		if filePattern != "" {
			ok, _ := doublestar.Match(filePattern, relative)
			if !ok {
				ok, _ = doublestar.Match(filePattern, filepath.Base(relative))
			}
			if !ok {
				return nil
			}
		}

		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if !re.MatchString(line) {
				continue
			}
			display := line
			if len(display) > grepMaxLineBytes {
				display = display[:grepMaxLineBytes] + "..."
			}
			matches = append(matches, fmt.Sprintf("%s:%d:%s", relative, lineNum, display))
			if len(matches) > grepMaxMatches {
				truncated = true
				return fmt.Errorf("stop")
			}
		}
		return nil
	})
	if walkErr != nil && !truncated {
		return "", nil
	}

	if truncated {
		matches = append(matches, "... (truncated, too many matches)")
	}
	if len(matches) == 0 {
		return "No matches found", nil
	}
	return strings.Join(matches, "\n"), nil
}
