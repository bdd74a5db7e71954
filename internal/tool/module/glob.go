package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/contextpilot/contextpilot/internal/cache"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

const globMaxMatches = 1000

// Glob finds files by name pattern, backed by a dynamic Glob panel a
// cache.Worker (GlobWorker) recomputes in the background. No dedicated
// original_source module exists for this panel kind (spec.md lists Glob
// among the dynamic panel kinds but the filtered source pack carries no
// `modules/glob` directory) — grounded on the sibling
// original_source/src/modules/grep/{mod.rs,tools.rs} module this mirrors,
// reusing the same doublestar dependency.
type Glob struct{}

func (Glob) ID() string             { return "glob" }
func (Glob) Name() string           { return "Glob" }
func (Glob) Description() string    { return "Finds files by name pattern" }
func (Glob) Dependencies() []string { return nil }
func (Glob) IsCore() bool           { return false }
func (Glob) IsGlobal() bool         { return false }

func (Glob) FixedPanelKinds() []statecore.PanelKind   { return nil }
func (Glob) DynamicPanelKinds() []statecore.PanelKind { return []statecore.PanelKind{statecore.PanelGlob} }

func (Glob) SaveData(*statecore.State) (any, error) { return nil, nil }
func (Glob) LoadData(any, *statecore.State) error    { return nil }

func (Glob) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "file_glob", Name: "Glob Search", Category: "file", Enabled: true, Module: "glob",
			Description: "Finds files matching a glob pattern (e.g. '**/*.go', 'src/**/*_test.go'). " +
				"Results are a sorted file list added to context and updated dynamically.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"pattern"}, Properties: map[string]*statecore.ParamSchema{
				"pattern": {Type: "string", Description: "Glob pattern, relative to path"},
				"path":    {Type: "string", Description: "Base path to search from", Default: "."},
			}},
		},
	}
}

func (Glob) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	if tu.Name != "file_glob" {
		return nil, nil
	}
	pattern := str(tu.Input, "pattern")
	if pattern == "" {
		return errResult(tu.ID, "'pattern' parameter is required"), nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return errResult(tu.ID, "invalid glob pattern"), nil
	}
	path := str(tu.Input, "path")
	if path == "" {
		path = "."
	}

	s.Lock()
	defer s.Unlock()
	id := s.NextPanelID()
	el := &statecore.ContextElement{
		ID: id, UID: "UID_" + id + "_P", Kind: statecore.PanelGlob,
		DisplayName: fmt.Sprintf("glob:%s", pattern),
		Metadata:    map[string]string{"pattern": pattern, "path": path},
	}
	el.MarkDeprecated()
	s.Panels = append(s.Panels, el)

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Created glob %s for %q in %q", id, pattern, path)}, nil
}

// GlobWorker computes a Glob panel's content: a cache.Worker registered
// against statecore.PanelGlob.
func GlobWorker(_ context.Context, req cache.Request) cache.Result {
	pattern := req.Metadata["pattern"]
	searchPath := req.Metadata["path"]
	if searchPath == "" {
		searchPath = "."
	}

	var results []string
	_ = filepath.WalkDir(searchPath, func(p string, d os.DirEntry, err error) error {
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
		ok, _ := doublestar.Match(pattern, relative)
		if ok {
			results = append(results, relative)
			if len(results) > globMaxMatches {
				return fmt.Errorf("stop")
			}
		}
		return nil
	})

	sort.Strings(results)
	truncated := len(results) > globMaxMatches
	if truncated {
		results = results[:globMaxMatches]
	}

	var content string
	if len(results) == 0 {
		content = "No files matched"
	} else {
		content = strings.Join(results, "\n")
		if truncated {
			content += "\n... (truncated, too many matches)"
		}
	}
	return cache.Result{PanelID: req.PanelID, Content: content}
}
