package module

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/contextpilot/contextpilot/internal/cache"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// DefaultTreeFilter seeds a fresh workspace's tree filter. Grounded on
// original_source/src/modules/tree/types.rs's DEFAULT_TREE_FILTER.
const DefaultTreeFilter = `# Ignore common non-essential directories
.git/
target/
node_modules/
__pycache__/
.venv/
venv/
dist/
build/
*.pyc
*.pyo
.DS_Store
`

// TreeFileDescription annotates a path in the tree view. FileHash lets the
// tree mark a description stale ("[!]") once the file changes underneath
// it. Grounded on original_source/src/modules/tree/types.rs.
type TreeFileDescription struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	FileHash    string `json:"file_hash"`
}

type treeData struct {
	Filter       string                `json:"tree_filter"`
	OpenFolders  []string              `json:"tree_open_folders"`
	Descriptions []TreeFileDescription `json:"tree_descriptions"`
}

// Tree is the directory tree view, global and fixed. Grounded on
// original_source/src/modules/tree/mod.rs; tools.rs was not present in the
// filtered source pack, so execute_edit_filter/execute_toggle_folders/
// execute_describe_files and generate_tree_string below are built from
// mod.rs's tool_definitions and panel.rs's rendering contract rather than a
// direct port (see DESIGN.md).
type Tree struct {
	handle *statecore.ModuleHandle[treeData]
}

func NewTree(s *statecore.State) *Tree {
	h := statecore.RegisterModuleHandle(s.ModuleStore, "tree", treeData{
		Filter: DefaultTreeFilter, OpenFolders: []string{"."},
	})
	return &Tree{handle: h}
}

func (*Tree) ID() string          { return "tree" }
func (*Tree) Name() string        { return "Tree" }
func (*Tree) Description() string { return "Directory tree view with filtering and descriptions" }
func (*Tree) Dependencies() []string { return nil }
func (*Tree) IsCore() bool           { return false }
func (*Tree) IsGlobal() bool         { return true }

func (*Tree) FixedPanelKinds() []statecore.PanelKind   { return []statecore.PanelKind{statecore.PanelTree} }
func (*Tree) DynamicPanelKinds() []statecore.PanelKind { return nil }

func (t *Tree) SaveData(*statecore.State) (any, error) { return t.handle.Get(), nil }
func (t *Tree) LoadData(data any, *statecore.State) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling tree data: %w", err)
	}
	d := treeData{Filter: DefaultTreeFilter, OpenFolders: []string{"."}}
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshaling tree data: %w", err)
	}
	if d.Filter == "" {
		d.Filter = DefaultTreeFilter
	}
	if !containsStr(d.OpenFolders, ".") {
		d.OpenFolders = append([]string{"."}, d.OpenFolders...)
	}
	t.handle.Set(d)
	return nil
}

func (*Tree) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "tree_filter", Name: "Tree Filter", Category: "tree", Enabled: true, Module: "tree",
			Description: "Edits the gitignore-style filter for the directory tree view.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"filter"}, Properties: map[string]*statecore.ParamSchema{
				"filter": {Type: "string", Description: "Gitignore-style patterns, one per line"},
			}},
		},
		{
			ID: "tree_toggle", Name: "Tree Toggle", Category: "tree", Enabled: true, Module: "tree",
			Description: "Opens or closes folders in the directory tree view. Closed folders show child " +
				"count, open folders show contents.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"paths"}, Properties: map[string]*statecore.ParamSchema{
				"paths":  {Type: "array", Description: "Folder paths to toggle (e.g. ['src', 'src/ui'])", Items: &statecore.ParamSchema{Type: "string"}},
				"action": {Type: "string", Enum: []string{"open", "close", "toggle"}, Description: "Action to perform", Default: "toggle"},
			}},
		},
		{
			ID: "tree_describe", Name: "Tree Describe", Category: "tree", Enabled: true, Module: "tree",
			Description: "Adds or updates descriptions for files and folders in the tree. Descriptions " +
				"appear next to items. A [!] marker indicates the file changed since the description was written.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"descriptions"}, Properties: map[string]*statecore.ParamSchema{
				"descriptions": {Type: "array", Description: "Array of path descriptions", Items: &statecore.ParamSchema{
					Type: "object", Required: []string{"path"}, Properties: map[string]*statecore.ParamSchema{
						"path":        {Type: "string", Description: "File or folder path"},
						"description": {Type: "string", Description: "Description text"},
						"delete":      {Type: "boolean", Description: "Set true to remove description"},
					},
				}},
			}},
		},
	}
}

func (t *Tree) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "tree_filter":
		return t.executeFilter(tu, s), nil
	case "tree_toggle":
		return t.executeToggle(tu, s), nil
	case "tree_describe":
		return t.executeDescribe(tu, s), nil
	default:
		return nil, nil
	}
}

func (t *Tree) executeFilter(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	filter := str(tu.Input, "filter")
	t.handle.Update(func(d treeData) treeData {
		d.Filter = filter
		return d
	})
	deprecateTreePanels(s)
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "Tree filter updated"}
}

func (t *Tree) executeToggle(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	raw, ok := tu.Input["paths"].([]any)
	if !ok || len(raw) == 0 {
		return errResult(tu.ID, "'paths' parameter is required")
	}
	action := str(tu.Input, "action")
	if action == "" {
		action = "toggle"
	}

	var changed []string
	t.handle.Update(func(d treeData) treeData {
		for _, v := range raw {
			p, _ := v.(string)
			if p == "" {
				continue
			}
			p = path.Clean(p)
			open := containsStr(d.OpenFolders, p)
			var wantOpen bool
			switch action {
			case "open":
				wantOpen = true
			case "close":
				wantOpen = false
			default:
				wantOpen = !open
			}
			if p == "." {
				wantOpen = true // root is always open
			}
			if wantOpen == open {
				continue
			}
			if wantOpen {
				d.OpenFolders = append(d.OpenFolders, p)
			} else {
				d.OpenFolders = removeStr(d.OpenFolders, p)
			}
			changed = append(changed, p)
		}
		return d
	})
	deprecateTreePanels(s)
	if len(changed) == 0 {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "No folders changed"}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Toggled: %s", strings.Join(changed, ", "))}
}

func (t *Tree) executeDescribe(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	raw, ok := tu.Input["descriptions"].([]any)
	if !ok || len(raw) == 0 {
		return errResult(tu.ID, "'descriptions' parameter is required")
	}

	var applied []string
	t.handle.Update(func(d treeData) treeData {
		for _, v := range raw {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}
			p := strField(entry, "path")
			if p == "" {
				continue
			}
			del, _ := entry["delete"].(bool)
			idx := -1
			for i, desc := range d.Descriptions {
				if desc.Path == p {
					idx = i
					break
				}
			}
			if del {
				if idx >= 0 {
					d.Descriptions = append(d.Descriptions[:idx], d.Descriptions[idx+1:]...)
					applied = append(applied, fmt.Sprintf("removed %s", p))
				}
				continue
			}
			desc := strField(entry, "description")
			fd := TreeFileDescription{Path: p, Description: desc, FileHash: fileHash(p)}
			if idx >= 0 {
				d.Descriptions[idx] = fd
			} else {
				d.Descriptions = append(d.Descriptions, fd)
			}
			applied = append(applied, p)
		}
		return d
	})
	deprecateTreePanels(s)
	if len(applied) == 0 {
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "No descriptions changed"}
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Updated descriptions: %s", strings.Join(applied, ", "))}
}

// AnnotateTarget sets (replacing any prior) description for path, with no
// file-hash staleness tracking — used by modules that annotate derived
// output paths (e.g. typst's compiled PDF targets) rather than source files.
func (t *Tree) AnnotateTarget(s *statecore.State, path, description string) {
	t.handle.Update(func(d treeData) treeData {
		filtered := d.Descriptions[:0]
		for _, desc := range d.Descriptions {
			if desc.Path != path {
				filtered = append(filtered, desc)
			}
		}
		d.Descriptions = append(filtered, TreeFileDescription{Path: path, Description: description})
		return d
	})
	deprecateTreePanels(s)
}

// RemoveAnnotation deletes any description registered for path.
func (t *Tree) RemoveAnnotation(s *statecore.State, path string) {
	t.handle.Update(func(d treeData) treeData {
		filtered := d.Descriptions[:0]
		for _, desc := range d.Descriptions {
			if desc.Path != path {
				filtered = append(filtered, desc)
			}
		}
		d.Descriptions = filtered
		return d
	})
	deprecateTreePanels(s)
}

func deprecateTreePanels(s *statecore.State) {
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelTree })
}

func fileHash(p string) string {
	b, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeStr(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// SyncPanelMetadata copies the module's current filter/open-folders/
// descriptions into the Tree panel's Metadata, which is where TreeWorker
// reads them from (panels only carry string metadata; the live treeData
// lives in this module's ModuleHandle). Call before cache.Pipeline.Tick so
// a deprecated Tree panel picks up the latest edits.
func (t *Tree) SyncPanelMetadata(s *statecore.State) {
	d := t.handle.Get()
	openFolders, _ := json.Marshal(d.OpenFolders)
	descriptions, _ := json.Marshal(d.Descriptions)
	s.Lock()
	defer s.Unlock()
	for _, p := range s.Panels {
		if p.Kind != statecore.PanelTree {
			continue
		}
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata["tree_filter"] = d.Filter
		p.Metadata["tree_open_folders"] = string(openFolders)
		p.Metadata["tree_descriptions"] = string(descriptions)
	}
}

// TreeWorker computes the Tree panel's content: a cache.Worker registered
// against statecore.PanelTree. Expects the module's current treeData
// serialized into req.Metadata by the caller wiring the Pipeline.Tick loop
// (panels carry string metadata only; the live treeData lives in the
// module's ModuleHandle, so the entrypoint that ticks the pipeline copies
// the current filter/open-folders/descriptions into the panel's Metadata
// right before dispatch — see DESIGN.md).
func TreeWorker(_ context.Context, req cache.Request) cache.Result {
	filter := req.Metadata["tree_filter"]
	var openFolders []string
	_ = json.Unmarshal([]byte(req.Metadata["tree_open_folders"]), &openFolders)
	var descriptions []TreeFileDescription
	_ = json.Unmarshal([]byte(req.Metadata["tree_descriptions"]), &descriptions)

	content := generateTreeString(filter, openFolders, descriptions)
	return cache.Result{PanelID: req.PanelID, Content: content}
}

type ignoreRule struct {
	pattern string
	dirOnly bool
}

func parseTreeFilter(filter string) []ignoreRule {
	var rules []ignoreRule
	for _, line := range strings.Split(filter, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dirOnly := strings.HasSuffix(line, "/")
		rules = append(rules, ignoreRule{pattern: strings.TrimSuffix(line, "/"), dirOnly: dirOnly})
	}
	return rules
}

func treeIgnored(rules []ignoreRule, relPath string, isDir bool) bool {
	base := filepath.Base(relPath)
	for _, r := range rules {
		if r.dirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(r.pattern, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(r.pattern, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match("**/"+r.pattern, relPath); ok {
			return true
		}
	}
	return false
}

// generateTreeString renders the directory tree starting at ".", expanding
// only the folders named in openFolders (closed folders are summarized with
// a child count) and annotating described paths, marking descriptions
// stale with "[!]" when the file's content hash no longer matches.
func generateTreeString(filter string, openFolders []string, descriptions []TreeFileDescription) string {
	rules := parseTreeFilter(filter)
	descByPath := make(map[string]TreeFileDescription, len(descriptions))
	for _, d := range descriptions {
		descByPath[d.Path] = d
	}

	var b strings.Builder
	b.WriteString(".\n")
	renderTreeDir(&b, ".", "", rules, openFolders, descByPath)
	return strings.TrimRight(b.String(), "\n")
}

func renderTreeDir(b *strings.Builder, dir, prefix string, rules []ignoreRule, openFolders []string, descByPath map[string]TreeFileDescription) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var visible []os.DirEntry
	for _, e := range entries {
		rel := e.Name()
		if dir != "." {
			rel = path.Join(dir, e.Name())
		}
		if treeIgnored(rules, rel, e.IsDir()) {
			continue
		}
		visible = append(visible, e)
	}

	for i, e := range visible {
		last := i == len(visible)-1
		connector, childPrefix := "├── ", prefix+"│   "
		if last {
			connector, childPrefix = "└── ", prefix+"    "
		}
		rel := e.Name()
		if dir != "." {
			rel = path.Join(dir, e.Name())
		}

		line := connector + e.Name()
		if e.IsDir() {
			line += "/"
		}
		if desc, ok := descByPath[rel]; ok {
			marker := ""
			if e.IsDir() {
				// directories aren't hashed; staleness detection only applies to files
			} else if desc.FileHash != "" && fileHash(rel) != desc.FileHash {
				marker = "[!] "
			}
			line += " - " + marker + desc.Description
		}

		if e.IsDir() {
			if containsStr(openFolders, rel) {
				b.WriteString(prefix + line + "\n")
				renderTreeDir(b, rel, childPrefix, rules, openFolders, descByPath)
				continue
			}
			count := countChildren(rel, rules)
			b.WriteString(fmt.Sprintf("%s%s (%d)\n", prefix, line, count))
			continue
		}
		b.WriteString(prefix + line + "\n")
	}
}

func countChildren(dir string, rules []ignoreRule) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		rel := path.Join(dir, e.Name())
		if !treeIgnored(rules, rel, e.IsDir()) {
			n++
		}
	}
	return n
}
