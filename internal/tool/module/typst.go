package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

const (
	typstDocumentsDir = ".context-pilot/pdf/documents"
	typstTemplatesDir = ".context-pilot/pdf/templates"
)

// TypstDocument tracks one managed .typ source and its compiled PDF target.
// Grounded on crates/cp-mod-typst/src/types.rs's TypstDocument.
type TypstDocument struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Template string `json:"template,omitempty"`
}

type typstData struct {
	Documents      map[string]TypstDocument `json:"documents"`
	TemplatesSeeded bool                    `json:"templates_seeded"`
}

// Typst manages Typst (.typ) documents plus a fixed-path built-in template
// set. Grounded on crates/cp-mod-typst/src/{tools.rs,templates.rs}.
// pdf_create compiles a new document once by shelling out to the `typst` CLI
// (compileAndWrite; there is no Go Typst compiler library in the pack,
// matching how git.go/github.go shell out to their own CLIs rather than
// vendoring a library). The module also registers built-in Callback hooks
// that call `typst-compile`/`typst-compile-template` subcommands of this
// binary; cmd/contextpilot defines no such subcommands and no code runs
// callback hooks, so later edits to a document are not recompiled.
type Typst struct {
	handle   *statecore.ModuleHandle[typstData]
	callback *Callback
	tree     *Tree
}

func NewTypst(s *statecore.State, callback *Callback, tree *Tree) *Typst {
	h := statecore.RegisterModuleHandle(s.ModuleStore, "typst", typstData{Documents: map[string]TypstDocument{}})
	return &Typst{handle: h, callback: callback, tree: tree}
}

func (*Typst) ID() string          { return "typst" }
func (*Typst) Name() string        { return "Typst" }
func (*Typst) Description() string { return "Typst document authoring with PDF compilation" }
func (*Typst) Dependencies() []string { return []string{"tree", "callback"} }
func (*Typst) IsCore() bool           { return false }
func (*Typst) IsGlobal() bool         { return false }

func (*Typst) FixedPanelKinds() []statecore.PanelKind   { return nil }
func (*Typst) DynamicPanelKinds() []statecore.PanelKind { return []statecore.PanelKind{statecore.PanelFile} }

func (t *Typst) SaveData(*statecore.State) (any, error) { return t.handle.Get(), nil }
func (t *Typst) LoadData(data any, s *statecore.State) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	d := typstData{Documents: map[string]TypstDocument{}}
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	if d.Documents == nil {
		d.Documents = map[string]TypstDocument{}
	}
	t.handle.Set(d)
	// The compile callback may have been deleted externally; re-verify it
	// exists every time a worker's data (and therefore its documents) load,
	// matching ensure_typst_callback's "don't trust flags" comment.
	if err := t.ensureCallback(); err != nil {
		return fmt.Errorf("ensuring typst compile callback: %w", err)
	}
	return nil
}

func (*Typst) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "pdf_create", Name: "Create PDF Document", Category: "typst", Enabled: true, Module: "typst",
			Description: "Creates a new Typst (.typ) source document and compiles it once to a PDF at 'target'. Later edits are not recompiled automatically.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"name", "target"}, Properties: map[string]*statecore.ParamSchema{
				"name":     {Type: "string", Description: "Document name; also the .typ filename"},
				"target":   {Type: "string", Description: "Destination path for the compiled PDF"},
				"template": {Type: "string", Description: "Name of a built-in template to start from"},
			}},
		},
		{
			ID: "pdf_edit", Name: "Edit PDF Document", Category: "typst", Enabled: true, Module: "typst",
			Description: "Changes a document's compiled PDF target path, or deletes the document and its files.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"name"}, Properties: map[string]*statecore.ParamSchema{
				"name":   {Type: "string", Description: "Document name"},
				"target": {Type: "string", Description: "New destination path for the compiled PDF"},
				"delete": {Type: "boolean", Description: "Delete the document and its source/compiled files", Default: false},
			}},
		},
	}
}

func (t *Typst) Execute(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "pdf_create":
		return t.executeCreate(ctx, tu, s), nil
	case "pdf_edit":
		return t.executeEdit(tu, s), nil
	default:
		return nil, nil
	}
}

func (t *Typst) executeCreate(ctx context.Context, tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	name := str(tu.Input, "name")
	target := str(tu.Input, "target")
	if name == "" {
		return errResult(tu.ID, "'name' parameter is required")
	}
	if target == "" {
		return errResult(tu.ID, "'target' parameter is required (destination path for compiled PDF)")
	}
	template := str(tu.Input, "template")

	if _, exists := t.handle.Get().Documents[name]; exists {
		return errResult(tu.ID, fmt.Sprintf("document %q already exists; use pdf_edit to modify", name))
	}

	if err := os.MkdirAll(typstDocumentsDir, 0755); err != nil {
		return errResult(tu.ID, fmt.Sprintf("creating %s: %v", typstDocumentsDir, err))
	}
	if err := os.MkdirAll(typstTemplatesDir, 0755); err != nil {
		return errResult(tu.ID, fmt.Sprintf("creating %s: %v", typstTemplatesDir, err))
	}

	var seedMsg string
	t.handle.Update(func(d typstData) typstData {
		if !d.TemplatesSeeded {
			if err := seedTypstTemplates(); err != nil {
				seedMsg = fmt.Sprintf("\nwarning: seeding built-in templates failed: %v", err)
			}
			d.TemplatesSeeded = true
		}
		return d
	})
	if err := t.ensureCallback(); err != nil {
		return errResult(tu.ID, fmt.Sprintf("registering compile callback: %v", err))
	}

	sourcePath := filepath.Join(typstDocumentsDir, name+".typ")
	var content string
	if template != "" {
		tplFile := filepath.Join(typstTemplatesDir, template+".typ")
		if _, err := os.Stat(tplFile); err != nil {
			return errResult(tu.ID, fmt.Sprintf("template %q not found. Available templates: %s", template, listTypstTemplates()))
		}
		content = fmt.Sprintf("#import \"../templates/%s.typ\": *\n\n// Document: %s\n// Target: %s\n\n= %s\n\nYour content here.\n",
			template, name, target, name)
	} else {
		content = fmt.Sprintf("// Document: %s\n// Target: %s\n\n= %s\n\nYour content here.\n", name, target, name)
	}
	if err := os.WriteFile(sourcePath, []byte(content), 0644); err != nil {
		return errResult(tu.ID, fmt.Sprintf("writing %s: %v", sourcePath, err))
	}

	doc := TypstDocument{Name: name, Source: sourcePath, Target: target, Template: template}
	t.handle.Update(func(d typstData) typstData {
		d.Documents[name] = doc
		return d
	})

	t.tree.AnnotateTarget(s, target, "→ edit: "+sourcePath)

	s.Lock()
	id := s.NextPanelID()
	s.Panels = append(s.Panels, &statecore.ContextElement{
		ID: id, UID: "UID_" + id + "_P", Kind: statecore.PanelFile,
		DisplayName: name + ".typ", Metadata: map[string]string{"path": sourcePath}, CacheDeprecated: true,
	})
	s.Unlock()

	compileMsg := "\n" + compileAndWrite(ctx, sourcePath, target)

	var b strings.Builder
	fmt.Fprintf(&b, "Created document %q\n  Source: %s\n  Target: %s\n", name, sourcePath, target)
	if template != "" {
		fmt.Fprintf(&b, "  Template: %s\n", template)
	}
	b.WriteString(compileMsg)
	b.WriteString(seedMsg)
	fmt.Fprintf(&b, "\nFile opened: %s\nUse Edit tool to write the document content.", sourcePath)
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: b.String()}
}

func (t *Typst) executeEdit(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	name := str(tu.Input, "name")
	if name == "" {
		return errResult(tu.ID, "'name' parameter is required")
	}

	if del, _ := tu.Input["delete"].(bool); del {
		var doc TypstDocument
		var found bool
		t.handle.Update(func(d typstData) typstData {
			doc, found = d.Documents[name]
			delete(d.Documents, name)
			return d
		})
		if !found {
			return errResult(tu.ID, fmt.Sprintf("document %q not found", name))
		}
		_ = os.Remove(doc.Source)
		_ = os.Remove(doc.Target)
		t.tree.RemoveAnnotation(s, doc.Target)
		return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf(
			"Deleted document %q\n  Removed: %s\n  Removed: %s", name, doc.Source, doc.Target)}
	}

	newTarget := str(tu.Input, "target")
	if newTarget == "" {
		return errResult(tu.ID, "no changes specified: provide 'target' or 'delete'")
	}

	doc, found := t.handle.Get().Documents[name]
	if !found {
		return errResult(tu.ID, fmt.Sprintf("document %q not found; use pdf_create to create a new document", name))
	}
	oldTarget := doc.Target
	doc.Target = newTarget
	t.handle.Update(func(d typstData) typstData {
		d.Documents[name] = doc
		return d
	})

	var changes []string
	if _, err := os.Stat(oldTarget); err == nil {
		if err := os.MkdirAll(filepath.Dir(newTarget), 0755); err != nil {
			changes = append(changes, fmt.Sprintf("  target updated (creating destination dir failed: %v)", err))
		} else if err := os.Rename(oldTarget, newTarget); err != nil {
			changes = append(changes, fmt.Sprintf("  target updated (move failed: %v)", err))
		} else {
			changes = append(changes, fmt.Sprintf("  moved: %s -> %s", oldTarget, newTarget))
		}
	} else {
		changes = append(changes, fmt.Sprintf("  target: %s -> %s (no PDF to move yet)", oldTarget, newTarget))
	}

	t.tree.RemoveAnnotation(s, oldTarget)
	t.tree.AnnotateTarget(s, newTarget, "→ edit: "+doc.Source)

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Updated document %q:\n%s", name, strings.Join(changes, "\n"))}
}

func (t *Typst) ensureCallback() error {
	binaryPath, err := os.Executable()
	if err != nil {
		binaryPath = "contextpilot"
	}
	compileCmd := fmt.Sprintf(
		`bash -c 'echo "$CP_CHANGED_FILES" | while IFS= read -r FILE; do [ -n "$FILE" ] && %s typst-compile "$FILE"; done'`,
		binaryPath)
	if err := t.callback.EnsureBuiltinHook("typst-compile", typstDocumentsDir+"/*.typ",
		"Auto-compile .typ files to PDF on edit", compileCmd, "PDF compiled", true, 30); err != nil {
		return err
	}

	templateCmd := fmt.Sprintf(
		`bash -c 'echo "$CP_CHANGED_FILES" | while IFS= read -r FILE; do [ -n "$FILE" ] && %s typst-compile-template "$FILE"; done'`,
		binaryPath)
	return t.callback.EnsureBuiltinHook("typst-compile-template", typstTemplatesDir+"/*.typ",
		"Recompile all documents using an edited template", templateCmd, "Template docs recompiled", true, 30)
}

func listTypstTemplates() string {
	entries, err := os.ReadDir(typstTemplatesDir)
	if err != nil {
		return "(none)"
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".typ") {
			names = append(names, strings.TrimSuffix(e.Name(), ".typ"))
		}
	}
	if len(names) == 0 {
		return "(none)"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// builtinTypstTemplate seeds one starter template, trimmed from the
// original's richer template library (letter/report/resume) to a single
// minimal starting point — see DESIGN.md.
const builtinTypstTemplate = "#let doc(body) = {\n  set page(margin: 2cm)\n  set text(font: \"New Computer Modern\", size: 11pt)\n  body\n}\n"

func seedTypstTemplates() error {
	path := filepath.Join(typstTemplatesDir, "basic.typ")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(builtinTypstTemplate), 0644)
}

// compileAndWrite shells out to the `typst` CLI to compile source to target,
// returning a human-readable status line instead of an error so callers can
// still report document creation as successful when the initial compile
// fails (e.g. while the document body is still a stub).
func compileAndWrite(ctx context.Context, source, target string) string {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Sprintf("Warning: initial compile failed: creating target directory: %v", err)
	}
	cmd := exec.CommandContext(ctx, "typst", "compile", source, target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Sprintf("Warning: initial compile failed: %v\n%s", err, out)
	}
	return fmt.Sprintf("Compiled %s -> %s", source, target)
}
