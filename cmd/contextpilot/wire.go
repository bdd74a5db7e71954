package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/contextpilot/contextpilot/internal/cache"
	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/config"
	"github.com/contextpilot/contextpilot/internal/console"
	"github.com/contextpilot/contextpilot/internal/guard"
	"github.com/contextpilot/contextpilot/internal/llm"
	"github.com/contextpilot/contextpilot/internal/llm/provider"
	"github.com/contextpilot/contextpilot/internal/panel"
	"github.com/contextpilot/contextpilot/internal/statecore"
	"github.com/contextpilot/contextpilot/internal/tool"
	"github.com/contextpilot/contextpilot/internal/tool/module"
	"github.com/contextpilot/contextpilot/internal/watcher"
)

// engine bundles every wired component a CLI command needs: this is the
// production composition root C1/C2/C3/C6/C7/C8 are otherwise only
// exercised from (spec.md §4.9's chief completeness gap before this file).
type engine struct {
	root   string
	cfg    *config.Config
	state  *statecore.State
	reg    *tool.Registry
	panels *panel.Registry
	pipe   *cache.Pipeline
	watch  *watcher.Registry
	dsp    *tool.Dispatch
	costCap *guard.CostCap

	ghPoller  *cache.GhPoller
	ghUpdates chan cache.Update

	coreMod    *module.Core
	consoleMod *module.Console
	githubMod  module.Github
	treeMod    *module.Tree
	libraryMod *module.Library
}

// defaultActiveModules mirrors original_source/src/modules/mod.rs's
// default_active_modules: core plus every module that doesn't require
// explicit opt-in.
var defaultActiveModules = []string{
	"core", "files", "git", "github", "todo", "console", "glob", "grep", "tree", "callback", "preset", "typst", "library",
}

func buildEngine(root string) (*engine, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	ws, err := config.LoadWorkerState(root)
	if err != nil {
		return nil, fmt.Errorf("loading worker state: %w", err)
	}

	s := statecore.New(ws.NextMessageSeq, ws.NextPanelSeq, ws.NextWatcherSeq, 0)

	panels := panel.NewRegistry()

	callbackMod, err := module.NewCallback(s, root)
	if err != nil {
		return nil, fmt.Errorf("wiring callback module: %w", err)
	}
	treeMod := module.NewTree(s)
	todoMod := module.NewTodo(s)
	presetMod := module.NewPreset(s, root)
	typstMod := module.NewTypst(s, callbackMod, treeMod)
	libraryMod := module.NewLibrary(s, root)
	coreMod := module.NewCore()

	var consoleMod *module.Console
	watchRegistry := watcher.New(func(key string) (watcher.SessionView, bool) { return consoleMod.Lookup(key) }, clock.Real{})

	socketPath := filepath.Join(root, cfg.ConsoleSocketPath)
	var client *console.Client
	if c, dialErr := console.Dial(socketPath); dialErr == nil {
		client = c
	}
	consoleMod = module.NewConsole(s, client, watchRegistry, filepath.Join(root, config.Dir, "console", "logs"))

	var githubMod module.Github

	modules := []tool.Module{
		coreMod,
		module.Files{},
		module.Git{},
		githubMod,
		todoMod,
		consoleMod,
		module.Glob{},
		module.Grep{},
		treeMod,
		callbackMod,
		presetMod,
		typstMod,
		libraryMod,
	}
	reg := tool.NewRegistry(modules)

	for _, id := range defaultActiveModules {
		s.ActiveModules[id] = true
	}
	if err := reg.ValidateDependencies(s.ActiveModules); err != nil {
		return nil, fmt.Errorf("validating module dependencies: %w", err)
	}

	for _, m := range reg.All() {
		for _, k := range m.FixedPanelKinds() {
			needsCache := k == statecore.PanelTree || k == statecore.PanelGithubResult
			if err := panels.Register(panel.Descriptor{Kind: k, Fixed: true, NeedsCache: needsCache, New: fixedPanelFactory(k)}); err != nil {
				return nil, err
			}
		}
		for _, k := range m.DynamicPanelKinds() {
			needsCache := k == statecore.PanelFile || k == statecore.PanelGlob || k == statecore.PanelGrep ||
				k == statecore.PanelGithubResult || k == statecore.PanelCallback
			if err := panels.Register(panel.Descriptor{Kind: k, Fixed: false, NeedsCache: needsCache, New: dynamicPanelFactory(k)}); err != nil {
				return nil, err
			}
		}
	}
	panels.Freeze()

	if err := loadModuleData(root, reg, s); err != nil {
		return nil, err
	}

	dsp := tool.NewDispatch(reg, panels, s.ActiveModules)
	dsp.RebuildTools(s)

	pipe := cache.New(panels, cfg.CachePoolSize, clock.Real{})
	pipe.RegisterWorker(statecore.PanelTree, module.TreeWorker)
	pipe.RegisterWorker(statecore.PanelGrep, module.GrepWorker)
	pipe.RegisterWorker(statecore.PanelGlob, module.GlobWorker)

	costCap := guard.NewCostCap(root, cfg.MaxCostUSD)

	ghUpdates := make(chan cache.Update, 16)
	ghPoller := cache.NewGhPoller(newGhCLIRunner(), clock.Real{}, ghUpdates)

	return &engine{
		root: root, cfg: cfg, state: s, reg: reg, panels: panels, pipe: pipe,
		watch: watchRegistry, dsp: dsp, costCap: costCap,
		coreMod: coreMod, consoleMod: consoleMod, githubMod: githubMod,
		treeMod: treeMod, libraryMod: libraryMod,
		ghPoller: ghPoller, ghUpdates: ghUpdates,
	}, nil
}

// syncAndTickGhPoller reconciles the GhPoller's watch list with the current
// GithubResult panels (spec.md §4.2 rule 7) and polls whatever is due.
func (e *engine) syncAndTickGhPoller(ctx context.Context) {
	e.state.RLock()
	panels := make(map[string]struct {
		Args         []string
		IsAPICommand bool
	})
	for _, p := range e.state.Panels {
		if p.Kind != statecore.PanelGithubResult {
			continue
		}
		args, isAPI := parseGhCommand(p.Metadata["command"])
		if args == nil {
			continue
		}
		panels[p.ID] = struct {
			Args         []string
			IsAPICommand bool
		}{Args: args, IsAPICommand: isAPI}
	}
	e.state.RUnlock()

	e.ghPoller.Sync(panels)
	e.ghPoller.Tick(ctx)
}

// refreshSyncPanels recomputes the panel kinds that are cheap enough to
// render synchronously (Overview, Tools, Library) rather than through
// cache.Pipeline's worker pool, and copies the Tree module's live state into
// its panel's Metadata so a subsequent pipe.Tick sees the latest edits.
func (e *engine) refreshSyncPanels() {
	e.treeMod.SyncPanelMetadata(e.state)

	// Computed before locking: FormatOverview/FormatTools take e.state's own
	// RLock, and Library's content has nothing to do with state locking at all.
	overview := e.coreMod.FormatOverview(e.state)
	tools := e.coreMod.FormatTools(e.state)
	library := e.libraryMod.FormatLibraryPanel()

	e.state.Lock()
	for _, p := range e.state.Panels {
		var content string
		switch p.Kind {
		case statecore.PanelOverview:
			content = overview
		case statecore.PanelTools:
			content = tools
		case statecore.PanelLibrary:
			content = library
		default:
			continue
		}
		p.ApplyRefresh(content, cache.HashContent(content), cache.EstimateTokens(content))
	}
	e.state.Unlock()
}

// fixedPanelFactory returns the zero-value constructor registered for a
// fixed panel kind: module ToolDefinitions/Execute mutate its content, the
// factory only needs to give it a sensible default display name.
func fixedPanelFactory(kind statecore.PanelKind) func(map[string]string) *statecore.ContextElement {
	return func(metadata map[string]string) *statecore.ContextElement {
		return &statecore.ContextElement{Kind: kind, DisplayName: string(kind), CacheDeprecated: true}
	}
}

func dynamicPanelFactory(kind statecore.PanelKind) func(map[string]string) *statecore.ContextElement {
	return func(metadata map[string]string) *statecore.ContextElement {
		name := metadata["display_name"]
		if name == "" {
			name = string(kind)
		}
		return &statecore.ContextElement{Kind: kind, DisplayName: name, Metadata: metadata, CacheDeprecated: true}
	}
}

// clientFor resolves the llm.Client + roster ModelInfo for a model name,
// based on which provider owns it (spec.md §4.6's multi-provider roster).
func clientFor(apiName string) (llm.Client, llm.ModelInfo, error) {
	info, ok := llm.Lookup(apiName)
	if !ok {
		return nil, llm.ModelInfo{}, fmt.Errorf("unknown model %q", apiName)
	}
	switch info.Provider {
	case llm.ProviderAnthropic:
		return provider.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY")), info, nil
	case llm.ProviderOpenAICompat:
		switch apiName {
		case "grok-4-1-fast", "grok-4-fast":
			return provider.NewGrok(os.Getenv("GROK_API_KEY")), info, nil
		default:
			return provider.NewGroq(os.Getenv("GROQ_API_KEY")), info, nil
		}
	default:
		return nil, llm.ModelInfo{}, fmt.Errorf("unhandled provider %q", info.Provider)
	}
}

// moduleDataPath is where a module's SaveData/LoadData blob is persisted:
// one JSON file per module id under .context-pilot/modules/.
func moduleDataPath(root, id string) string {
	return filepath.Join(root, config.Dir, "modules", id+".json")
}

func loadModuleData(root string, reg *tool.Registry, s *statecore.State) error {
	for _, m := range reg.All() {
		path := moduleDataPath(root, m.ID())
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := m.LoadData(raw, s); err != nil {
			return fmt.Errorf("loading module data for %s: %w", m.ID(), err)
		}
	}
	return nil
}

func saveModuleData(root string, reg *tool.Registry, s *statecore.State) error {
	dir := filepath.Join(root, config.Dir, "modules")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, m := range reg.All() {
		data, err := m.SaveData(s)
		if err != nil {
			return fmt.Errorf("saving module data for %s: %w", m.ID(), err)
		}
		if data == nil {
			continue
		}
		enc, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(moduleDataPath(root, m.ID()), append(enc, '\n'), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", moduleDataPath(root, m.ID()), err)
		}
	}
	return nil
}
