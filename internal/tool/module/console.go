package module

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/contextpilot/contextpilot/internal/console"
	"github.com/contextpilot/contextpilot/internal/llm"
	"github.com/contextpilot/contextpilot/internal/statecore"
	"github.com/contextpilot/contextpilot/internal/watcher"
)

const consoleMaxWaitSecs = 30
const bashMaxExecutionSecs = 10

// consoleRuntime holds the live, unserializable half of the console module's
// state: the daemon connection, the watcher registry, and each session's
// in-memory handle. Grounded on
// original_source/crates/cp-mod-console's ConsoleState, split from the
// serializable statecore.Session metadata in state.Sessions (spec.md §9).
type consoleRuntime struct {
	client   *console.Client
	watchers *watcher.Registry
	handles  map[string]*console.SessionHandle
	logDir   string
}

// Console spawns and drives interactive subprocess sessions through the
// console daemon, and blocks/watches for their exit or output. Grounded on
// original_source/crates/cp-mod-console/src/tools.rs.
type Console struct {
	handle *statecore.ModuleHandle[*consoleRuntime]
}

// NewConsole wires a Console module to an already-dialed daemon client and
// the process-wide watcher registry; reg's SessionLookup must resolve keys
// this module registers (normally by delegating to this module's Lookup).
func NewConsole(s *statecore.State, client *console.Client, reg *watcher.Registry, logDir string) *Console {
	h := statecore.RegisterModuleHandle(s.ModuleStore, "console", &consoleRuntime{
		client:   client,
		watchers: reg,
		handles:  map[string]*console.SessionHandle{},
		logDir:   logDir,
	})
	return &Console{handle: h}
}

// Lookup resolves a session key to a watcher.SessionView, for use as the
// watcher.Registry's SessionLookup.
func (c *Console) Lookup(key string) (watcher.SessionView, bool) {
	rt := c.handle.Get()
	h, ok := rt.handles[key]
	if !ok {
		return nil, false
	}
	return h.View(), true
}

func (*Console) ID() string          { return "console" }
func (*Console) Name() string        { return "Console" }
func (*Console) Description() string { return "Spawns and drives interactive subprocess sessions" }
func (*Console) Dependencies() []string { return nil }
func (*Console) IsCore() bool           { return false }
func (*Console) IsGlobal() bool         { return false }

func (*Console) FixedPanelKinds() []statecore.PanelKind   { return nil }
func (*Console) DynamicPanelKinds() []statecore.PanelKind { return []statecore.PanelKind{statecore.PanelConsole} }

// SaveData/LoadData are no-ops: live daemon connections and ring buffers
// aren't serializable, and statecore.State's own Sessions map (keyed
// identically) already persists each session's command/cwd/log path for the
// daemon to reattach to on restart.
func (*Console) SaveData(*statecore.State) (any, error) { return nil, nil }
func (*Console) LoadData(any, *statecore.State) error    { return nil }

func (*Console) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "console_create", Name: "Create Console", Category: "console", Enabled: true, Module: "console",
			Description: "Spawns a command in a new interactive console session and returns its panel id. " +
				"Use console_send to write input, console_wait/console_watch to observe exit or output. " +
				"Do not run git, gh, or typst here: use their dedicated tools instead.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"command"}, Properties: map[string]*statecore.ParamSchema{
				"command":     {Type: "string", Description: "Shell command to run"},
				"cwd":         {Type: "string", Description: "Working directory (default: current)"},
				"description": {Type: "string", Description: "Short human-readable label for the session"},
			}},
		},
		{
			ID: "console_send", Name: "Send to Console", Category: "console", Enabled: true, Module: "console",
			Description: "Writes input to a console session's stdin. Supports \\n \\t \\e and \\xHH escapes.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id", "input"}, Properties: map[string]*statecore.ParamSchema{
				"id":    {Type: "string", Description: "Console panel id"},
				"input": {Type: "string", Description: "Text to send, escapes decoded"},
			}},
		},
		{
			ID: "console_wait", Name: "Wait on Console", Category: "console", Enabled: true, Module: "console",
			Description: "Blocks until a console session exits or its output matches a pattern, up to max_wait seconds.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id", "mode"}, Properties: map[string]*statecore.ParamSchema{
				"id":       {Type: "string", Description: "Console panel id"},
				"mode":     {Type: "string", Enum: []string{"exit", "pattern"}, Description: "What to wait for"},
				"pattern":  {Type: "string", Description: "Regex to match against output (required when mode=pattern)"},
				"max_wait": {Type: "integer", Description: "Seconds to wait before giving up, 1-30 (default 30)"},
			}},
		},
		{
			ID: "console_watch", Name: "Watch Console", Category: "console", Enabled: true, Module: "console",
			Description: "Registers a non-blocking watch for a console session's exit or output pattern; " +
				"returns immediately and you'll be notified when it fires.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id", "mode"}, Properties: map[string]*statecore.ParamSchema{
				"id":      {Type: "string", Description: "Console panel id"},
				"mode":    {Type: "string", Enum: []string{"exit", "pattern"}, Description: "What to watch for"},
				"pattern": {Type: "string", Description: "Regex to match against output (required when mode=pattern)"},
			}},
		},
		{
			ID: "debug_bash", Name: "Quick Bash", Category: "console", Enabled: true, Module: "console",
			Description: fmt.Sprintf("Runs a short command and blocks for its exit, up to %ds. "+
				"For anything longer or interactive, use console_create instead. "+
				"Do not run git, gh, or typst here: use their dedicated tools instead.", bashMaxExecutionSecs),
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"command"}, Properties: map[string]*statecore.ParamSchema{
				"command": {Type: "string", Description: "Shell command to run"},
			}},
		},
	}
}

func (c *Console) Execute(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "console_create":
		return c.executeCreate(tu, s)
	case "console_send":
		return c.executeSend(tu, s)
	case "console_wait":
		return c.executeWait(ctx, tu, s)
	case "console_watch":
		return c.executeWatch(tu, s)
	case "debug_bash":
		return c.executeDebugBash(tu, s)
	default:
		return nil, nil
	}
}

// checkGitGhGuardrail rejects attempts to run git, gh, or typst through the
// raw console, directing the caller to the dedicated tools instead. Grounded
// on cp-mod-console/src/tools.rs's check_git_gh_guardrail: split on shell
// separators, strip leading KEY=VAL env assignments, inspect the resolved
// binary's basename.
func checkGitGhGuardrail(input string) error {
	for _, part := range splitShellSegments(input) {
		fields := strings.Fields(part)
		i := 0
		for i < len(fields) && isEnvAssignment(fields[i]) {
			i++
		}
		if i >= len(fields) {
			continue
		}
		bin := filepath.Base(fields[i])
		switch bin {
		case "git":
			return fmt.Errorf("use the git_* tools instead of running git through the console")
		case "gh":
			return fmt.Errorf("use the gh_command tool instead of running gh through the console")
		case "typst":
			return fmt.Errorf("use the typst_* tools instead of running typst through the console")
		}
	}
	return nil
}

func splitShellSegments(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return r == '|' || r == ';' || r == '&' || r == '\n'
	})
}

func isEnvAssignment(field string) bool {
	eq := strings.IndexByte(field, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range field[:eq] {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func (c *Console) executeCreate(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	command := str(tu.Input, "command")
	if command == "" {
		return errResult(tu.ID, "'command' parameter is required"), nil
	}
	if err := checkGitGhGuardrail(command); err != nil {
		return errResult(tu.ID, err.Error()), nil
	}
	cwd := str(tu.Input, "cwd")
	description := str(tu.Input, "description")

	rt := c.handle.Get()
	key := s.NextSessionKey()
	logPath := filepath.Join(rt.logDir, key+".log")

	resp, err := rt.client.Create(key, command, cwd, logPath)
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("console daemon unreachable: %v", err)), nil
	}
	if !resp.OK {
		return errResult(tu.ID, fmt.Sprintf("failed to spawn: %s", resp.Error)), nil
	}

	sh := console.NewSessionHandle(rt.client, key, logPath, resp.PID)
	c.handle.Update(func(rt *consoleRuntime) *consoleRuntime {
		rt.handles[key] = sh
		return rt
	})

	s.Lock()
	s.Sessions[key] = &statecore.Session{
		Key: key, Command: command, Cwd: cwd,
		Status: statecore.SessionRunning, PID: resp.PID, LogPath: logPath,
	}
	displayName := description
	if displayName == "" {
		displayName = truncateStr(command, 48)
	}
	panelID := s.NextPanelID()
	s.Panels = append(s.Panels, &statecore.ContextElement{
		ID: panelID, UID: "UID_" + panelID + "_P", Kind: statecore.PanelConsole, DisplayName: displayName,
		Metadata: map[string]string{
			"console_name":        key,
			"console_command":     command,
			"console_status":      string(statecore.SessionRunning),
			"console_description": description,
			"console_cwd":         cwd,
		},
	})
	s.Unlock()

	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Console started: %s", panelID)}, nil
}

func (c *Console) executeSend(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	panelID := str(tu.Input, "id")
	input := str(tu.Input, "input")
	if panelID == "" {
		return errResult(tu.ID, "'id' parameter is required"), nil
	}
	if input == "" {
		return errResult(tu.ID, "'input' parameter is required"), nil
	}
	if err := checkGitGhGuardrail(input); err != nil {
		return errResult(tu.ID, err.Error()), nil
	}

	key, sessErr := c.resolveSessionKey(s, panelID)
	if sessErr != nil {
		return errResult(tu.ID, sessErr.Error()), nil
	}
	rt := c.handle.Get()
	resp, err := rt.client.Send(key, console.DecodeEscapes(input))
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("console daemon unreachable: %v", err)), nil
	}
	if !resp.OK {
		return errResult(tu.ID, fmt.Sprintf("send failed: %s", resp.Error)), nil
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "sent"}, nil
}

func (c *Console) executeWait(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	w, res, errResBlock := c.buildWatcher(tu, s, true)
	if errResBlock != nil {
		return errResBlock, nil
	}
	if res != nil {
		return formatWaitResult(tu.ID, res), nil
	}

	rt := c.handle.Get()
	immediate, err := rt.watchers.Register(w)
	if err != nil {
		return errResult(tu.ID, err.Error()), nil
	}
	if immediate != nil {
		return formatWaitResult(tu.ID, immediate), nil
	}
	return nil, llm.ErrBlocked
}

func (c *Console) executeWatch(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	w, res, errResBlock := c.buildWatcher(tu, s, false)
	if errResBlock != nil {
		return errResBlock, nil
	}
	if res != nil {
		return formatWaitResult(tu.ID, res), nil
	}
	rt := c.handle.Get()
	if _, err := rt.watchers.Register(w); err != nil {
		return errResult(tu.ID, err.Error()), nil
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "watcher registered; you'll be notified when it fires"}, nil
}

// buildWatcher validates console_wait/console_watch's shared parameters and
// constructs a statecore.Watcher. If the condition is already satisfied it
// returns a non-nil WatcherResult instead (the fast path both tools share).
func (c *Console) buildWatcher(tu statecore.ToolUse, s *statecore.State, blocking bool) (*statecore.Watcher, *statecore.WatcherResult, *statecore.ToolResultBlock) {
	panelID := str(tu.Input, "id")
	mode := str(tu.Input, "mode")
	pattern := str(tu.Input, "pattern")
	if panelID == "" {
		return nil, nil, errResult(tu.ID, "'id' parameter is required")
	}
	var wmode statecore.WatcherMode
	switch mode {
	case "exit":
		wmode = statecore.WatcherExit
	case "pattern":
		wmode = statecore.WatcherPattern
		if pattern == "" {
			return nil, nil, errResult(tu.ID, "'pattern' parameter is required when mode is 'pattern'")
		}
	default:
		return nil, nil, errResult(tu.ID, "'mode' must be 'exit' or 'pattern'")
	}

	key, err := c.resolveSessionKey(s, panelID)
	if err != nil {
		return nil, nil, errResult(tu.ID, err.Error())
	}

	view, ok := c.Lookup(key)
	if !ok {
		return nil, nil, errResult(tu.ID, fmt.Sprintf("no such console session: %s", panelID))
	}
	if wmode == statecore.WatcherExit && view.Status().IsTerminal() {
		return nil, &statecore.WatcherResult{Satisfied: true, ExitCode: view.ExitCode()}, nil
	}

	w := &statecore.Watcher{
		ID: s.NextWatcherID(), SessionKey: key, Mode: wmode, Pattern: pattern,
		Blocking: blocking, PanelID: panelID, RegisteredAtMs: nowMsApprox(),
	}
	if blocking {
		w.ToolUseID = tu.ID
		maxWait := intField(tu.Input, "max_wait", consoleMaxWaitSecs)
		if maxWait < 1 {
			maxWait = 1
		}
		if maxWait > consoleMaxWaitSecs {
			maxWait = consoleMaxWaitSecs
		}
		deadline := w.RegisteredAtMs + int64(maxWait)*1000
		w.DeadlineMs = &deadline
	}
	return w, nil, nil
}

func (c *Console) executeDebugBash(tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	command := str(tu.Input, "command")
	if command == "" {
		return errResult(tu.ID, "'command' parameter is required"), nil
	}
	if err := checkGitGhGuardrail(command); err != nil {
		return errResult(tu.ID, err.Error()), nil
	}

	rt := c.handle.Get()
	key := s.NextSessionKey()
	logPath := filepath.Join(rt.logDir, key+".log")
	resp, err := rt.client.Create(key, command, "", logPath)
	if err != nil {
		return errResult(tu.ID, fmt.Sprintf("console daemon unreachable: %v", err)), nil
	}
	if !resp.OK {
		return errResult(tu.ID, fmt.Sprintf("failed to spawn: %s", resp.Error)), nil
	}
	sh := console.NewSessionHandle(rt.client, key, logPath, resp.PID)
	c.handle.Update(func(rt *consoleRuntime) *consoleRuntime {
		rt.handles[key] = sh
		return rt
	})

	s.Lock()
	s.Sessions[key] = &statecore.Session{Key: key, Command: command, Status: statecore.SessionRunning, PID: resp.PID, LogPath: logPath}
	panelID := s.NextPanelID()
	s.Panels = append(s.Panels, &statecore.ContextElement{
		ID: panelID, UID: "UID_" + panelID + "_P", Kind: statecore.PanelConsole, DisplayName: truncateStr(command, 48),
		Metadata: map[string]string{
			"console_name": key, "console_command": command,
			"console_status": string(statecore.SessionRunning), "console_is_easy_bash": "true",
		},
	})
	s.Unlock()

	now := nowMsApprox()
	deadline := now + bashMaxExecutionSecs*1000
	w := &statecore.Watcher{
		ID: s.NextWatcherID(), SessionKey: key, Mode: statecore.WatcherExit,
		Blocking: true, ToolUseID: tu.ID, PanelID: panelID,
		RegisteredAtMs: now, DeadlineMs: &deadline,
	}
	res, err := rt.watchers.Register(w)
	if err != nil {
		return errResult(tu.ID, err.Error()), nil
	}
	if res != nil {
		return formatWaitResult(tu.ID, res), nil
	}
	return nil, llm.ErrBlocked
}

// resolveSessionKey looks up the internal session key for a console panel
// id, mirroring cp-mod-console/src/tools.rs's resolve_session_key.
func (c *Console) resolveSessionKey(s *statecore.State, panelID string) (string, error) {
	p := s.FindPanel(panelID)
	if p == nil || p.Kind != statecore.PanelConsole {
		return "", fmt.Errorf("no such console panel: %s", panelID)
	}
	key := p.Metadata["console_name"]
	if key == "" {
		return "", fmt.Errorf("console panel %s has no session", panelID)
	}
	return key, nil
}

func formatWaitResult(toolUseID string, res *statecore.WatcherResult) *statecore.ToolResultBlock {
	if res.TimedOut {
		return &statecore.ToolResultBlock{ToolUseID: toolUseID, Content: "wait timed out before the condition was met"}
	}
	var b strings.Builder
	if res.ExitCode != nil {
		fmt.Fprintf(&b, "exited with code %d\n", *res.ExitCode)
	} else {
		b.WriteString("pattern matched\n")
	}
	if len(res.LastLines) > 0 {
		b.WriteString(strings.Join(res.LastLines, "\n"))
	}
	return &statecore.ToolResultBlock{ToolUseID: toolUseID, Content: b.String()}
}

func truncateStr(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "..."
}

func intField(v map[string]any, key string, def int) int {
	switch n := v[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// nowMsApprox stamps watcher registration times. The clock used to evaluate
// deadlines is the registry's own injected clock.Clock; this is only used to
// compute RegisteredAtMs/DeadlineMs at registration time from wall time.
func nowMsApprox() int64 {
	return time.Now().UnixMilli()
}
