package statecore

// WatcherMode selects the predicate a Watcher evaluates.
type WatcherMode string

const (
	WatcherExit    WatcherMode = "exit"
	WatcherPattern WatcherMode = "pattern"
)

// Watcher represents "resume this blocking tool when this predicate becomes
// true (or its deadline fires)" (spec.md §4.3).
type Watcher struct {
	ID             string
	SessionKey     string
	Mode           WatcherMode
	Pattern        string // raw source regex, compiled by the registry
	Blocking       bool
	ToolUseID      string
	RegisteredAtMs int64
	DeadlineMs     *int64
	Label          string
	PanelID        string
}

// WatcherResult is delivered to the turn loop when a watcher is satisfied.
type WatcherResult struct {
	WatcherID  string
	ToolUseID  string
	Satisfied  bool
	TimedOut   bool
	ExitCode   *int
	LastLines  []string
	Summary    string
}
