// Package statecore implements the State core (C9): the single mutable
// process-wide aggregate everything else reads and writes through, plus the
// module extension map. Grounded on
// crates/cp-base/src/state/runtime.rs — owns messages, panels, tools,
// sessions, watchers, and the module store by value; cross-references are
// string ids, never pointers, matching the original's ownership model.
package statecore

import (
	"sync"

	"github.com/contextpilot/contextpilot/internal/idgen"
)

// State is the single process-wide mutable aggregate. The main thread is
// its sole writer (spec.md §5); workers communicate back via channels and
// never touch it directly.
type State struct {
	mu sync.RWMutex

	Messages []*Message
	Panels   []*ContextElement
	Tools    []*ToolDefinition
	Sessions map[string]*Session
	Watchers map[string]*Watcher

	ActiveModules map[string]bool

	// Streaming/retry/cost bookkeeping surfaced to the UI and guard rails.
	APIRetryCount     int
	GuardRailBlocked  *string
	AccumulatedCostUSD float64

	ModuleStore *ModuleStore

	msgSeq     *idgen.Allocator
	panelSeq   *idgen.Allocator
	watcherSeq *idgen.Allocator
	sessionSeq *idgen.Allocator
}

// New creates an empty State with allocators starting from the given
// persisted sequence numbers (0 for a fresh workspace).
func New(msgStart, panelStart, watcherStart, sessionStart int64) *State {
	return &State{
		Sessions:      map[string]*Session{},
		Watchers:      map[string]*Watcher{},
		ActiveModules: map[string]bool{},
		ModuleStore:   NewModuleStore(),
		msgSeq:        idgen.NewAllocator("M", msgStart),
		panelSeq:      idgen.NewAllocator("P", max64(panelStart, 9)),
		watcherSeq:    idgen.NewAllocator("W", watcherStart),
		sessionSeq:    idgen.NewAllocator("c_", sessionStart),
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Lock/Unlock/RLock/RUnlock expose the state's own mutex so callers that
// need a read-modify-write spanning multiple helper calls (e.g. cache
// application, module dispatch) can hold it across the whole sequence.
func (s *State) Lock()    { s.mu.Lock() }
func (s *State) Unlock()  { s.mu.Unlock() }
func (s *State) RLock()   { s.mu.RLock() }
func (s *State) RUnlock() { s.mu.RUnlock() }

// NextMessageID allocates the next "{prefix}{n}" message id. The caller
// supplies the prefix (U/A/T/R) since the sequence is shared across types
// per the original's single counter.
func (s *State) NextMessageID(prefix string) string {
	id := s.msgSeq.Next()
	// id is "M{n}"; splice in the caller's type prefix, keep the number.
	return prefix + id[1:]
}

// NextPanelID allocates the next dynamic panel id from a counter that
// starts at P9 and only increases; ids of removed panels are not reused.
func (s *State) NextPanelID() string {
	return s.panelSeq.Next()
}

// NextWatcherID allocates a fresh watcher id.
func (s *State) NextWatcherID() string {
	return s.watcherSeq.Next()
}

// NextSessionKey allocates the next console session key ("c_{n}").
func (s *State) NextSessionKey() string {
	return s.sessionSeq.Next()
}

// AppendMessage appends to the log. History is append-only during a turn;
// callers that need to "edit" a message flip its status instead (see
// Message.Status) rather than mutating text in place.
func (s *State) AppendMessage(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, m)
}

// FindPanel returns the panel with the given id, or nil.
func (s *State) FindPanel(id string) *ContextElement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.Panels {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// AddPanel appends a newly created panel to the registry.
func (s *State) AddPanel(p *ContextElement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Panels = append(s.Panels, p)
}

// RemovePanel deletes a panel by id, returning true if it was present.
func (s *State) RemovePanel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.Panels {
		if p.ID == id {
			s.Panels = append(s.Panels[:i], s.Panels[i+1:]...)
			return true
		}
	}
	return false
}

// DeprecatePanelsWhere marks cache_deprecated on every panel matching pred.
// Used by state-mutating tool operations that may have invalidated panels
// (spec.md §4.2 rule 1).
func (s *State) DeprecatePanelsWhere(pred func(*ContextElement) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Panels {
		if pred(p) {
			p.MarkDeprecated()
		}
	}
}

// SetGuardRailBlocked sets the guard-rail-blocked reason. Once set, it
// remains set until ClearGuardRailBlocked is called; guard.CostCap.Reset is
// its only caller, and a successful stream in the turn loop does not clear it.
func (s *State) SetGuardRailBlocked(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GuardRailBlocked = &reason
}

// ClearGuardRailBlocked clears the guard-rail-blocked reason.
func (s *State) ClearGuardRailBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GuardRailBlocked = nil
}
