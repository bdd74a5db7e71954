// Package watcher implements the Watcher Registry (C3): blocking/async
// predicates over console output and time that resume a blocking tool call
// when satisfied (spec.md §4.3).
package watcher

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// SessionView is the minimal read surface the registry needs from a console
// session to evaluate a predicate, without depending on the console
// package's full Session type.
type SessionView interface {
	Status() statecore.SessionStatus
	ExitCode() *int
	BufferContains(re *regexp.Regexp) (matched bool, lastLines []string)
}

// SessionLookup resolves a session key to its current view.
type SessionLookup func(key string) (SessionView, bool)

// Registry holds every outstanding watcher and evaluates them on tick.
// Satisfaction delivery is deduplicated per watcher id: Tick never delivers
// the same watcher twice (spec.md §8 property 5).
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*entry
	lookup   SessionLookup
	clock    clock.Clock

	results chan statecore.WatcherResult
}

type entry struct {
	w       *statecore.Watcher
	pattern *regexp.Regexp
}

// New creates a Registry that resolves sessions via lookup.
func New(lookup SessionLookup, clk clock.Clock) *Registry {
	return &Registry{
		watchers: map[string]*entry{},
		lookup:   lookup,
		clock:    clk,
		results:  make(chan statecore.WatcherResult, 32),
	}
}

// Results returns the channel the turn loop drains for satisfied watchers.
func (r *Registry) Results() <-chan statecore.WatcherResult { return r.results }

// Register inserts a watcher. It is idempotent on watcher_id: registering
// the same id twice is a no-op on the second call. Before storing, the
// predicate is evaluated eagerly; if already true, the watcher is never
// stored and the result is returned synchronously instead of being
// delivered async (spec.md §4.3's pre-check rule).
func (r *Registry) Register(w *statecore.Watcher) (*statecore.WatcherResult, error) {
	var compiled *regexp.Regexp
	if w.Mode == statecore.WatcherPattern {
		re, err := regexp.Compile(w.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", statecore.ErrInvalidPattern, err)
		}
		compiled = re
	}

	r.mu.Lock()
	if _, exists := r.watchers[w.ID]; exists {
		r.mu.Unlock()
		return nil, nil
	}
	r.mu.Unlock()

	if res := r.evaluate(w, compiled, r.clock.NowMs()); res != nil {
		return res, nil
	}

	r.mu.Lock()
	r.watchers[w.ID] = &entry{w: w, pattern: compiled}
	r.mu.Unlock()
	return nil, nil
}

// Tick evaluates every outstanding watcher's predicate. Satisfied watchers
// are removed and their result delivered on Results(), keyed by tool_use_id
// for blocking watchers (spec.md §4.3). Each watcher fires at most once:
// once removed from `watchers`, a later Tick cannot find it again.
func (r *Registry) Tick(nowMs int64) {
	r.mu.Lock()
	due := make([]*entry, 0)
	for id, e := range r.watchers {
		if res := r.evaluate(e.w, e.pattern, nowMs); res != nil {
			due = append(due, e)
			delete(r.watchers, id)
		}
	}
	r.mu.Unlock()

	for _, e := range due {
		res := r.evaluate(e.w, e.pattern, nowMs)
		if res != nil {
			r.results <- *res
		}
	}
}

// evaluate returns a non-nil result if the watcher's predicate is currently
// satisfied (or its deadline has passed), nil otherwise. It does not mutate
// the registry.
func (r *Registry) evaluate(w *statecore.Watcher, compiled *regexp.Regexp, nowMs int64) *statecore.WatcherResult {
	if w.DeadlineMs != nil && nowMs >= *w.DeadlineMs {
		return &statecore.WatcherResult{
			WatcherID: w.ID,
			ToolUseID: w.ToolUseID,
			Satisfied: true,
			TimedOut:  true,
			Summary:   "watcher deadline reached",
		}
	}

	sess, ok := r.lookup(w.SessionKey)
	if !ok {
		return nil
	}

	switch w.Mode {
	case statecore.WatcherExit:
		if sess.Status().IsTerminal() {
			code := sess.ExitCode()
			return &statecore.WatcherResult{
				WatcherID: w.ID,
				ToolUseID: w.ToolUseID,
				Satisfied: true,
				ExitCode:  code,
			}
		}
	case statecore.WatcherPattern:
		matched, lastLines := sess.BufferContains(compiled)
		if matched {
			return &statecore.WatcherResult{
				WatcherID: w.ID,
				ToolUseID: w.ToolUseID,
				Satisfied: true,
				LastLines: lastLines,
			}
		}
	}
	return nil
}

// Remove drops a watcher without delivering a result (used on user
// interrupt — spec.md §5's cancellation semantics: "drops blocking watchers
// tied to the current turn").
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, id)
}

// Outstanding reports how many watchers are currently registered.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}
