// Package cache implements the Cache Pipeline (C2): background refresh of
// panel content with hash-based change detection. A bounded pool of worker
// goroutines drains requests; workers never touch statecore.State, they
// only return CacheUpdate values over a channel that the main loop applies
// (spec.md §4.2, §5).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/panel"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// MaxContentBytes is the oversized-content cap; sources larger than this
// yield a sentinel instead of their real bytes (spec.md §4.2 rule 6).
const MaxContentBytes = 256 * 1024

// Worker computes fresh content for one panel. It must be pure: all inputs
// it needs come from the Request, and it must not touch shared state.
type Worker func(ctx context.Context, req Request) Result

// Request captures everything a worker needs to recompute a panel's content
// (spec.md §4.2 rule 2): paths/patterns/filters live in Metadata, prior
// hashes are carried so the worker can short-circuit.
type Request struct {
	PanelID        string
	Kind           statecore.PanelKind
	Metadata       map[string]string
	PriorContentHash string
	PriorSourceHash  string
}

// Result is what a worker returns; exactly one of Unchanged or Content is set.
type Result struct {
	PanelID   string
	Unchanged bool
	Content   string
	SourceHash string
	Err       error
}

// Update is what the main thread applies after a worker result arrives.
type Update struct {
	PanelID    string
	Unchanged  bool
	Content    string
	ContentHash string
	TokenCount  int
	Err         error
}

// HashContent returns the canonical SHA-256 hex digest of content, used for
// change detection (spec.md §4.2 rule 4).
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Sentinel returns the textual stand-in emitted when a source exceeds
// MaxContentBytes (spec.md §4.2 rule 6).
func Sentinel(byteLen int) string {
	return fmt.Sprintf("[content omitted: %d bytes exceeds the %d byte cache limit; narrow the query or paginate]", byteLen, MaxContentBytes)
}

// EstimateTokens is a byte/4 heuristic, matching the original's
// estimate_tokens used for panel token accounting; a precise tokenizer is
// out of scope for the engine core.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// Pipeline owns the bounded worker pool and the result channel the main
// loop drains.
type Pipeline struct {
	registry *panel.Registry
	workers  map[statecore.PanelKind]Worker
	poolSize int
	clock    clock.Clock

	updates chan Update
	wg      sync.WaitGroup
	sem     chan struct{}

	mu        sync.Mutex
	inFlight  map[string]bool
}

// New creates a Pipeline with the given bounded concurrency.
func New(reg *panel.Registry, poolSize int, clk clock.Clock) *Pipeline {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Pipeline{
		registry: reg,
		workers:  map[statecore.PanelKind]Worker{},
		poolSize: poolSize,
		clock:    clk,
		updates:  make(chan Update, 64),
		sem:      make(chan struct{}, poolSize),
		inFlight: map[string]bool{},
	}
}

// RegisterWorker binds a Worker to a panel kind.
func (p *Pipeline) RegisterWorker(kind statecore.PanelKind, w Worker) {
	p.workers[kind] = w
}

// Updates returns the channel the main loop selects on to apply results.
func (p *Pipeline) Updates() <-chan Update { return p.updates }

// Tick scans every panel in s that is registered for caching and either
// deprecated-and-not-in-flight, or past its kind's refresh interval, and
// dispatches a request for each into the bounded worker pool (spec.md §4.2
// rules 2-3). cache_in_flight is the mutex token: at most one outstanding
// request per panel.
func (p *Pipeline) Tick(ctx context.Context, s *statecore.State) {
	s.Lock()
	var due []Request
	now := p.clock.NowMs()
	for _, el := range s.Panels {
		d, err := p.registry.Lookup(el.Kind)
		if err != nil || !d.NeedsCache {
			continue
		}
		if el.CacheInFlight {
			continue
		}
		intervalDue := false
		if d.RefreshInterval > 0 {
			intervalDue = now-el.LastRefreshMs >= d.RefreshInterval.Milliseconds()
		}
		if !el.CacheDeprecated && !intervalDue {
			continue
		}
		el.CacheInFlight = true
		due = append(due, Request{
			PanelID:          el.ID,
			Kind:             el.Kind,
			Metadata:         el.Metadata,
			PriorContentHash: el.ContentHash,
			PriorSourceHash:  el.SourceHash,
		})
	}
	s.Unlock()

	for _, req := range due {
		p.dispatch(ctx, req)
	}
}

func (p *Pipeline) dispatch(ctx context.Context, req Request) {
	worker, ok := p.workers[req.Kind]
	if !ok {
		p.updates <- Update{PanelID: req.PanelID, Err: fmt.Errorf("%w: %s", statecore.ErrNotRegistered, req.Kind)}
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		res := worker(ctx, req)
		if res.Err != nil {
			p.updates <- Update{PanelID: req.PanelID, Err: res.Err}
			return
		}
		if res.Unchanged {
			p.updates <- Update{PanelID: req.PanelID, Unchanged: true}
			return
		}

		content := res.Content
		if len(content) > MaxContentBytes {
			content = Sentinel(len(content))
		}
		hash := HashContent(content)
		if hash == req.PriorContentHash {
			p.updates <- Update{PanelID: req.PanelID, Unchanged: true}
			return
		}
		p.updates <- Update{
			PanelID:     req.PanelID,
			Content:     content,
			ContentHash: hash,
			TokenCount:  EstimateTokens(content),
		}
	}()
}

// Apply installs one Update into state, following spec.md §4.2 rule 5: sets
// cached_content/content_hash/full_token_count, resets current_page to 0,
// clears cache_deprecated and cache_in_flight. If the panel has since been
// removed, the update is dropped (cancellation, spec.md §4.2 ordering
// guarantees).
func (p *Pipeline) Apply(s *statecore.State, u Update) {
	s.Lock()
	defer s.Unlock()
	el := findPanelLocked(s, u.PanelID)
	if el == nil {
		return // panel removed while request was in flight — drop silently
	}
	if u.Err != nil {
		el.CacheInFlight = false
		return
	}
	if u.Unchanged {
		el.ApplyUnchanged(p.clock.NowMs())
		return
	}
	content := u.Content
	el.ApplyRefresh(content, u.ContentHash, u.TokenCount)
	el.LastRefreshMs = p.clock.NowMs()
}

func findPanelLocked(s *statecore.State, id string) *statecore.ContextElement {
	for _, p := range s.Panels {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Wait blocks until all dispatched workers have returned. Used by tests and
// graceful shutdown; the live loop instead drains Updates() continuously.
func (p *Pipeline) Wait() { p.wg.Wait() }
