package cache

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/contextpilot/contextpilot/internal/clock"
)

// Default/min poll interval for GithubResult panels (spec.md §4.2 rule 7,
// §6). Grounded on original_source/src/gh_watcher.rs's
// GH_DEFAULT_POLL_INTERVAL_SECS / GH_WATCHER_TICK_SECS constants.
const (
	GhDefaultPollInterval = 60 * time.Second
	GhMinPollInterval     = 5 * time.Second
)

// GhWatch is the per-panel polling state the GhPoller maintains between
// ticks: either an HTTP ETag (api commands) or an output hash (other gh
// commands), plus the currently adjusted interval.
type GhWatch struct {
	PanelID       string
	Command       []string // parsed gh args, excluding "gh"
	IsAPICommand  bool
	ETag          string
	LastOutputHash string
	PollInterval  time.Duration
	LastPollMs    int64
}

// GhRunner executes a validated gh command and returns stdout/stderr plus,
// for API commands, the response headers needed to extract an ETag and
// X-Poll-Interval. Implementations shell out to the `gh` binary; kept as an
// interface so tests can substitute a fake.
type GhRunner interface {
	RunAPI(ctx context.Context, args []string, etag string) (status int, body string, headers http.Header, err error)
	RunOther(ctx context.Context, args []string) (output string, err error)
}

// GhPoller polls GithubResult panels with backoff, emitting Updates onto the
// channel given to NewGhPoller for the main loop to apply with
// Pipeline.Apply — detection IS fetching here, so unlike other panel kinds
// the pipeline doesn't re-run a separate worker (spec.md §4.2 rule 7).
type GhPoller struct {
	runner  GhRunner
	clock   clock.Clock
	updates chan<- Update

	mu      sync.Mutex
	watches map[string]*GhWatch
}

// NewGhPoller creates a poller that sends Updates onto updates.
func NewGhPoller(runner GhRunner, clk clock.Clock, updates chan<- Update) *GhPoller {
	return &GhPoller{runner: runner, clock: clk, updates: updates, watches: map[string]*GhWatch{}}
}

// Sync reconciles the watch list with the current set of GithubResult
// panels: adds missing watches, removes stale ones, and preserves
// etag/hash/interval state on watches that already existed.
func (g *GhPoller) Sync(panels map[string]struct {
	Args         []string
	IsAPICommand bool
}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id := range g.watches {
		if _, ok := panels[id]; !ok {
			delete(g.watches, id)
		}
	}
	for id, p := range panels {
		if _, ok := g.watches[id]; ok {
			continue
		}
		g.watches[id] = &GhWatch{
			PanelID:      id,
			Command:      p.Args,
			IsAPICommand: p.IsAPICommand,
			PollInterval: GhDefaultPollInterval,
		}
	}
}

// Tick polls every watch whose interval has elapsed and emits an Update for
// any that produced new content.
func (g *GhPoller) Tick(ctx context.Context) {
	g.mu.Lock()
	due := make([]*GhWatch, 0)
	now := g.clock.NowMs()
	for _, w := range g.watches {
		if now-w.LastPollMs >= w.PollInterval.Milliseconds() {
			due = append(due, w)
		}
	}
	g.mu.Unlock()

	for _, w := range due {
		g.pollOne(ctx, w)
	}
}

func (g *GhPoller) pollOne(ctx context.Context, w *GhWatch) {
	g.mu.Lock()
	w.LastPollMs = g.clock.NowMs()
	g.mu.Unlock()

	if w.IsAPICommand {
		status, body, headers, err := g.runner.RunAPI(ctx, w.Command, w.ETag)
		if err != nil {
			return
		}
		if interval := headers.Get("X-Poll-Interval"); interval != "" {
			if secs, perr := strconv.Atoi(interval); perr == nil {
				iv := time.Duration(secs) * time.Second
				if iv < GhMinPollInterval {
					iv = GhMinPollInterval
				}
				g.mu.Lock()
				w.PollInterval = iv
				g.mu.Unlock()
			}
		}
		if status == http.StatusNotModified {
			return // no content update emitted on 304 (spec.md §4.2 rule 7)
		}
		if status < 200 || status >= 300 {
			return // non-success exit: no content update
		}
		if etag := headers.Get("ETag"); etag != "" {
			g.mu.Lock()
			w.ETag = etag
			g.mu.Unlock()
		}
		g.emit(w.PanelID, redactToken(body))
		return
	}

	output, err := g.runner.RunOther(ctx, w.Command)
	if err != nil {
		return
	}
	hash := HashContent(output)
	g.mu.Lock()
	changed := hash != w.LastOutputHash
	w.LastOutputHash = hash
	g.mu.Unlock()
	if changed {
		g.emit(w.PanelID, redactToken(output))
	}
}

func (g *GhPoller) emit(panelID, content string) {
	g.updates <- Update{
		PanelID:     panelID,
		Content:     content,
		ContentHash: HashContent(content),
		TokenCount:  EstimateTokens(content),
	}
}

// redactToken scrubs an accidentally leaked GitHub token from polled output
// (spec.md §6).
func redactToken(s string) string {
	if strings.Contains(s, "gho_") || strings.Contains(s, "ghp_") {
		for _, prefix := range []string{"gho_", "ghp_"} {
			for {
				idx := strings.Index(s, prefix)
				if idx == -1 {
					break
				}
				end := idx + len(prefix)
				for end < len(s) && isTokenChar(s[end]) {
					end++
				}
				s = s[:idx] + "[REDACTED]" + s[end:]
			}
		}
	}
	return s
}

func isTokenChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}
