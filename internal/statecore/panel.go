package statecore

// PanelKind tags the registered type of a panel's content. Fixed panels
// occupy a reserved ordering prefix; dynamic panels are allocated P9+.
type PanelKind string

const (
	PanelSystem              PanelKind = "system"
	PanelConversation        PanelKind = "conversation"
	PanelTree                PanelKind = "tree"
	PanelTodo                PanelKind = "todo"
	PanelMemories            PanelKind = "memories"
	PanelOverview            PanelKind = "overview"
	PanelGit                 PanelKind = "git"
	PanelScratchpad          PanelKind = "scratchpad"
	PanelTools               PanelKind = "tools"
	PanelLibrary             PanelKind = "library"
	PanelLogs                PanelKind = "logs"
	PanelFile                PanelKind = "file"
	PanelGlob                PanelKind = "glob"
	PanelGrep                PanelKind = "grep"
	PanelTmux                PanelKind = "tmux"
	PanelConsole             PanelKind = "console"
	PanelGithubResult        PanelKind = "github_result"
	PanelSkill               PanelKind = "skill"
	PanelConversationHistory PanelKind = "conversation_history"
	PanelCallback            PanelKind = "callback"
)

// FixedPanelKinds lists kinds with a reserved ordering prefix (P0..P8-ish),
// in their fixed order. Anything not in this set is dynamic (P9+).
var FixedPanelKinds = []PanelKind{
	PanelSystem, PanelConversation, PanelTree, PanelTodo, PanelMemories,
	PanelOverview, PanelGit, PanelScratchpad, PanelTools, PanelLibrary, PanelLogs,
	PanelCallback,
}

// IsFixed reports whether kind occupies the reserved prefix.
func IsFixed(kind PanelKind) bool {
	for _, k := range FixedPanelKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Pagination tracks how a panel's cached content is sliced into pages.
// FullTokenCount is the source of truth; TotalPages/TokenCount of the
// current page are derived from it (spec.md §9).
type Pagination struct {
	CurrentPage    int
	TotalPages     int
	FullTokenCount int
	PageTokenCount int
}

// CostAccounting tracks per-panel spend incurred refreshing its content.
type CostAccounting struct {
	CacheHit   bool
	TotalCost  float64
}

// ContextElement is a panel: a named, refreshable context view injected
// into the prompt (spec.md §3).
type ContextElement struct {
	ID          string // "Pn"
	UID         string // "UID_{n}_P"
	Kind        PanelKind
	DisplayName string
	Metadata    map[string]string

	CachedContent  *string
	ContentHash    string
	SourceHash     string
	CacheDeprecated bool
	CacheInFlight   bool
	LastRefreshMs   int64

	Pagination Pagination
	Cost       CostAccounting
}

// IsFresh reports (a) from spec.md §3: not deprecated and has content.
func (c *ContextElement) IsFresh() bool {
	return !c.CacheDeprecated && c.CachedContent != nil
}

// IsDirty reports (b): deprecated but still has stale, usable content.
func (c *ContextElement) IsDirty() bool {
	return c.CacheDeprecated && c.CachedContent != nil
}

// MarkDeprecated sets the deprecation flag. Deprecation is monotone until a
// refresh completes (cleared only by ApplyRefresh or ApplyUnchanged).
func (c *ContextElement) MarkDeprecated() {
	c.CacheDeprecated = true
}

// ApplyRefresh installs freshly computed content and resets pagination/flags
// per spec.md §4.2.5.
func (c *ContextElement) ApplyRefresh(content string, hash string, fullTokenCount int) {
	c.CachedContent = &content
	c.ContentHash = hash
	c.Pagination.FullTokenCount = fullTokenCount
	c.Pagination.CurrentPage = 0
	c.CacheDeprecated = false
	c.CacheInFlight = false
}

// ApplyUnchanged marks a refresh that detected no content change: only the
// refresh timestamp moves, content/hash/token counts are left untouched.
func (c *ContextElement) ApplyUnchanged(nowMs int64) {
	c.LastRefreshMs = nowMs
	c.CacheDeprecated = false
	c.CacheInFlight = false
}
