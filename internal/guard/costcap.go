// Package guard implements the Guard Rails & Classifier (C8): a cost-cap
// circuit breaker that blocks new LLM requests once accumulated spend
// crosses config.MaxCostUSD, and an auth doctor that exercises each
// provider's CheckAPI. Grounded on original_source's guard-rail gate in
// the turn loop (state.GuardRailBlocked) and on cp-base's CheckAPI probes.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/contextpilot/contextpilot/internal/config"
	"github.com/contextpilot/contextpilot/internal/lock"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// ledgerFile persists accumulated spend so the cap survives worker
// restarts and is shared across every process pointed at the same
// workspace (spec.md §4.9's "one .context-pilot/ directory, several
// concurrent workers" note).
const ledgerFile = "cost_ledger.json"

type ledger struct {
	AccumulatedCostUSD float64 `json:"accumulated_cost_usd"`
}

// CostCap enforces config.MaxCostUSD against a cost ledger shared, via an
// flock-guarded file, across every worker process pointed at root. A
// MaxUSD of 0 means uncapped (spec.md §4.8's default).
type CostCap struct {
	Root   string
	MaxUSD float64
}

// NewCostCap builds a CostCap rooted at the workspace directory that owns
// .context-pilot/.
func NewCostCap(root string, maxUSD float64) *CostCap {
	return &CostCap{Root: root, MaxUSD: maxUSD}
}

func (c *CostCap) ledgerPath() string {
	return filepath.Join(c.Root, config.Dir, ledgerFile)
}

// Record accumulates a turn's spend onto the shared ledger and the local
// State mirror, then re-evaluates the block. Must be called after every
// completed turn, win or lose, so the ledger never misses a charge
// (spec.md §8 property 7).
func (c *CostCap) Record(s *statecore.State, costUSD float64) error {
	path := c.ledgerPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	release, err := lock.FlockAcquire(path + ".lock")
	if err != nil {
		return fmt.Errorf("acquiring cost ledger lock: %w", err)
	}
	defer release()

	led := ledger{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &led)
	}
	led.AccumulatedCostUSD += costUSD

	data, err := json.MarshalIndent(led, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	s.Lock()
	s.AccumulatedCostUSD = led.AccumulatedCostUSD
	s.Unlock()

	if c.MaxUSD > 0 && led.AccumulatedCostUSD >= c.MaxUSD {
		s.SetGuardRailBlocked(fmt.Sprintf("cost cap exceeded: $%.4f spent of $%.4f budget", led.AccumulatedCostUSD, c.MaxUSD))
	}
	return nil
}

// Allow reports whether a new request may be issued: false once the guard
// rail is tripped, until explicitly cleared by Reset.
func (c *CostCap) Allow(s *statecore.State) (bool, string) {
	s.RLock()
	defer s.RUnlock()
	if s.GuardRailBlocked != nil {
		return false, *s.GuardRailBlocked
	}
	return true, ""
}

// Reset clears a tripped guard rail, used by the doctor/CLI when the
// operator raises the budget or starts a fresh session.
func (c *CostCap) Reset(s *statecore.State) {
	s.ClearGuardRailBlocked()
}
