// Package panel implements the Panel Registry (C1): every panel kind's
// invariants and refresh policy, populated once at startup from each active
// module and read-only thereafter.
package panel

import (
	"fmt"
	"sort"
	"time"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Descriptor is what a module publishes for one panel kind at registration.
type Descriptor struct {
	Kind            statecore.PanelKind
	Fixed           bool
	NeedsCache      bool
	DefaultName     string
	RefreshInterval time.Duration // zero means "no periodic wake-up"
	New             func(metadata map[string]string) *statecore.ContextElement
}

// Registry holds every registered panel kind. Populated once at startup;
// read-only after Freeze is called.
type Registry struct {
	descriptors map[statecore.PanelKind]Descriptor
	frozen      bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: map[statecore.PanelKind]Descriptor{}}
}

// Register adds a panel kind. Calling Register after Freeze panics: this is
// a startup-only operation and a post-freeze call is a wiring bug, not a
// runtime condition.
func (r *Registry) Register(d Descriptor) error {
	if r.frozen {
		panic("panel: Register called after Freeze")
	}
	if _, exists := r.descriptors[d.Kind]; exists && d.Fixed {
		return fmt.Errorf("%w: %s", statecore.ErrDuplicateFixedID, d.Kind)
	}
	r.descriptors[d.Kind] = d
	return nil
}

// Freeze marks the registry read-only; called once after every module has
// registered its panel kinds.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup returns the descriptor for kind.
func (r *Registry) Lookup(kind statecore.PanelKind) (Descriptor, error) {
	d, ok := r.descriptors[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", statecore.ErrNotRegistered, kind)
	}
	return d, nil
}

// RefreshInterval returns the kind's periodic refresh interval, used by C2
// for time-based (not just deprecation-based) wake-ups.
func (r *Registry) RefreshInterval(kind statecore.PanelKind) (time.Duration, bool) {
	d, ok := r.descriptors[kind]
	if !ok || d.RefreshInterval == 0 {
		return 0, false
	}
	return d.RefreshInterval, true
}

// CreateDynamicPanel allocates the next dynamic id from State.NextPanelID
// (a counter from P9 up; ids of removed panels are not reused), derives the
// UID "UID_<id>_P" from it as the modules do, and marks the new panel deprecated so the cache pipeline picks it up
// on the next tick (spec.md §4.1).
func (r *Registry) CreateDynamicPanel(s *statecore.State, kind statecore.PanelKind, metadata map[string]string) (*statecore.ContextElement, error) {
	d, err := r.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if d.Fixed {
		return nil, fmt.Errorf("cannot create dynamic panel of fixed kind %s", kind)
	}
	el := d.New(metadata)
	el.ID = s.NextPanelID()
	el.UID = "UID_" + el.ID + "_P"
	el.Kind = kind
	el.Metadata = metadata
	el.CacheDeprecated = true
	s.AddPanel(el)
	return el, nil
}

// PanelsFor returns every panel currently in state, ordered: fixed panels
// first in their registered fixed order, then dynamic panels in insertion
// order (spec.md §4.1's panels_for).
func (r *Registry) PanelsFor(s *statecore.State) []*statecore.ContextElement {
	s.RLock()
	defer s.RUnlock()

	fixed := make([]*statecore.ContextElement, 0)
	dynamic := make([]*statecore.ContextElement, 0)
	for _, p := range s.Panels {
		if statecore.IsFixed(p.Kind) {
			fixed = append(fixed, p)
		} else {
			dynamic = append(dynamic, p)
		}
	}

	sort.SliceStable(fixed, func(i, j int) bool {
		return fixedOrderIndex(fixed[i].Kind) < fixedOrderIndex(fixed[j].Kind)
	})

	out := make([]*statecore.ContextElement, 0, len(fixed)+len(dynamic))
	out = append(out, fixed...)
	out = append(out, dynamic...)
	return out
}

func fixedOrderIndex(kind statecore.PanelKind) int {
	for i, k := range statecore.FixedPanelKinds {
		if k == kind {
			return i
		}
	}
	return len(statecore.FixedPanelKinds)
}
