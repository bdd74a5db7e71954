package panel

import (
	"testing"
	"time"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

func newFileDescriptor() Descriptor {
	return Descriptor{
		Kind:       statecore.PanelFile,
		Fixed:      false,
		NeedsCache: true,
		New: func(md map[string]string) *statecore.ContextElement {
			return &statecore.ContextElement{DisplayName: md["path"]}
		},
	}
}

func newGitDescriptor() Descriptor {
	return Descriptor{
		Kind:            statecore.PanelGit,
		Fixed:           true,
		NeedsCache:      true,
		RefreshInterval: 2 * time.Second,
		New: func(md map[string]string) *statecore.ContextElement {
			return &statecore.ContextElement{DisplayName: "git"}
		},
	}
}

func TestLookupUnregisteredKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(statecore.PanelFile); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestCreateDynamicPanelAllocatesP9Plus(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newFileDescriptor()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Freeze()

	s := statecore.New(0, 0, 0, 0)
	el, err := r.CreateDynamicPanel(s, statecore.PanelFile, map[string]string{"path": "/tmp/x"})
	if err != nil {
		t.Fatalf("CreateDynamicPanel: %v", err)
	}
	if el.ID != "P9" {
		t.Errorf("ID = %q, want P9", el.ID)
	}
	if !el.CacheDeprecated {
		t.Errorf("new dynamic panel should start deprecated")
	}
}

func TestDuplicateFixedRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newGitDescriptor()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(newGitDescriptor()); err == nil {
		t.Fatalf("expected error re-registering a fixed kind")
	}
}

func TestPanelsForOrdersFixedThenDynamic(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(newGitDescriptor())
	_ = r.Register(newFileDescriptor())
	r.Freeze()

	s := statecore.New(0, 0, 0, 0)
	dyn, _ := r.CreateDynamicPanel(s, statecore.PanelFile, map[string]string{"path": "/a"})
	s.AddPanel(&statecore.ContextElement{ID: "P3", Kind: statecore.PanelGit})

	ordered := r.PanelsFor(s)
	if len(ordered) != 2 {
		t.Fatalf("expected 2 panels, got %d", len(ordered))
	}
	if ordered[0].Kind != statecore.PanelGit {
		t.Errorf("fixed panel should come first, got %v", ordered[0].Kind)
	}
	if ordered[1].ID != dyn.ID {
		t.Errorf("dynamic panel should come last")
	}
}

func TestRefreshInterval(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(newGitDescriptor())
	r.Freeze()

	d, ok := r.RefreshInterval(statecore.PanelGit)
	if !ok || d != 2*time.Second {
		t.Errorf("RefreshInterval = %v, %v; want 2s, true", d, ok)
	}
	if _, ok := r.RefreshInterval(statecore.PanelFile); ok {
		t.Errorf("unregistered kind should have no refresh interval")
	}
}
