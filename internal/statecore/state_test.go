package statecore

import "testing"

func TestNextPanelIDStartsAtNine(t *testing.T) {
	s := New(0, 0, 0, 0)
	if got := s.NextPanelID(); got != "P9" {
		t.Errorf("first dynamic panel id = %q, want P9", got)
	}
	if got := s.NextPanelID(); got != "P10" {
		t.Errorf("second dynamic panel id = %q, want P10", got)
	}
}

func TestNextMessageIDSharesSequenceAcrossPrefixes(t *testing.T) {
	s := New(0, 0, 0, 0)
	u := s.NextMessageID("U")
	a := s.NextMessageID("A")
	if u != "U0" || a != "A1" {
		t.Errorf("got %q, %q; want U0, A1 (shared monotonic counter)", u, a)
	}
}

func TestAddFindRemovePanel(t *testing.T) {
	s := New(0, 0, 0, 0)
	p := &ContextElement{ID: "P9", Kind: PanelFile}
	s.AddPanel(p)
	if got := s.FindPanel("P9"); got != p {
		t.Fatalf("FindPanel did not return added panel")
	}
	if !s.RemovePanel("P9") {
		t.Fatalf("RemovePanel returned false for existing panel")
	}
	if s.FindPanel("P9") != nil {
		t.Errorf("panel still present after removal")
	}
}

func TestGuardRailBlockedMonotonic(t *testing.T) {
	s := New(0, 0, 0, 0)
	if s.GuardRailBlocked != nil {
		t.Fatalf("expected nil initially")
	}
	s.SetGuardRailBlocked("max cost reached")
	if s.GuardRailBlocked == nil || *s.GuardRailBlocked != "max cost reached" {
		t.Fatalf("expected blocked reason to be set")
	}
	s.ClearGuardRailBlocked()
	if s.GuardRailBlocked != nil {
		t.Errorf("expected nil after clear")
	}
}

func TestDeprecatePanelsWhere(t *testing.T) {
	s := New(0, 0, 0, 0)
	p1 := &ContextElement{ID: "P9", Kind: PanelFile, Metadata: map[string]string{"path": "/a"}}
	p2 := &ContextElement{ID: "P10", Kind: PanelFile, Metadata: map[string]string{"path": "/b"}}
	s.AddPanel(p1)
	s.AddPanel(p2)

	s.DeprecatePanelsWhere(func(c *ContextElement) bool {
		return c.Metadata["path"] == "/a"
	})

	if !p1.CacheDeprecated {
		t.Errorf("p1 should be deprecated")
	}
	if p2.CacheDeprecated {
		t.Errorf("p2 should not be deprecated")
	}
}

func TestModuleHandleIsolation(t *testing.T) {
	store := NewModuleStore()
	type gitState struct{ Branch string }
	type todoState struct{ Items []string }

	gitHandle := RegisterModuleHandle(store, "git", gitState{Branch: "main"})
	todoHandle := RegisterModuleHandle(store, "todo", todoState{})

	gitHandle.Update(func(g gitState) gitState {
		g.Branch = "feature"
		return g
	})
	todoHandle.Set(todoState{Items: []string{"write tests"}})

	if gitHandle.Get().Branch != "feature" {
		t.Errorf("git handle state not updated")
	}
	if len(todoHandle.Get().Items) != 1 {
		t.Errorf("todo handle state not isolated from git handle")
	}
}
