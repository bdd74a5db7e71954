package guard

import (
	"testing"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

func TestCostCapAllowsUnderBudget(t *testing.T) {
	root := t.TempDir()
	cap := NewCostCap(root, 1.0)
	s := statecore.New(0, 9, 0, 0)

	if err := cap.Record(s, 0.25); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ok, reason := cap.Allow(s); !ok {
		t.Fatalf("expected allowed under budget, got blocked: %s", reason)
	}
}

func TestCostCapBlocksAtOrOverBudget(t *testing.T) {
	root := t.TempDir()
	cap := NewCostCap(root, 1.0)
	s := statecore.New(0, 9, 0, 0)

	if err := cap.Record(s, 0.6); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := cap.Record(s, 0.5); err != nil {
		t.Fatalf("Record: %v", err)
	}
	ok, reason := cap.Allow(s)
	if ok {
		t.Fatal("expected guard rail to block once spend reaches the cap")
	}
	if reason == "" {
		t.Error("expected a non-empty block reason")
	}
}

func TestCostCapResetClearsBlock(t *testing.T) {
	root := t.TempDir()
	cap := NewCostCap(root, 1.0)
	s := statecore.New(0, 9, 0, 0)
	_ = cap.Record(s, 2.0)

	if ok, _ := cap.Allow(s); ok {
		t.Fatal("expected blocked before reset")
	}
	cap.Reset(s)
	if ok, reason := cap.Allow(s); !ok {
		t.Fatalf("expected allowed after reset, got blocked: %s", reason)
	}
}

func TestCostCapUncappedNeverBlocks(t *testing.T) {
	root := t.TempDir()
	cap := NewCostCap(root, 0)
	s := statecore.New(0, 9, 0, 0)
	_ = cap.Record(s, 1000.0)

	if ok, reason := cap.Allow(s); !ok {
		t.Fatalf("expected uncapped cost cap to never block, got: %s", reason)
	}
}

func TestCostCapPersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	s1 := statecore.New(0, 9, 0, 0)
	_ = NewCostCap(root, 10.0).Record(s1, 3.0)

	s2 := statecore.New(0, 9, 0, 0)
	cap2 := NewCostCap(root, 10.0)
	if err := cap2.Record(s2, 0); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if s2.AccumulatedCostUSD != 3.0 {
		t.Errorf("expected ledger to carry over 3.0, got %v", s2.AccumulatedCostUSD)
	}
}
