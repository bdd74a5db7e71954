package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != "claude-sonnet-4-5" {
		t.Errorf("DefaultModel = %q, want claude-sonnet-4-5", cfg.DefaultModel)
	}
	if cfg.AutoContinueCap != 5 {
		t.Errorf("AutoContinueCap = %d, want 5", cfg.AutoContinueCap)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.MaxCostUSD = 2.5
	cfg.DefaultModel = "claude-opus"
	if err := Save(root, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MaxCostUSD != 2.5 || got.DefaultModel != "claude-opus" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestEnvOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv("CONTEXTPILOT_MAX_COST_USD", "9.75")
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxCostUSD != 9.75 {
		t.Errorf("MaxCostUSD = %v, want 9.75 (env override)", cfg.MaxCostUSD)
	}
}

func TestWorkerStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	ws := &WorkerState{LastActiveModel: "claude-opus", CursorPage: 2, NextMessageSeq: 7}
	if err := SaveWorkerState(root, ws); err != nil {
		t.Fatalf("SaveWorkerState: %v", err)
	}
	got, err := LoadWorkerState(root)
	if err != nil {
		t.Fatalf("LoadWorkerState: %v", err)
	}
	if got.LastActiveModel != "claude-opus" || got.CursorPage != 2 || got.NextMessageSeq != 7 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if _, err := filepath.Abs(root); err != nil {
		t.Fatalf("bad temp dir: %v", err)
	}
}
