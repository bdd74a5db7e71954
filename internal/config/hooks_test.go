package config

import "testing"

func TestHookRegistryRoundTrip(t *testing.T) {
	root := t.TempDir()
	reg := &HookRegistry{Hooks: map[string]RegistryHook{
		"on-file-change": {
			Description: "rerun lint after an edit",
			Event:       "file-change",
			Matchers:    []string{"*.go"},
			Command:     "scripts/lint.sh",
			Scope:       "worker",
			Enabled:     true,
		},
	}}
	if err := SaveHookRegistry(root, reg); err != nil {
		t.Fatalf("SaveHookRegistry: %v", err)
	}

	got, err := LoadHookRegistry(root)
	if err != nil {
		t.Fatalf("LoadHookRegistry: %v", err)
	}
	h, ok := got.Hooks["on-file-change"]
	if !ok {
		t.Fatalf("hook not found after round trip: %+v", got.Hooks)
	}
	if h.Command != "scripts/lint.sh" || h.Event != "file-change" || !h.Enabled {
		t.Errorf("unexpected hook: %+v", h)
	}
}

func TestLoadHookRegistryMissingFile(t *testing.T) {
	root := t.TempDir()
	reg, err := LoadHookRegistry(root)
	if err != nil {
		t.Fatalf("LoadHookRegistry: %v", err)
	}
	if len(reg.Hooks) != 0 {
		t.Errorf("expected empty registry, got %+v", reg.Hooks)
	}
}

func TestEnabledHooksForEvent(t *testing.T) {
	reg := &HookRegistry{Hooks: map[string]RegistryHook{
		"a": {Event: "turn-done", Enabled: true},
		"b": {Event: "turn-done", Enabled: false},
		"c": {Event: "session-exit", Enabled: true},
	}}
	got := reg.EnabledHooksForEvent("turn-done")
	if len(got) != 1 {
		t.Fatalf("expected 1 enabled hook for turn-done, got %d", len(got))
	}
	if _, ok := got["a"]; !ok {
		t.Errorf("expected hook 'a' in result")
	}
}
