package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// HookRegistry is the on-disk shape of scripts/hooks.toml: a named set of
// callback registrations, each bound to a trigger event and a shell command.
type HookRegistry struct {
	Hooks  map[string]RegistryHook `toml:"hooks"`
	NextID int                     `toml:"next_id"`
}

// RegistryHook describes one registered callback. Blocking/TimeoutSecs/
// SuccessMessage/OneAtATime/CWD are consumed by the file-change callback
// module; a plain turn-done/session-exit hook leaves them zero.
type RegistryHook struct {
	ID             string   `toml:"id"`
	Description    string   `toml:"description"`
	Event          string   `toml:"event"`
	Matchers       []string `toml:"matchers"`
	Command        string   `toml:"command"`
	Scope          string   `toml:"scope"`
	Enabled        bool     `toml:"enabled"`
	Blocking       bool     `toml:"blocking"`
	TimeoutSecs    int      `toml:"timeout_secs"`
	SuccessMessage string   `toml:"success_message"`
	OneAtATime     bool     `toml:"one_at_a_time"`
	CWD            string   `toml:"cwd"`
}

// HookRegistryPath returns the path to scripts/hooks.toml under root.
func HookRegistryPath(root string) string {
	return filepath.Join(root, Dir, "scripts", "hooks.toml")
}

// LoadHookRegistry parses scripts/hooks.toml, returning an empty registry
// if the file does not exist.
func LoadHookRegistry(root string) (*HookRegistry, error) {
	path := HookRegistryPath(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &HookRegistry{Hooks: map[string]RegistryHook{}}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var reg HookRegistry
	if err := toml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if reg.Hooks == nil {
		reg.Hooks = map[string]RegistryHook{}
	}
	return &reg, nil
}

// SaveHookRegistry writes the registry back to scripts/hooks.toml.
func SaveHookRegistry(root string, reg *HookRegistry) error {
	path := HookRegistryPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	return enc.Encode(reg)
}

// NextHookID allocates the next "CB{n}" identifier for a new callback
// registration, bumping the persisted counter.
func (r *HookRegistry) NextHookID() string {
	r.NextID++
	return fmt.Sprintf("CB%d", r.NextID)
}

// EnabledHooksForEvent returns the enabled hooks registered for event, in
// map-iteration order is not guaranteed so callers that need determinism
// should sort by name themselves.
func (r *HookRegistry) EnabledHooksForEvent(event string) map[string]RegistryHook {
	out := map[string]RegistryHook{}
	for name, h := range r.Hooks {
		if h.Enabled && h.Event == event {
			out[name] = h
		}
	}
	return out
}
