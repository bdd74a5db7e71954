// Package config loads the process-wide Config (config.json) and the
// per-worker WorkerState (worker.json) from the .context-pilot/ directory,
// applying CONTEXTPILOT_* environment overrides after the file load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Dir is the name of the on-disk root directory, relative to the workspace.
const Dir = ".context-pilot"

// Config is the global, shared process configuration.
type Config struct {
	DefaultModel      string            `json:"default_model"`
	ProviderAPIKeyEnv map[string]string `json:"provider_api_key_env"`
	MaxCostUSD        float64           `json:"max_cost_usd"`
	AutoContinueCap   int               `json:"auto_continue_cap"`
	CachePoolSize     int               `json:"cache_pool_size"`
	ConsoleSocketPath string            `json:"console_socket_path"`
	LogLevel          string            `json:"log_level"`
}

// Default returns the built-in defaults, used when no config.json exists.
func Default() *Config {
	return &Config{
		DefaultModel: "claude-sonnet-4-5",
		ProviderAPIKeyEnv: map[string]string{
			"anthropic":   "ANTHROPIC_API_KEY",
			"openaicompat": "OPENAI_API_KEY",
		},
		MaxCostUSD:        0,
		AutoContinueCap:   5,
		CachePoolSize:     4,
		ConsoleSocketPath: filepath.Join(Dir, "console", "server.sock"),
		LogLevel:          "info",
	}
}

// WorkerState is per-invocation scratch persisted across restarts
// (worker.json): not shared across concurrent workers pointed at the
// same .context-pilot/ directory.
type WorkerState struct {
	LastActiveModel string `json:"last_active_model"`
	CursorPage      int    `json:"cursor_page"`
	NextMessageSeq  int64  `json:"next_message_seq"`
	NextPanelSeq    int64  `json:"next_panel_seq"`
	NextWatcherSeq  int64  `json:"next_watcher_seq"`
}

// Load reads config.json under root (Dir), falling back to Default if the
// file does not exist, then applies environment overrides.
func Load(root string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(root, Dir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to config.json under root, creating the directory if needed.
func Save(root string, cfg *Config) error {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), append(data, '\n'), 0644)
}

// LoadWorkerState reads worker.json, returning a zero-value state if absent.
func LoadWorkerState(root string) (*WorkerState, error) {
	path := filepath.Join(root, Dir, "worker.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &WorkerState{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var ws WorkerState
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &ws, nil
}

// SaveWorkerState writes worker.json under root.
func SaveWorkerState(root string, ws *WorkerState) error {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "worker.json"), append(data, '\n'), 0644)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTEXTPILOT_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("CONTEXTPILOT_MAX_COST_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxCostUSD = f
		}
	}
	if v := os.Getenv("CONTEXTPILOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONTEXTPILOT_CONSOLE_SOCKET"); v != "" {
		cfg.ConsoleSocketPath = v
	}
}
