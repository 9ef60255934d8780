package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Overlay holds the user's persistent preferences. Set fields take
// precedence over the environment.
type Overlay struct {
	DefaultModel string            `json:"default_model,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"` // token budget per session
	APIKeys      map[string]string `json:"api_keys,omitempty"`   // provider name -> key
}

// Manager handles loading and saving the overlay file.
type Manager struct {
	configDir string
}

// NewManager creates a manager rooted in the user's config directory.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "finchat")), nil
}

// NewManagerAt creates a manager that keeps config.json in dir.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the overlay from disk.
// If the file does not exist, it returns an empty Overlay and no error.
func (m *Manager) Load() (*Overlay, error) {
	data, err := os.ReadFile(m.GetConfigPath())
	if os.IsNotExist(err) {
		return &Overlay{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var o Overlay
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}
	return &o, nil
}

// Save writes the overlay with owner-only permissions, since it may hold
// API keys.
func (m *Manager) Save(o *Overlay) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the overlay file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
