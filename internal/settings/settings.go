package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting bool `json:"crashReporting"` // send crash reports to Sentry
	SyncDevices    bool `json:"syncDevices"`    // push detected cards to the platform
}

var (
	current  *Settings
	mu       sync.RWMutex
	pathOver string
)

// DefaultSettings returns the default settings.
func DefaultSettings() *Settings {
	return &Settings{
		CrashReporting: false, // opt-in
		SyncDevices:    true,
	}
}

// SetPath overrides the settings file location. An empty path restores the default.
func SetPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	pathOver = path
	current = nil
}

func getSettingsPath() (string, error) {
	if pathOver != "" {
		return pathOver, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "sign-agent", "settings.json"), nil
}

// Load reads settings from disk, or returns defaults if the file doesn't exist.
// Fields missing from the file keep their defaults.
func Load() (Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	current = DefaultSettings()

	path, err := getSettingsPath()
	if err != nil {
		return *current, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return *current, nil
		}
		return *current, err
	}

	s := DefaultSettings()
	if err := json.Unmarshal(data, s); err != nil {
		return *current, err
	}

	current = s
	return *current, nil
}

// Save writes the current settings to disk.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if current == nil {
		current = DefaultSettings()
	}

	path, err := getSettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Get returns a copy of the current settings, loading them on first use.
func Get() Settings {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return *current
	}
	mu.RUnlock()

	s, _ := Load()
	return s
}

// Update applies fn to the current settings and saves them.
func Update(fn func(*Settings)) error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = DefaultSettings()
	}
	fn(current)
	return saveLocked()
}

// SetCrashReporting updates the crash reporting preference and saves.
func SetCrashReporting(enabled bool) error {
	return Update(func(s *Settings) { s.CrashReporting = enabled })
}

// SetSyncDevices updates the device sync preference and saves.
func SetSyncDevices(enabled bool) error {
	return Update(func(s *Settings) { s.SyncDevices = enabled })
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func IsCrashReportingEnabled() bool {
	return Get().CrashReporting
}

// IsSyncDevicesEnabled returns whether detected cards are pushed to the platform.
func IsSyncDevicesEnabled() bool {
	return Get().SyncDevices
}
