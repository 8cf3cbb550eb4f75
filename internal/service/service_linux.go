//go:build linux

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

// XDG autostart entry, started with the graphical session so card access
// happens from an active session.
const desktopTemplate = `[Desktop Entry]
Type=Application
Name={{.Name}}
Comment=Local signing agent for smart cards and software keystores
Exec={{.ExecutablePath}}
Icon=sign-agent
Terminal=false
Categories=Utility;Security;
StartupNotify=false
X-GNOME-Autostart-enabled=true
`

type linuxService struct{}

// New creates a new platform-specific service manager
func New() Service {
	return &linuxService{}
}

func (s *linuxService) autostartPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "autostart", appName+".desktop")
}

func (s *linuxService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executable()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.autostartPath()), 0755); err != nil {
		return fmt.Errorf("failed to create autostart directory: %w", err)
	}

	tmpl, err := template.New("desktop").Parse(desktopTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse desktop template: %w", err)
	}

	f, err := os.Create(s.autostartPath())
	if err != nil {
		return fmt.Errorf("failed to create autostart file: %w", err)
	}
	defer f.Close()

	data := struct {
		Name           string
		ExecutablePath string
	}{displayName, execPath}
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write autostart file: %w", err)
	}
	return nil
}

func (s *linuxService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}
	if err := os.Remove(s.autostartPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove autostart file: %w", err)
	}
	return nil
}

func (s *linuxService) IsInstalled() bool {
	_, err := os.Stat(s.autostartPath())
	return err == nil
}

func (s *linuxService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	if err := exec.Command("pgrep", "-x", appName).Run(); err == nil {
		return "running (autostart)", nil
	}
	return "installed (autostart) but not running", nil
}
