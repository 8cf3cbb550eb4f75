//go:build windows

package service

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

const (
	runKeyPath   = `Software\Microsoft\Windows\CurrentVersion\Run`
	runValueName = "SignAgent"
)

type windowsService struct{}

// New creates a new platform-specific service manager
func New() Service {
	return &windowsService{}
}

func (s *windowsService) command() (string, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return "", err
	}
	defer key.Close()
	v, _, err := key.GetStringValue(runValueName)
	return v, err
}

func (s *windowsService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executable()
	if err != nil {
		return err
	}

	key, _, err := registry.CreateKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open Run key: %w", err)
	}
	defer key.Close()

	if err := key.SetStringValue(runValueName, fmt.Sprintf("%q run", execPath)); err != nil {
		return fmt.Errorf("failed to write Run value: %w", err)
	}
	return nil
}

func (s *windowsService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open Run key: %w", err)
	}
	defer key.Close()

	if err := key.DeleteValue(runValueName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("failed to remove Run value: %w", err)
	}
	return nil
}

func (s *windowsService) IsInstalled() bool {
	_, err := s.command()
	return err == nil
}

func (s *windowsService) Status() (string, error) {
	cmd, err := s.command()
	if err != nil {
		return "not installed", nil
	}
	return "installed (" + cmd + ")", nil
}
