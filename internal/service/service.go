// Package service installs the agent as a per-user login item.
package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	appName     = "sign-agent"
	displayName = "Sign Agent"
)

var (
	ErrAlreadyInstalled = errors.New("auto-start is already installed")
	ErrNotInstalled     = errors.New("auto-start is not installed")
)

// Service manages login autostart for the current user.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}

// executable returns the resolved path of the running binary.
var executable = func() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return execPath, nil
}
