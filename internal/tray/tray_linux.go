//go:build linux

package tray

import (
	"github.com/SimplyPrint/sign-agent/internal/operation"
	"github.com/SimplyPrint/sign-agent/internal/service"
)

// App is inert on Linux, where the agent runs headless.
type App struct{}

func New(string, *operation.Runner, service.Service, func()) *App { return &App{} }

// Run calls start and returns.
func (a *App) Run(start func()) {
	if start != nil {
		start()
	}
}

func (a *App) Quit() {}

func (a *App) Deliver(operation.Event) {}

// IsSupported returns false: Linux runs as a headless service.
func IsSupported() bool {
	return false
}
