package core

import (
	"runtime"
)

// Platform is the closed set of platform tags sent to the signing platform.
type Platform string

const (
	PlatformWindows Platform = "WINDOWS"
	PlatformMacOSX  Platform = "MACOSX"
	PlatformLinux   Platform = "LINUX"
	PlatformUnknown Platform = "UNKNOWN"
)

// PlatformFor maps a GOOS value to a platform tag.
func PlatformFor(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOSX
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// CurrentPlatform returns the tag of the running OS.
func CurrentPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

// EnvironmentInfo is a snapshot of the runtime a ConnectionInfo was recorded on.
// It is a comparable value.
type EnvironmentInfo struct {
	OS           string   `json:"os"`
	Arch         string   `json:"arch"`
	Platform     Platform `json:"platform"`
	GoVersion    string   `json:"goVersion"`
	AgentVersion string   `json:"agentVersion"`
}

// CurrentEnvironment captures the running process's environment.
func CurrentEnvironment(agentVersion string) EnvironmentInfo {
	return EnvironmentInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		Platform:     CurrentPlatform(),
		GoVersion:    runtime.Version(),
		AgentVersion: agentVersion,
	}
}
