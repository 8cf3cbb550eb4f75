//go:build darwin

package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"text/template"
)

const launchAgentLabel = "com.simplyprint." + appName

// Interactive keeps the agent in the Aqua session where the menu bar item and
// the CryptoTokenKit daemon are reachable. KeepAlive restarts it after a
// crash but not after Quit.
var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
    </array>
    <key>ProcessType</key>
    <string>Interactive</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/` + appName + `.log</string>
</dict>
</plist>
`))

// launchctl print reports "pid = 1234" for a running job.
var pidPattern = regexp.MustCompile(`(?m)^\s*pid = (\d+)`)

type darwinService struct {
	home string
}

// New creates a new platform-specific service manager
func New() Service {
	home, _ := os.UserHomeDir()
	return &darwinService{home: home}
}

func (s *darwinService) plistPath() string {
	return filepath.Join(s.home, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func (s *darwinService) logDir() string {
	return filepath.Join(s.home, "Library", "Logs", displayName)
}

// guiTarget is the job in the logged-in user's GUI launchd domain.
func guiTarget() string {
	return "gui/" + strconv.Itoa(os.Getuid()) + "/" + launchAgentLabel
}

func renderPlist(execPath, logDir string) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, struct {
		Label          string
		ExecutablePath string
		LogDir         string
	}{launchAgentLabel, execPath, logDir})
	return buf.Bytes(), err
}

func (s *darwinService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}
	execPath, err := executable()
	if err != nil {
		return err
	}
	for _, dir := range []string{filepath.Dir(s.plistPath()), s.logDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	plist, err := renderPlist(execPath, s.logDir())
	if err != nil {
		return fmt.Errorf("failed to render launch agent: %w", err)
	}
	if err := os.WriteFile(s.plistPath(), plist, 0644); err != nil {
		return fmt.Errorf("failed to write launch agent: %w", err)
	}

	domain := filepath.Dir(guiTarget())
	if out, err := exec.Command("launchctl", "bootstrap", domain, s.plistPath()).CombinedOutput(); err != nil {
		os.Remove(s.plistPath())
		return fmt.Errorf("failed to bootstrap launch agent: %s: %w", bytes.TrimSpace(out), err)
	}
	return nil
}

func (s *darwinService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}
	// fails when the job is not loaded, which is fine
	_ = exec.Command("launchctl", "bootout", guiTarget()).Run()

	if err := os.Remove(s.plistPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove launch agent: %w", err)
	}
	return nil
}

func (s *darwinService) IsInstalled() bool {
	_, err := os.Stat(s.plistPath())
	return err == nil
}

func (s *darwinService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	out, err := exec.Command("launchctl", "print", guiTarget()).CombinedOutput()
	if err != nil {
		return "installed but not loaded", nil
	}
	if pid := pidPattern.FindSubmatch(out); pid != nil {
		return "running (pid " + string(pid[1]) + ")", nil
	}
	return "installed but not running", nil
}
