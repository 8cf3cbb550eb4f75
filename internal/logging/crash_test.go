package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func useTempCrashDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	SetCrashLogDir(dir)
	t.Cleanup(func() { SetCrashLogDir("") })
	return dir
}

func TestCrashLogDir(t *testing.T) {
	if dir := CrashLogDir(); dir == "" {
		t.Error("CrashLogDir returned empty string")
	}

	dir := useTempCrashDir(t)
	if got := CrashLogDir(); got != dir {
		t.Errorf("CrashLogDir() = %q, want override %q", got, dir)
	}
}

func TestWriteAndReadCrashLog(t *testing.T) {
	dir := useTempCrashDir(t)

	path, err := WriteCrashLog("test panic value", []byte("test stack trace"))
	if err != nil {
		t.Fatalf("WriteCrashLog() error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("crash log written to %q, want dir %q", path, dir)
	}

	content, err := ReadCrashLog(filepath.Base(path))
	if err != nil {
		t.Fatalf("ReadCrashLog() error: %v", err)
	}
	for _, want := range []string{"Sign Agent Crash Report", "test panic value", "test stack trace"} {
		if !strings.Contains(content, want) {
			t.Errorf("crash log missing %q", want)
		}
	}

	logs, err := GetCrashLogs(10)
	if err != nil {
		t.Fatalf("GetCrashLogs() error: %v", err)
	}
	if len(logs) != 1 || logs[0].Name != filepath.Base(path) {
		t.Errorf("GetCrashLogs() = %+v", logs)
	}
}

func TestReadCrashLog_RejectsPaths(t *testing.T) {
	useTempCrashDir(t)

	for _, name := range []string{"../secret.log", "/etc/passwd", "settings.json"} {
		if _, err := ReadCrashLog(name); err == nil {
			t.Errorf("ReadCrashLog(%q) should fail", name)
		}
	}
}

func TestGetCrashLogs_MissingDir(t *testing.T) {
	SetCrashLogDir(filepath.Join(t.TempDir(), "does-not-exist"))
	t.Cleanup(func() { SetCrashLogDir("") })

	logs, err := GetCrashLogs(5)
	if err != nil {
		t.Fatalf("GetCrashLogs() error: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no logs, got %d", len(logs))
	}
}

func TestCleanupOldCrashLogs(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()

	// Create more than MaxCrashLogs files
	numFiles := MaxCrashLogs + 5
	for i := 0; i < numFiles; i++ {
		timestamp := now.Add(time.Duration(-numFiles+i) * time.Hour).Format("2006-01-02_15-04-05")
		path := filepath.Join(tmpDir, "crash_"+timestamp+".log")
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	// A non-crash file must be left alone
	nonCrashFile := filepath.Join(tmpDir, "other.log")
	if err := os.WriteFile(nonCrashFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create non-crash file: %v", err)
	}

	cleanupCrashLogs(tmpDir, now)

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}

	crashLogCount := 0
	hasNonCrashFile := false
	for _, entry := range entries {
		if entry.Name() == "other.log" {
			hasNonCrashFile = true
		} else if isCrashLog(entry.Name()) {
			crashLogCount++
		}
	}

	if crashLogCount != MaxCrashLogs {
		t.Errorf("Expected %d crash logs, got %d", MaxCrashLogs, crashLogCount)
	}
	if !hasNonCrashFile {
		t.Error("Non-crash file was incorrectly deleted")
	}
}

func TestCleanupOldCrashLogsByAge(t *testing.T) {
	tmpDir := t.TempDir()

	oldFile := filepath.Join(tmpDir, "crash_2020-01-01_00-00-00.log")
	if err := os.WriteFile(oldFile, []byte("old"), 0644); err != nil {
		t.Fatalf("Failed to create old file: %v", err)
	}
	oldTime := time.Now().Add(-60 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, oldTime, oldTime); err != nil {
		t.Fatalf("Failed to set mod time: %v", err)
	}

	recentFile := filepath.Join(tmpDir, "crash_2099-01-01_00-00-00.log")
	if err := os.WriteFile(recentFile, []byte("recent"), 0644); err != nil {
		t.Fatalf("Failed to create recent file: %v", err)
	}

	cleanupCrashLogs(tmpDir, time.Now())

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("Old crash log was not deleted")
	}
	if _, err := os.Stat(recentFile); os.IsNotExist(err) {
		t.Error("Recent crash log was incorrectly deleted")
	}
}

func TestRecoverAndLogFunc(t *testing.T) {
	useTempCrashDir(t)

	var gotValue any
	var gotFile string
	func() {
		defer RecoverAndLogFunc("test", false, func(v any, f string) {
			gotValue, gotFile = v, f
		})
		panic("kaboom")
	}()

	if gotValue != "kaboom" {
		t.Errorf("onPanic value = %v", gotValue)
	}
	if gotFile == "" {
		t.Error("onPanic should receive the crash file path")
	}
}
