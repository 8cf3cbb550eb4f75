//go:build !linux

package tray

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/getlantern/systray"

	"github.com/SimplyPrint/sign-agent/internal/api"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/operation"
	"github.com/SimplyPrint/sign-agent/internal/service"
	"github.com/SimplyPrint/sign-agent/internal/settings"
)

const label = "tray"

// App manages the system tray icon and menu. Menu clicks submit invocations
// to the runner; completed invocations come back through Deliver.
type App struct {
	serverAddr string
	runner     *operation.Runner
	autostart  service.Service
	onQuit     func()
	mu         sync.Mutex
	cards      []core.DetectedCard // last listing

	// Menu items for updating
	mStatus *systray.MenuItem
	mCards  *systray.MenuItem
	mLast   *systray.MenuItem
}

// New creates a tray app. autostart may be nil.
func New(serverAddr string, runner *operation.Runner, autostart service.Service, onQuit func()) *App {
	return &App{
		serverAddr: serverAddr,
		runner:     runner,
		autostart:  autostart,
		onQuit:     onQuit,
	}
}

// Run runs the tray on the main thread and calls start in a goroutine once
// the menu exists. It blocks until the tray quits, which macOS requires of
// the main goroutine.
func (a *App) Run(start func()) {
	systray.Run(func() {
		a.onReady()
		if start != nil {
			go start()
		}
	}, a.onExit)
}

// Quit closes the tray, making Run return.
func (a *App) Quit() { systray.Quit() }

func (a *App) onReady() {
	systray.SetIcon(iconData)
	systray.SetTitle("") // Empty title for cleaner menu bar (macOS)
	systray.SetTooltip("Sign Agent")

	mVersion := systray.AddMenuItem("Sign Agent "+api.DisplayVersion(), "")
	mVersion.Disable()

	systray.AddSeparator()

	a.mu.Lock()
	a.mStatus = systray.AddMenuItem("Status: Running", "Server status")
	a.mStatus.Disable()
	a.mCards = systray.AddMenuItem("Cards: Checking...", "Detected signing tokens")
	a.mCards.Disable()
	a.mLast = systray.AddMenuItem("Last: none", "Most recent operation")
	a.mLast.Disable()
	a.mu.Unlock()

	systray.AddSeparator()

	mList := systray.AddMenuItem("Refresh cards", "Detect inserted cards")
	mCert := systray.AddMenuItem("Read certificate", "Read the certificate of the first card")
	mSync := systray.AddMenuItem("Sync devices", "Report detected cards to the platform")
	if !settings.IsSyncDevicesEnabled() {
		mSync.Disable()
	}

	systray.AddSeparator()

	mLogs := systray.AddMenuItem("Open logs", "Show recent log entries in the browser")
	var mAutostart *systray.MenuItem
	var autostartClicked chan struct{} // nil never fires
	if a.autostart != nil {
		mAutostart = systray.AddMenuItemCheckbox("Start at login", "Launch Sign Agent when you log in", a.autostart.IsInstalled())
		autostartClicked = mAutostart.ClickedCh
	}

	systray.AddSeparator()

	mQuit := systray.AddMenuItem("Quit", "Exit Sign Agent")

	a.submit(operation.NewInvocation(operation.KindListCards, label))

	go func() {
		defer logging.RecoverAndLog("tray menu", false)
		for {
			select {
			case <-mList.ClickedCh:
				a.submit(operation.NewInvocation(operation.KindListCards, label))
			case <-mCert.ClickedCh:
				a.readCertificate()
			case <-mSync.ClickedCh:
				a.submit(operation.NewInvocation(operation.KindSyncDevices, label))
			case <-mLogs.ClickedCh:
				openBrowser(fmt.Sprintf("http://%s/v1/logs", a.serverAddr))
			case <-autostartClicked:
				a.toggleAutostart(mAutostart)
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (a *App) onExit() {
	if a.onQuit != nil {
		a.onQuit()
	}
}

func (a *App) submit(inv operation.Invocation) {
	if _, err := a.runner.Submit(inv); err != nil {
		logging.Warn(logging.CatSystem, "Tray action rejected", map[string]any{
			"kind":  inv.Kind,
			"error": err.Error(),
		})
		a.setTitle(&a.mStatus, "Status: Shutting down")
	}
}

// readCertificate reads the first listed card, or lists cards when none is known yet.
func (a *App) readCertificate() {
	a.mu.Lock()
	index, ok := certificateTarget(a.cards)
	a.mu.Unlock()
	if !ok {
		a.submit(operation.NewInvocation(operation.KindListCards, label))
		return
	}
	a.submit(operation.NewInvocation(operation.KindGetCertificate, label, index))
}

func (a *App) toggleAutostart(item *systray.MenuItem) {
	var err error
	if item.Checked() {
		err = a.autostart.Uninstall()
	} else {
		err = a.autostart.Install()
	}
	if err != nil && !errors.Is(err, service.ErrAlreadyInstalled) && !errors.Is(err, service.ErrNotInstalled) {
		logging.Error(logging.CatSystem, "Failed to toggle auto-start", map[string]any{
			"error": err.Error(),
		})
	}
	if a.autostart.IsInstalled() {
		item.Check()
	} else {
		item.Uncheck()
	}
}

// Deliver shows a completed invocation in the menu.
func (a *App) Deliver(ev operation.Event) {
	if cards, ok := ev.Result.Payload.([]core.DetectedCard); ok {
		a.setCards(cards)
	} else if ev.Invocation.Kind == operation.KindListCards && ev.Result.Status == operation.StatusNoCardPresent {
		a.setCards(nil)
	}
	a.setTitle(&a.mLast, "Last: "+summarize(ev))
}

func (a *App) setCards(cards []core.DetectedCard) {
	a.mu.Lock()
	a.cards = cards
	a.mu.Unlock()
	a.setTitle(&a.mCards, readerStatus(len(cards)))
}

// setTitle is a no-op until onReady has built the menu.
func (a *App) setTitle(item **systray.MenuItem, title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if *item != nil {
		(*item).SetTitle(title)
	}
}

func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	_ = cmd.Start()
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
