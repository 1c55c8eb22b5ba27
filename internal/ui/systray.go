package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
)

// TrayCallbacks are invoked from the tray's menu goroutines.
type TrayCallbacks struct {
	OnStart        func()
	OnStop         func()
	OnToggle       func()
	OnShortcutHelp func()
	OnCopyCommand  func()
	OnOpenConfig   func()
	OnReady        func()
	OnQuit         func()
}

// SystrayManager handles the system tray icon and menu
type SystrayManager struct {
	appName      string
	version      string
	embeddedIcon []byte
	callbacks    TrayCallbacks

	mu          sync.Mutex
	ready       bool
	recording   bool
	status      string
	miStatus    *systray.MenuItem
	miBackends  *systray.MenuItem
	miStart     *systray.MenuItem
	miStop      *systray.MenuItem
	backendText string
}

// NewSystrayManager creates a new system tray manager
func NewSystrayManager(appName, version string, embeddedIcon []byte, callbacks TrayCallbacks) *SystrayManager {
	return &SystrayManager{
		appName:      appName,
		version:      version,
		embeddedIcon: embeddedIcon,
		callbacks:    callbacks,
		status:       "Idle",
		backendText:  "Shortcuts: starting...",
	}
}

// Run starts the tray and blocks until Quit.
func (s *SystrayManager) Run() {
	systray.Run(s.onReady, s.onExit)
}

// Quit stops the tray loop.
func (s *SystrayManager) Quit() {
	systray.Quit()
}

// SetRecording updates the status line and enables the matching items.
func (s *SystrayManager) SetRecording(recording bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = recording
	s.status = "Idle"
	if recording {
		s.status = "Recording"
	}
	s.refreshLocked()
}

// SetBackendStatus sets the line describing how shortcuts are bound.
func (s *SystrayManager) SetBackendStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backendText = text
	s.refreshLocked()
}

func (s *SystrayManager) refreshLocked() {
	if !s.ready {
		return
	}
	systray.SetTooltip(fmt.Sprintf("%s - %s", s.appName, s.status))
	s.miStatus.SetTitle("Status: " + s.status)
	s.miBackends.SetTitle(s.backendText)
	if s.recording {
		s.miStart.Disable()
		s.miStop.Enable()
	} else {
		s.miStart.Enable()
		s.miStop.Disable()
	}
}

// onReady is called by systray once the tray is ready.
func (s *SystrayManager) onReady() {
	title := fmt.Sprintf("%s %s", s.appName, s.version)
	systray.SetTitle(s.appName)
	systray.SetTooltip(title)
	if len(s.embeddedIcon) > 0 {
		systray.SetIcon(s.embeddedIcon)
	} else {
		slog.Warn("no embedded icon data to set for systray", "component", "ui")
	}

	miVersion := systray.AddMenuItem(fmt.Sprintf("Version: %s", s.version), title)
	miVersion.Disable()

	s.mu.Lock()
	s.miStatus = systray.AddMenuItem("Status: "+s.status, "Recording state")
	s.miStatus.Disable()
	s.miBackends = systray.AddMenuItem(s.backendText, "How global shortcuts are registered")
	s.miBackends.Disable()
	systray.AddSeparator()
	s.miStart = systray.AddMenuItem("Start Recording", "Start recording")
	s.miStop = systray.AddMenuItem("Stop Recording", "Stop recording")
	s.mu.Unlock()
	miToggle := systray.AddMenuItem("Toggle Recording", "Start or stop recording")
	systray.AddSeparator()
	miHelp := systray.AddMenuItem("Keyboard Shortcuts...", "How to bind a global shortcut")
	miCopy := systray.AddMenuItem("Copy Trigger Command", "Copy the toggle command to the clipboard")
	miOpenConfig := systray.AddMenuItem("Open Config File", "Open the configuration in the default editor")
	systray.AddSeparator()
	miQuit := systray.AddMenuItem("Quit", "Exit the application")

	s.mu.Lock()
	s.ready = true
	s.refreshLocked()
	s.mu.Unlock()

	s.handle(s.miStart, "Start Recording", s.callbacks.OnStart)
	s.handle(s.miStop, "Stop Recording", s.callbacks.OnStop)
	s.handle(miToggle, "Toggle Recording", s.callbacks.OnToggle)
	s.handle(miHelp, "Keyboard Shortcuts", s.callbacks.OnShortcutHelp)
	s.handle(miCopy, "Copy Trigger Command", s.callbacks.OnCopyCommand)
	s.handle(miOpenConfig, "Open Config File", s.callbacks.OnOpenConfig)

	go func() {
		<-miQuit.ClickedCh
		slog.Info("quit menu item clicked", "component", "ui")
		if s.callbacks.OnQuit != nil {
			s.callbacks.OnQuit()
		}
		systray.Quit()
	}()

	if s.callbacks.OnReady != nil {
		go s.callbacks.OnReady()
	}
}

// handle runs fn for every click on item.
func (s *SystrayManager) handle(item *systray.MenuItem, name string, fn func()) {
	if fn == nil {
		item.Disable()
		return
	}
	go func() {
		for range item.ClickedCh {
			slog.Debug("menu item clicked", "component", "ui", "item", name)
			fn()
		}
	}()
}

func (s *SystrayManager) onExit() {
	slog.Info("system tray exited", "component", "ui")
}
