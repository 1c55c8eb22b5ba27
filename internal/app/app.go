package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/TanaroSch/telly-spelly/internal/clipboard"
	"github.com/TanaroSch/telly-spelly/internal/config"
	"github.com/TanaroSch/telly-spelly/internal/hotkey"
	"github.com/TanaroSch/telly-spelly/internal/logging"
	"github.com/TanaroSch/telly-spelly/internal/resources"
	"github.com/TanaroSch/telly-spelly/internal/ui"
)

// AppName is shown in the tray and in notifications.
const AppName = "Telly Spelly"

type notifier interface {
	Show(level ui.NotificationLevel, title, message string)
}

type tray interface {
	Run()
	Quit()
	SetRecording(recording bool)
	SetBackendStatus(text string)
}

// Application represents the main application
type Application struct {
	config      *config.Config
	version     string
	environment hotkey.Environment
	log         *slog.Logger

	dispatcher       *hotkey.Dispatcher
	hotkeyManager    *hotkey.Manager
	recorder         *Recorder
	clipboardManager *clipboard.Manager
	notifications    notifier
	systrayManager   tray
	iconData         []byte

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ResolveEnvironment applies the configured desktop override, falling back
// to detection for "auto" or an empty value.
func ResolveEnvironment(cfg *config.Config) hotkey.Environment {
	env, ok, err := hotkey.ParseEnvironment(cfg.Desktop)
	if err != nil || !ok {
		return hotkey.Detect()
	}
	return env
}

// New creates a new application instance on bus.
func New(cfg *config.Config, version string, bus hotkey.Bus) *Application {
	app := &Application{
		config:           cfg,
		version:          version,
		environment:      ResolveEnvironment(cfg),
		log:              logging.For("app"),
		dispatcher:       hotkey.NewDispatcher(cfg.DedupeWindow()),
		recorder:         &Recorder{},
		clipboardManager: clipboard.NewManager(),
	}

	var err error
	app.iconData, err = resources.GetIcon()
	if err != nil {
		app.log.Warn("failed to load embedded icon", "err", err)
	}
	app.notifications = ui.NewNotificationManager(cfg.UseNotifications, AppName, app.iconData)

	app.hotkeyManager = hotkey.NewManager(bus, app.dispatcher, hotkey.Options{
		Environment:        app.environment,
		StartKey:           cfg.StartKey,
		StopKey:            cfg.StopKey,
		EnablePortal:       cfg.EnablePortal,
		EnableKGlobalAccel: cfg.EnableKGlobalAccel,
		X11Fallback:        cfg.X11GrabFallback,
		KGlobalAccel:       cfg.KGlobalAccelOptions(),
		Notify: func(title, message string) {
			app.notifications.Show(ui.LevelWarn, title, message)
		},
		OnBackendsChanged: app.onBackendsChanged,
	})
	app.dispatcher.Subscribe(app.onAction)

	app.systrayManager = ui.NewSystrayManager(AppName, version, app.iconData, ui.TrayCallbacks{
		OnStart:        func() { app.dispatcher.Emit(hotkey.SourceTray, hotkey.ActionStart) },
		OnStop:         func() { app.dispatcher.Emit(hotkey.SourceTray, hotkey.ActionStop) },
		OnToggle:       func() { app.dispatcher.Emit(hotkey.SourceTray, hotkey.ActionToggle) },
		OnShortcutHelp: app.onShortcutHelp,
		OnCopyCommand:  app.onCopyCommand,
		OnOpenConfig:   app.onOpenConfigFile,
		OnReady:        app.onTrayReady,
		OnQuit:         app.onQuit,
	})

	return app
}

// Run starts the dispatcher and the tray. It blocks until the tray exits.
func (a *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	go a.dispatcher.Run(ctx)
	a.log.Info("starting", "version", a.version, "desktop", string(a.environment))
	a.systrayManager.Run()
}

// Quit tears the shortcuts down and stops the tray, for signal handling.
func (a *Application) Quit() {
	a.onQuit()
	a.systrayManager.Quit()
}

// onTrayReady sets up shortcuts once the tray exists, so notifications
// about the outcome have somewhere to point.
func (a *Application) onTrayReady() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	if err := a.hotkeyManager.Setup(context.Background()); err != nil {
		a.log.Error("shortcut setup failed", "err", err)
		msg := "The session bus is not reachable, so shortcuts and remote triggering are disabled. Use the tray menu instead."
		if !errors.Is(err, hotkey.ErrBusUnavailable) {
			msg = err.Error()
		}
		a.notifications.Show(ui.LevelError, "Shortcuts Unavailable", msg)
	}
	a.onBackendsChanged(a.hotkeyManager.ActiveBackends())
}

// onAction consumes dispatched actions. Repeated deliveries that do not
// change the state are logged and otherwise ignored.
func (a *Application) onAction(ev hotkey.Event) {
	state, changed := a.recorder.Apply(ev.Action)
	if !changed {
		a.log.Debug("action left state unchanged", "action", ev.Action.String(), "source", string(ev.Source), "state", state.String())
		return
	}
	a.log.Info("recording state changed", "action", ev.Action.String(), "source", string(ev.Source), "state", state.String())
	a.systrayManager.SetRecording(state == StateRecording)
	if state == StateRecording {
		a.notifications.Show(ui.LevelInfo, "Recording", "Recording started.")
	} else {
		a.notifications.Show(ui.LevelInfo, "Recording", "Recording stopped.")
	}
}

func (a *Application) onBackendsChanged(active []hotkey.BackendKind) {
	a.systrayManager.SetBackendStatus(backendStatus(active))
}

func backendStatus(active []hotkey.BackendKind) string {
	if len(active) == 0 {
		return "Shortcuts: manual binding needed"
	}
	names := make([]string, len(active))
	for i, k := range active {
		names[i] = k.String()
	}
	return "Shortcuts: " + strings.Join(names, ", ")
}

func (a *Application) shortcutHelp() ui.ShortcutHelp {
	id := a.hotkeyManager.Identity()
	var active []string
	for _, k := range a.hotkeyManager.ActiveBackends() {
		active = append(active, k.String())
	}
	return ui.ShortcutHelp{
		AppName:        AppName,
		StartKey:       a.config.StartKey,
		StopKey:        a.config.StopKey,
		ToggleCommand:  id.InvocationCommand(hotkey.ActionToggle),
		StopCommand:    id.InvocationCommand(hotkey.ActionStop),
		CLICommand:     hotkey.CLITriggerCommand,
		ActiveBackends: active,
	}
}

func (a *Application) onShortcutHelp() {
	copyRequested, err := ui.ShowShortcutHelp(a.shortcutHelp())
	if err != nil {
		a.log.Warn("shortcut help dialog failed", "err", err)
		return
	}
	if copyRequested {
		a.onCopyCommand()
	}
}

func (a *Application) onCopyCommand() {
	if !clipboard.Available() {
		a.notifications.Show(ui.LevelWarn, "Clipboard Unavailable",
			"Install xclip, xsel or wl-clipboard, or copy this command by hand:\n"+a.hotkeyManager.ManualCommand())
		return
	}
	if err := a.clipboardManager.CopyTriggerCommand(a.hotkeyManager.ManualCommand()); err != nil {
		a.log.Warn("copy trigger command", "err", err)
		a.notifications.Show(ui.LevelError, "Copy Failed", err.Error())
		return
	}
	a.notifications.Show(ui.LevelInfo, "Command Copied", "Paste it into your desktop's custom shortcut settings.")
}

// onOpenConfigFile opens the configuration file with the default editor.
func (a *Application) onOpenConfigFile() {
	path := a.config.GetConfigPath()
	if err := ui.OpenFileInDefaultApp(path); err != nil {
		a.log.Error("failed to open config file", "path", path, "err", err)
		a.notifications.Show(ui.LevelError, "Open Config Failed", fmt.Sprintf("Could not open %s: %v", path, err))
	}
}

// onQuit tears the shortcuts down before the tray exits.
func (a *Application) onQuit() {
	if err := a.hotkeyManager.Teardown(); err != nil {
		a.log.Warn("shortcut teardown", "err", err)
	}
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.log.Info("exiting")
}
