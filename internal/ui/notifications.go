package ui

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"
)

// NotificationLevel selects how prominently a notification is shown.
type NotificationLevel int

const (
	LevelInfo NotificationLevel = iota
	LevelWarn
	LevelError
)

func (l NotificationLevel) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// NotificationManager shows desktop notifications through beeep.
type NotificationManager struct {
	useNotifications bool
	appName          string
	embeddedIcon     []byte

	iconOnce sync.Once
	iconPath string

	// notify and alert are beeep.Notify and beeep.Alert; replaced in tests.
	notify func(title, message, icon string) error
	alert  func(title, message, icon string) error
}

// NewNotificationManager creates a new notification manager
func NewNotificationManager(useNotifications bool, appName string, embeddedIcon []byte) *NotificationManager {
	return &NotificationManager{
		useNotifications: useNotifications,
		appName:          appName,
		embeddedIcon:     embeddedIcon,
		notify:           beeep.Notify,
		alert:            beeep.Alert,
	}
}

// icon writes the embedded icon to the user cache once and returns its
// path, or "" when that fails.
func (n *NotificationManager) icon() string {
	n.iconOnce.Do(func() {
		if len(n.embeddedIcon) == 0 {
			return
		}
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		path := filepath.Join(dir, "telly-spelly", "icon.png")
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			slog.Debug("notification icon unavailable", "component", "ui", "err", err)
			return
		}
		if err := os.WriteFile(path, n.embeddedIcon, 0o600); err != nil {
			slog.Debug("notification icon unavailable", "component", "ui", "err", err)
			return
		}
		n.iconPath = path
	})
	return n.iconPath
}

// Show displays a notification. Warnings and errors are shown even when
// notifications are disabled, since they need the user's attention.
func (n *NotificationManager) Show(level NotificationLevel, title, message string) {
	if !n.useNotifications && level == LevelInfo {
		slog.Debug("notification suppressed", "component", "ui", "title", title)
		return
	}
	send := n.notify
	if level != LevelInfo {
		send = n.alert
	}
	if err := send(title, message, n.icon()); err != nil {
		slog.Warn("showing notification failed", "component", "ui", "level", level.String(), "err", err)
	}
}
