// Package clipboard copies the manual trigger command for pasting into a
// desktop's shortcut settings.
package clipboard

import (
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"
)

// Manager wraps the system clipboard.
type Manager struct {
	write func(string) error
	read  func() (string, error)
}

// NewManager creates a manager backed by the system clipboard.
func NewManager() *Manager {
	return &Manager{write: clipboard.WriteAll, read: clipboard.ReadAll}
}

// Available reports whether a clipboard helper (xclip, xsel or wl-copy)
// was found.
func Available() bool {
	return !clipboard.Unsupported
}

// CopyTriggerCommand places command on the clipboard and checks that it
// reads back unchanged.
func (m *Manager) CopyTriggerCommand(command string) error {
	if err := m.write(command); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	got, err := m.read()
	if err != nil {
		slog.Debug("clipboard read-back failed", "component", "clipboard", "err", err)
		return nil
	}
	if got != command {
		return fmt.Errorf("clipboard holds %q after copy, another application may own it", got)
	}
	slog.Info("trigger command copied to clipboard", "component", "clipboard")
	return nil
}
