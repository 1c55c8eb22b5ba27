package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/zenity"
)

// ShortcutHelp is the content of the manual-binding help dialog.
type ShortcutHelp struct {
	AppName        string
	StartKey       string
	StopKey        string
	ToggleCommand  string
	StopCommand    string
	CLICommand     string
	ActiveBackends []string
}

// Text renders the help as plain text.
func (h ShortcutHelp) Text() string {
	var b strings.Builder
	if len(h.ActiveBackends) > 0 {
		fmt.Fprintf(&b, "Global shortcuts are registered via %s.\n\n", strings.Join(h.ActiveBackends, " and "))
	} else {
		b.WriteString("No global shortcut could be registered automatically.\n\n")
	}
	fmt.Fprintf(&b, "To bind a key yourself, add a custom shortcut in your desktop's keyboard settings.\n\n")
	fmt.Fprintf(&b, "Toggle recording (%s):\n%s\n\n", h.StartKey, h.ToggleCommand)
	fmt.Fprintf(&b, "Stop recording (%s):\n%s\n\n", h.StopKey, h.StopCommand)
	fmt.Fprintf(&b, "Or use the command line:\n%s", h.CLICommand)
	return b.String()
}

// ShowShortcutHelp shows the help dialog. It reports true when the user
// asked for the toggle command to be copied.
func ShowShortcutHelp(h ShortcutHelp) (bool, error) {
	err := zenity.Question(h.Text(),
		zenity.Title(h.AppName+" - Keyboard Shortcuts"),
		zenity.InfoIcon,
		zenity.OKLabel("Copy Command"),
		zenity.CancelLabel("Close"),
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("shortcut help dialog: %w", err)
	}
	return true, nil
}

// ShowError displays a modal error dialog.
func ShowError(appName, message string) error {
	return zenity.Error(message, zenity.Title(appName), zenity.ErrorIcon)
}
