package hotkey

import "fmt"

// Action is the payload of every dispatched shortcut event.
type Action int

const (
	ActionStart Action = iota
	ActionStop
	ActionToggle
)

// Actions lists every action in declaration order.
var Actions = []Action{ActionStart, ActionStop, ActionToggle}

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionToggle:
		return "toggle"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ShortcutID is the identifier used for this action by the portal and the
// global accelerator service.
func (a Action) ShortcutID() string {
	switch a {
	case ActionStart:
		return "start_recording"
	case ActionStop:
		return "stop_recording"
	case ActionToggle:
		return "toggle_recording"
	default:
		return ""
	}
}

// Label is the human readable name shown in desktop shortcut settings.
func (a Action) Label() string {
	switch a {
	case ActionStart:
		return "Start Recording"
	case ActionStop:
		return "Stop Recording"
	case ActionToggle:
		return "Toggle Recording"
	default:
		return ""
	}
}

// Method is the Command Service method that raises this action.
func (a Action) Method() string {
	switch a {
	case ActionStart:
		return "StartRecording"
	case ActionStop:
		return "StopRecording"
	case ActionToggle:
		return "ToggleRecording"
	default:
		return ""
	}
}

// ActionFromShortcutID maps a shortcut identifier back to its action.
// Unknown identifiers report false.
func ActionFromShortcutID(id string) (Action, bool) {
	for _, a := range Actions {
		if a.ShortcutID() == id {
			return a, true
		}
	}
	return 0, false
}

// ParseAction accepts the short action names used on the command line
// ("start", "stop", "toggle") as well as shortcut identifiers.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if s == a.String() || s == a.ShortcutID() {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q (valid: start, stop, toggle)", s)
}
