package hotkey

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	appBusSuffix  = "telly_spelly"
	appObjectPath = dbus.ObjectPath("/TellySpelly")

	kdeNamespace         = "org.kde"
	freedesktopNamespace = "org.freedesktop"
)

// Identity names the Command Service on the session bus.
type Identity struct {
	BusName    string
	ObjectPath dbus.ObjectPath
	Interface  string
}

// Resolve maps a desktop classification to the Command Service identity.
// kde gets the org.kde namespace, everything else org.freedesktop.
func Resolve(env Environment) Identity {
	ns := freedesktopNamespace
	if env == EnvKDE {
		ns = kdeNamespace
	}
	name := ns + "." + appBusSuffix
	return Identity{
		BusName:    name,
		ObjectPath: appObjectPath,
		Interface:  name,
	}
}

// Valid reports whether every field is set and well formed.
func (id Identity) Valid() bool {
	return id.BusName != "" && id.Interface != "" && id.ObjectPath.IsValid()
}

// Method returns the fully qualified member name for an action.
func (id Identity) Method(a Action) string {
	return id.Interface + "." + a.Method()
}

// InvocationCommand is the shell command a user can bind in a desktop
// shortcut panel to raise the action without any backend.
func (id Identity) InvocationCommand(a Action) string {
	return fmt.Sprintf("dbus-send --session --type=method_call --dest=%s %s %s",
		id.BusName, id.ObjectPath, id.Method(a))
}
