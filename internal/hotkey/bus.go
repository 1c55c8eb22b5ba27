package hotkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Bus is the subset of a session bus connection used by the shortcut
// integration. ConnBus adapts a *dbus.Conn; tests supply a fake.
type Bus interface {
	// UniqueName is the connection's unique name (":1.42").
	UniqueName() string

	// Call invokes method on dest/path and stores the reply body into ret.
	// With no ret values the reply body is ignored.
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args []interface{}, ret ...interface{}) error

	// RequestName claims a well-known name without queueing.
	RequestName(name string) error
	ReleaseName(name string) error

	// Export publishes v under path/iface. A nil v removes the export.
	Export(v interface{}, path dbus.ObjectPath, iface string) error

	AddMatch(options ...dbus.MatchOption) error
	RemoveMatch(options ...dbus.MatchOption) error

	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// ConnBus adapts a godbus connection to Bus.
type ConnBus struct {
	conn *dbus.Conn
}

// NewConnBus wraps conn.
func NewConnBus(conn *dbus.Conn) *ConnBus {
	return &ConnBus{conn: conn}
}

// ConnectSessionBus opens a private session bus connection.
func ConnectSessionBus() (*ConnBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return NewConnBus(conn), nil
}

// Close closes the underlying connection.
func (b *ConnBus) Close() error { return b.conn.Close() }

func (b *ConnBus) UniqueName() string {
	for _, name := range b.conn.Names() {
		if strings.HasPrefix(name, ":") {
			return name
		}
	}
	return ""
}

func (b *ConnBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args []interface{}, ret ...interface{}) error {
	call := b.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return call.Err
	}
	if len(ret) == 0 {
		return nil
	}
	return call.Store(ret...)
}

func (b *ConnBus) RequestName(name string) error {
	reply, err := b.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name %q: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("not primary owner of %q (reply=%d); name already taken", name, reply)
	}
	return nil
}

func (b *ConnBus) ReleaseName(name string) error {
	if _, err := b.conn.ReleaseName(name); err != nil {
		return fmt.Errorf("release bus name %q: %w", name, err)
	}
	return nil
}

func (b *ConnBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return b.conn.Export(v, path, iface)
}

func (b *ConnBus) AddMatch(options ...dbus.MatchOption) error {
	return b.conn.AddMatchSignal(options...)
}

func (b *ConnBus) RemoveMatch(options ...dbus.MatchOption) error {
	return b.conn.RemoveMatchSignal(options...)
}

func (b *ConnBus) Signal(ch chan<- *dbus.Signal) { b.conn.Signal(ch) }

func (b *ConnBus) RemoveSignal(ch chan<- *dbus.Signal) { b.conn.RemoveSignal(ch) }

// signalMatch builds the match options for one signal member.
func signalMatch(path dbus.ObjectPath, iface, member string) []dbus.MatchOption {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}
	if path != "" {
		opts = append([]dbus.MatchOption{dbus.WithMatchObjectPath(path)}, opts...)
	}
	return opts
}
