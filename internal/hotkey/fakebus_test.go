package hotkey

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

type fakeCall struct {
	dest   string
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

// replyFunc returns the reply body for a call, or an error.
type replyFunc func(args []interface{}) ([]interface{}, error)

// fakeBus records traffic and answers calls from scripted replies. Signals
// are delivered by calling the router directly.
type fakeBus struct {
	mu         sync.Mutex
	unique     string
	calls      []fakeCall
	replies    map[string]replyFunc
	requestErr error
	requested  map[string]int
	released   map[string]int
	exports    map[string]interface{}
	matches    map[string]int
	signals    []chan<- *dbus.Signal
}

func newFakeBus(unique string) *fakeBus {
	return &fakeBus{
		unique:    unique,
		replies:   make(map[string]replyFunc),
		requested: make(map[string]int),
		released:  make(map[string]int),
		exports:   make(map[string]interface{}),
		matches:   make(map[string]int),
	}
}

func (b *fakeBus) reply(method string, fn replyFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[method] = fn
}

func (b *fakeBus) UniqueName() string { return b.unique }

func (b *fakeBus) Call(_ context.Context, dest string, path dbus.ObjectPath, method string, args []interface{}, ret ...interface{}) error {
	b.mu.Lock()
	b.calls = append(b.calls, fakeCall{dest: dest, path: path, method: method, args: args})
	fn := b.replies[method]
	b.mu.Unlock()
	if fn == nil {
		if len(ret) > 0 {
			return fmt.Errorf("org.freedesktop.DBus.Error.UnknownMethod: %s", method)
		}
		return nil
	}
	body, err := fn(args)
	if err != nil {
		return err
	}
	if len(ret) == 0 {
		return nil
	}
	return dbus.Store(body, ret...)
}

func (b *fakeBus) RequestName(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requestErr != nil {
		return b.requestErr
	}
	b.requested[name]++
	return nil
}

func (b *fakeBus) ReleaseName(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released[name]++
	return nil
}

func (b *fakeBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(path) + " " + iface
	if v == nil {
		delete(b.exports, key)
		return nil
	}
	b.exports[key] = v
	return nil
}

func matchKey(options []dbus.MatchOption) string {
	return fmt.Sprint(options)
}

func (b *fakeBus) AddMatch(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches[matchKey(options)]++
	return nil
}

func (b *fakeBus) RemoveMatch(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := matchKey(options)
	if b.matches[key] > 0 {
		b.matches[key]--
	}
	if b.matches[key] == 0 {
		delete(b.matches, key)
	}
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, ch)
}

func (b *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.signals {
		if c == ch {
			b.signals = append(b.signals[:i], b.signals[i+1:]...)
			return
		}
	}
}

func (b *fakeBus) callsTo(method string) []fakeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []fakeCall
	for _, c := range b.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBus) export(path dbus.ObjectPath, iface string) interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exports[string(path)+" "+iface]
}

func (b *fakeBus) matchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.matches {
		n += c
	}
	return n
}

func (b *fakeBus) signalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signals)
}

func (b *fakeBus) requestCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requested[name]
}

// drain collects every event queued on d without running handlers.
func drain(d *Dispatcher) []Event {
	var out []Event
	for {
		select {
		case ev := <-d.queue:
			out = append(out, ev)
		default:
			return out
		}
	}
}
