package hotkey

import (
	"context"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// signalRouter fans inbound bus signals out to handlers registered by
// object path and fully qualified member name. All handlers run on the
// single goroutine that drives Run, in registration order.
type signalRouter struct {
	mu     sync.Mutex
	nextID int
	routes []signalRoute
}

type signalRoute struct {
	id   int
	path dbus.ObjectPath // empty matches any path
	name string          // "interface.Member"
	fn   func(*dbus.Signal)
}

func newSignalRouter() *signalRouter {
	return &signalRouter{}
}

// Handle registers fn and returns an id for Remove.
func (r *signalRouter) Handle(path dbus.ObjectPath, name string, fn func(*dbus.Signal)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.routes = append(r.routes, signalRoute{id: r.nextID, path: path, name: name, fn: fn})
	return r.nextID
}

// Remove drops a handler. Unknown ids are ignored.
func (r *signalRouter) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, route := range r.routes {
		if route.id == id {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return
		}
	}
}

// Len reports the number of registered handlers.
func (r *signalRouter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}

// Dispatch delivers sig to every matching handler.
func (r *signalRouter) Dispatch(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	r.mu.Lock()
	var fns []func(*dbus.Signal)
	for _, route := range r.routes {
		if route.name != sig.Name {
			continue
		}
		if route.path != "" && route.path != sig.Path {
			continue
		}
		fns = append(fns, route.fn)
	}
	r.mu.Unlock()

	if len(fns) == 0 {
		slog.Debug("unrouted signal", "component", "hotkey.router", "name", sig.Name, "path", sig.Path)
		return
	}
	for _, fn := range fns {
		fn(sig)
	}
}

// Run drains ch until ctx is done or ch is closed.
func (r *signalRouter) Run(ctx context.Context, ch <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			r.Dispatch(sig)
		}
	}
}
