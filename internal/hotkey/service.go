package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const introspectableInterface = "org.freedesktop.DBus.Introspectable"

// CommandService owns the application's bus name and exposes
// StartRecording, StopRecording and ToggleRecording.
type CommandService struct {
	bus        Bus
	identity   Identity
	dispatcher *Dispatcher

	mu         sync.Mutex
	registered bool
}

// NewCommandService creates an unregistered service.
func NewCommandService(bus Bus, identity Identity, dispatcher *Dispatcher) *CommandService {
	return &CommandService{bus: bus, identity: identity, dispatcher: dispatcher}
}

// Identity returns the name, path and interface the service is published under.
func (s *CommandService) Identity() Identity { return s.identity }

// Registered reports whether the bus name is currently held.
func (s *CommandService) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// Register exports the command object and claims the bus name. Calling it
// again after success is a no-op. A failure wraps ErrBusUnavailable.
func (s *CommandService) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return nil
	}
	if s.bus == nil {
		return fmt.Errorf("%w: no session bus connection", ErrBusUnavailable)
	}
	if !s.identity.Valid() {
		return fmt.Errorf("%w: invalid service identity %+v", ErrBusUnavailable, s.identity)
	}

	obj := &commandObject{dispatcher: s.dispatcher}
	if err := s.bus.Export(obj, s.identity.ObjectPath, s.identity.Interface); err != nil {
		return fmt.Errorf("%w: export command object: %v", ErrBusUnavailable, err)
	}

	node := &introspect.Node{
		Name: string(s.identity.ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    s.identity.Interface,
				Methods: introspect.Methods(obj),
			},
		},
	}
	if err := s.bus.Export(introspect.NewIntrospectable(node), s.identity.ObjectPath, introspectableInterface); err != nil {
		s.unexport()
		return fmt.Errorf("%w: export introspectable: %v", ErrBusUnavailable, err)
	}

	if err := s.bus.RequestName(s.identity.BusName); err != nil {
		s.unexport()
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	s.registered = true
	slog.Info("command service registered", "component", "hotkey.service",
		"bus_name", s.identity.BusName, "path", string(s.identity.ObjectPath))
	return nil
}

// Release gives up the bus name and removes the exports.
func (s *CommandService) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registered {
		return nil
	}
	s.registered = false
	s.unexport()
	if err := s.bus.ReleaseName(s.identity.BusName); err != nil {
		return err
	}
	slog.Info("command service released", "component", "hotkey.service", "bus_name", s.identity.BusName)
	return nil
}

func (s *CommandService) unexport() {
	_ = s.bus.Export(nil, s.identity.ObjectPath, s.identity.Interface)
	_ = s.bus.Export(nil, s.identity.ObjectPath, introspectableInterface)
}

// commandObject is the value exported on the bus. Only methods returning
// *dbus.Error are published.
type commandObject struct {
	dispatcher *Dispatcher
}

func (o *commandObject) invoke(a Action) (bool, *dbus.Error) {
	slog.Info("remote command invoked", "component", "hotkey.service", "method", a.Method())
	o.dispatcher.Emit(SourceCommand, a)
	return true, nil
}

func (o *commandObject) StartRecording() (bool, *dbus.Error) { return o.invoke(ActionStart) }

func (o *commandObject) StopRecording() (bool, *dbus.Error) { return o.invoke(ActionStop) }

func (o *commandObject) ToggleRecording() (bool, *dbus.Error) { return o.invoke(ActionToggle) }

// Invoke calls a running instance's Command Service. It is the programmatic
// equivalent of Identity.InvocationCommand.
func Invoke(ctx context.Context, bus Bus, id Identity, a Action) (bool, error) {
	var ok bool
	if err := bus.Call(ctx, id.BusName, id.ObjectPath, id.Method(a), nil, &ok); err != nil {
		return false, fmt.Errorf("invoke %s on %s: %w", a.Method(), id.BusName, err)
	}
	return ok, nil
}
