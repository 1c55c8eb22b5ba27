package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	kglobalaccelService            = "org.kde.kglobalaccel"
	kglobalaccelPath               = dbus.ObjectPath("/kglobalaccel")
	kglobalaccelInterface          = "org.kde.KGlobalAccel"
	kglobalaccelComponentInterface = "org.kde.kglobalaccel.Component"
	kglobalaccelPressedMember      = "globalShortcutPressed"

	// setShortcut flag: keep an existing user binding, only fill in when unset.
	kglobalaccelSetPresent uint32 = 0x02
)

// KGlobalAccelOptions configures the action identifiers registered with the
// global accelerator service. Which component name the desktop actually
// files the actions under varies between setups, so both are configurable
// and the effective binding is always read back.
type KGlobalAccelOptions struct {
	Component          string
	AlternateComponent string
	// FriendlyName labels the component in System Settings.
	FriendlyName string
}

// DefaultKGlobalAccelOptions returns the component names used when the
// configuration leaves them empty.
func DefaultKGlobalAccelOptions() KGlobalAccelOptions {
	return KGlobalAccelOptions{
		Component:          "telly_spelly",
		AlternateComponent: "telly_spelly_desktop",
		FriendlyName:       "Telly Spelly",
	}
}

// KGlobalAccelBackend binds shortcuts through the KDE global accelerator
// service and listens for its per-component activation signal.
type KGlobalAccelBackend struct {
	bus    Bus
	router *signalRouter
	opts   KGlobalAccelOptions
	log    *slog.Logger

	mu            sync.Mutex
	actions       map[string]Action // shortcut id -> action
	componentPath dbus.ObjectPath
	routeID       int
}

// NewKGlobalAccelBackend creates the legacy accelerator backend.
func NewKGlobalAccelBackend(bus Bus, router *signalRouter, opts KGlobalAccelOptions) *KGlobalAccelBackend {
	def := DefaultKGlobalAccelOptions()
	if opts.Component == "" {
		opts.Component = def.Component
	}
	if opts.AlternateComponent == "" {
		opts.AlternateComponent = def.AlternateComponent
	}
	if opts.FriendlyName == "" {
		opts.FriendlyName = def.FriendlyName
	}
	return &KGlobalAccelBackend{
		bus:     bus,
		router:  router,
		opts:    opts,
		log:     slog.With("component", "hotkey.kglobalaccel"),
		actions: make(map[string]Action),
	}
}

// Kind returns BackendLegacyAccelerator.
func (b *KGlobalAccelBackend) Kind() BackendKind { return BackendLegacyAccelerator }

// actionID builds the [component, context, action, friendly label] tuple.
func (b *KGlobalAccelBackend) actionID(a Action) []string {
	return []string{b.opts.Component, "", a.ShortcutID(), a.Label()}
}

func (b *KGlobalAccelBackend) call(ctx context.Context, member string, args []interface{}, ret ...interface{}) error {
	return b.bus.Call(ctx, kglobalaccelService, kglobalaccelPath, kglobalaccelInterface+"."+member, args, ret...)
}

// Register registers the action, sets its key unless the user already bound
// one, and verifies the effective binding.
func (b *KGlobalAccelBackend) Register(ctx context.Context, action Action, keyCombo string) RegistrationResult {
	combo, err := ParseKeyCombo(keyCombo)
	if err != nil {
		return failed(BackendLegacyAccelerator, err, "invalid key combination for %s", action)
	}
	code := combo.QtKeyCode()
	id := b.actionID(action)

	if err := b.call(ctx, "doRegister", []interface{}{id}); err != nil {
		return failed(BackendLegacyAccelerator, fmt.Errorf("%w: doRegister: %v", ErrBackendUnsupported, err),
			"global accelerator service unavailable")
	}

	keys := []int32{code}
	var applied []int32
	err = b.call(ctx, "setShortcut", []interface{}{id, keys, kglobalaccelSetPresent}, &applied)
	if err != nil || len(applied) == 0 {
		if err != nil {
			b.log.Info("setShortcut failed, forcing binding", "action", action.ShortcutID(), "err", err)
		} else {
			b.log.Info("setShortcut returned no keys, forcing binding", "action", action.ShortcutID())
		}
		if ferr := b.call(ctx, "setForeignShortcut", []interface{}{id, keys}); ferr != nil {
			return failed(BackendLegacyAccelerator, fmt.Errorf("%w: setForeignShortcut: %v", ErrBackendUnsupported, ferr),
				"could not bind %s to %s", combo, action.ShortcutID())
		}
	}

	b.mu.Lock()
	b.actions[action.ShortcutID()] = action
	b.mu.Unlock()

	result := RegistrationResult{
		Succeeded: true,
		Backend:   BackendLegacyAccelerator,
		Detail:    fmt.Sprintf("%s bound to %s", action.ShortcutID(), combo),
	}

	var current []int32
	if err := b.call(ctx, "shortcut", []interface{}{id}, &current); err != nil || len(current) == 0 || current[0] != code {
		// The user may have customized the binding; the registration stands.
		result.Err = fmt.Errorf("%w: requested %#x, service reports %v", ErrVerificationMismatch, code, current)
		result.Detail = fmt.Sprintf("%s registered, effective binding differs from %s", action.ShortcutID(), combo)
		b.log.Warn("shortcut verification mismatch", "action", action.ShortcutID(),
			"requested", fmt.Sprintf("%#x", code), "current", current, "err", err)
		return result
	}

	b.log.Info("shortcut registered", "action", action.ShortcutID(), "key", combo.String())
	return result
}

// Listen subscribes to the component's activation signal. When the primary
// component cannot be resolved the alternate one is tried once.
func (b *KGlobalAccelBackend) Listen(ctx context.Context, onActivated func(Action)) error {
	b.mu.Lock()
	if b.routeID != 0 {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	path, err := b.subscribe(ctx, b.opts.Component)
	if err != nil {
		b.log.Warn("component listener failed, trying alternate", "component_name", b.opts.Component, "err", err)
		path, err = b.subscribe(ctx, b.opts.AlternateComponent)
		if err != nil {
			b.log.Warn("component listener failed; shortcut is not remotely triggerable",
				"component_name", b.opts.AlternateComponent, "err", err)
			return fmt.Errorf("%w: no component to listen on: %v", ErrBackendUnsupported, err)
		}
	}

	id := b.router.Handle(path, kglobalaccelComponentInterface+"."+kglobalaccelPressedMember, func(sig *dbus.Signal) {
		b.handlePressed(sig, onActivated)
	})

	b.mu.Lock()
	b.componentPath = path
	b.routeID = id
	b.mu.Unlock()
	b.log.Info("listening for shortcut activation", "path", string(path))
	return nil
}

func (b *KGlobalAccelBackend) subscribe(ctx context.Context, component string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	if err := b.call(ctx, "getComponent", []interface{}{component}, &path); err != nil {
		return "", err
	}
	if !path.IsValid() {
		return "", fmt.Errorf("invalid component path %q", path)
	}
	if err := b.bus.AddMatch(signalMatch(path, kglobalaccelComponentInterface, kglobalaccelPressedMember)...); err != nil {
		return "", err
	}
	return path, nil
}

// handlePressed maps globalShortcutPressed(componentUnique, shortcutUnique,
// timestamp) back to an action.
func (b *KGlobalAccelBackend) handlePressed(sig *dbus.Signal, onActivated func(Action)) {
	if len(sig.Body) < 2 {
		return
	}
	shortcutUnique, ok := sig.Body[1].(string)
	if !ok {
		return
	}
	b.mu.Lock()
	action, known := b.actions[shortcutUnique]
	b.mu.Unlock()
	if !known {
		b.log.Debug("ignoring unknown shortcut", "shortcut", shortcutUnique)
		return
	}
	b.log.Info("global shortcut pressed", "shortcut", shortcutUnique)
	if onActivated != nil {
		onActivated(action)
	}
}

// Teardown stops listening. Bindings stay registered with the desktop.
func (b *KGlobalAccelBackend) Teardown() error {
	b.mu.Lock()
	path, id := b.componentPath, b.routeID
	b.componentPath, b.routeID = "", 0
	b.mu.Unlock()
	if id == 0 {
		return nil
	}
	b.router.Remove(id)
	return b.bus.RemoveMatch(signalMatch(path, kglobalaccelComponentInterface, kglobalaccelPressedMember)...)
}
