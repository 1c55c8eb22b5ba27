//go:build linux && x11grab

package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.design/x/hotkey"
)

// X11GrabAvailable reports whether this binary can grab keys on X11.
const X11GrabAvailable = true

// X11Backend grabs keys directly on the X server through
// golang.design/x/hotkey. It does not work on Wayland and is only tried
// when no desktop service accepted the shortcuts. The library opens the X
// display in its init, so this file is only built with the x11grab tag.
type X11Backend struct {
	detector Detector
	log      *slog.Logger

	mu        sync.Mutex
	grabs     map[Action][]*hotkey.Hotkey
	listening bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewX11Backend creates the X11 key-grab backend.
func NewX11Backend(detector Detector) *X11Backend {
	return &X11Backend{
		detector: detector,
		log:      slog.With("component", "hotkey.x11"),
		grabs:    make(map[Action][]*hotkey.Hotkey),
	}
}

// Kind returns BackendX11Grab.
func (b *X11Backend) Kind() BackendKind { return BackendX11Grab }

// Register grabs keyCombo, once per lock-modifier state.
func (b *X11Backend) Register(_ context.Context, action Action, keyCombo string) RegistrationResult {
	if ds := b.detector.DetectDisplayServer(); ds != DisplayServerX11 {
		return failed(BackendX11Grab, ErrBackendNotAvailable, "key grabs need an X11 session, have %s", ds)
	}
	combo, err := ParseKeyCombo(keyCombo)
	if err != nil {
		return failed(BackendX11Grab, err, "invalid key combination for %s", action)
	}
	key, err := x11Key(combo.Key)
	if err != nil {
		return failed(BackendX11Grab, err, "invalid key combination for %s", action)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return failed(BackendX11Grab, fmt.Errorf("already listening"), "cannot grab %s after Listen", combo)
	}
	if _, exists := b.grabs[action]; exists {
		return RegistrationResult{Succeeded: true, Backend: BackendX11Grab, Detail: combo.String() + " already grabbed"}
	}

	var grabs []*hotkey.Hotkey
	for i, masks := range withLockVariants(x11Modifiers(combo)) {
		hk := hotkey.New(libModifiers(masks), hotkey.Key(key))
		if err := hk.Register(); err != nil {
			if i == 0 {
				for _, g := range grabs {
					_ = g.Unregister()
				}
				return failed(BackendX11Grab, fmt.Errorf("%w: %v", ErrBackendUnsupported, err), "could not grab %s", combo)
			}
			b.log.Debug("lock-modifier variant not grabbed", "key", combo.String(), "variant", i, "err", err)
			continue
		}
		grabs = append(grabs, hk)
	}
	b.grabs[action] = grabs
	b.log.Info("key grabbed", "action", action.ShortcutID(), "key", combo.String(), "variants", len(grabs))
	return RegistrationResult{Succeeded: true, Backend: BackendX11Grab, Detail: fmt.Sprintf("%s grabbed for %s", combo, action.ShortcutID())}
}

// Listen starts one goroutine per grab. onActivated runs on those
// goroutines rather than the bus loop.
func (b *X11Backend) Listen(_ context.Context, onActivated func(Action)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return nil
	}
	b.listening = true
	b.stop = make(chan struct{})
	for action, grabs := range b.grabs {
		for _, hk := range grabs {
			b.wg.Add(1)
			go b.forward(hk, action, onActivated)
		}
	}
	return nil
}

func (b *X11Backend) forward(hk *hotkey.Hotkey, action Action, onActivated func(Action)) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("recovered from panic in key grab listener", "action", action.ShortcutID(), "panic", r)
		}
	}()
	for {
		select {
		case <-b.stop:
			return
		case _, ok := <-hk.Keydown():
			if !ok {
				return
			}
			if onActivated != nil {
				onActivated(action)
			}
		}
	}
}

// Teardown stops the listeners and releases every grab.
func (b *X11Backend) Teardown() error {
	b.mu.Lock()
	if b.listening {
		close(b.stop)
		b.listening = false
	}
	grabs := b.grabs
	b.grabs = make(map[Action][]*hotkey.Hotkey)
	b.mu.Unlock()
	b.wg.Wait()

	var firstErr error
	for action, hks := range grabs {
		for _, hk := range hks {
			if err := hk.Unregister(); err != nil {
				b.log.Warn("ungrab failed", "action", action.ShortcutID(), "err", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func libModifiers(masks []x11Mask) []hotkey.Modifier {
	mods := make([]hotkey.Modifier, len(masks))
	for i, m := range masks {
		mods[i] = hotkey.Modifier(m)
	}
	return mods
}
