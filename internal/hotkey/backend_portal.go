package hotkey

import (
	"context"
	"fmt"
	"sync"
)

// PortalBackend binds shortcuts through the XDG desktop portal
// GlobalShortcuts interface. Register only declares shortcuts; the
// negotiation starts in Listen and its outcome arrives asynchronously
// through the result callback.
type PortalBackend struct {
	bus      Bus
	router   *signalRouter
	onResult func(RegistrationResult)

	mu          sync.Mutex
	specs       []ShortcutSpec
	negotiation *Negotiation
}

// NewPortalBackend creates a portal backend. onResult receives the final
// negotiation outcome and may be nil.
func NewPortalBackend(bus Bus, router *signalRouter, onResult func(RegistrationResult)) *PortalBackend {
	return &PortalBackend{bus: bus, router: router, onResult: onResult}
}

// Kind returns BackendPortal.
func (b *PortalBackend) Kind() BackendKind { return BackendPortal }

// Register declares action with keyCombo as its preferred trigger. The
// result is not final: Succeeded stays false until the portal answers.
func (b *PortalBackend) Register(_ context.Context, action Action, keyCombo string) RegistrationResult {
	spec := ShortcutSpec{Action: action, Description: action.Label()}
	if keyCombo != "" {
		combo, err := ParseKeyCombo(keyCombo)
		if err != nil {
			return failed(BackendPortal, err, "invalid key combination for %s", action)
		}
		spec.PreferredTrigger = combo.PortalTrigger()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.negotiation != nil {
		return failed(BackendPortal, fmt.Errorf("%w: negotiation already started", ErrNegotiationAborted),
			"cannot declare %s after Listen", action.ShortcutID())
	}
	for i, s := range b.specs {
		if s.Action == action {
			b.specs[i] = spec
			return RegistrationResult{Backend: BackendPortal, Detail: "declared " + action.ShortcutID()}
		}
	}
	b.specs = append(b.specs, spec)
	return RegistrationResult{Backend: BackendPortal, Detail: "declared " + action.ShortcutID()}
}

// Listen starts the negotiation. It returns without waiting for the portal.
func (b *PortalBackend) Listen(ctx context.Context, onActivated func(Action)) error {
	b.mu.Lock()
	if b.negotiation != nil {
		b.mu.Unlock()
		return nil
	}
	specs := append([]ShortcutSpec(nil), b.specs...)
	n := NewNegotiation(b.bus, b.router, onActivated, b.onResult)
	b.negotiation = n
	b.mu.Unlock()
	return n.Start(ctx, specs)
}

// Teardown closes the portal session and drops subscriptions.
func (b *PortalBackend) Teardown() error {
	b.mu.Lock()
	n := b.negotiation
	b.negotiation = nil
	b.specs = nil
	b.mu.Unlock()
	if n != nil {
		n.Reset()
	}
	return nil
}
