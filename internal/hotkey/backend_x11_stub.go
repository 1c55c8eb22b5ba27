//go:build !linux || !x11grab

package hotkey

import "context"

// X11GrabAvailable reports whether this binary can grab keys on X11.
const X11GrabAvailable = false

// X11Backend is unavailable unless built on Linux with the x11grab tag.
type X11Backend struct{}

// NewX11Backend returns a backend whose registrations always fail.
func NewX11Backend(Detector) *X11Backend { return &X11Backend{} }

// Kind returns BackendX11Grab.
func (*X11Backend) Kind() BackendKind { return BackendX11Grab }

// Register always returns ErrBackendNotAvailable.
func (*X11Backend) Register(_ context.Context, action Action, _ string) RegistrationResult {
	return failed(BackendX11Grab, ErrBackendNotAvailable, "key grabs need a linux build with the x11grab tag (%s)", action)
}

// Listen is a no-op.
func (*X11Backend) Listen(context.Context, func(Action)) error { return nil }

// Teardown is a no-op.
func (*X11Backend) Teardown() error { return nil }
