package hotkey

import "errors"

var (
	// ErrBackendNotAvailable is returned when a backend cannot be used on the current system.
	ErrBackendNotAvailable = errors.New("backend not available on this system")

	// ErrBusUnavailable means the Command Service could not claim its bus name.
	// Remote triggering is disabled for the rest of the process.
	ErrBusUnavailable = errors.New("message bus unavailable")

	// ErrBackendUnsupported means the target service is absent or declined.
	ErrBackendUnsupported = errors.New("shortcut backend unsupported")

	// ErrVerificationMismatch means a binding was accepted but reads back differently.
	ErrVerificationMismatch = errors.New("shortcut verification mismatch")

	// ErrNegotiationAborted means the portal negotiation hit a protocol error.
	ErrNegotiationAborted = errors.New("portal negotiation aborted")
)
