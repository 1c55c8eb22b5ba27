package hotkey

import (
	"context"
	"fmt"
	"log/slog"
)

// BackendKind identifies a shortcut registration strategy.
type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendLegacyAccelerator
	BackendPortal
	BackendX11Grab
)

func (k BackendKind) String() string {
	switch k {
	case BackendNone:
		return "none"
	case BackendLegacyAccelerator:
		return "kglobalaccel"
	case BackendPortal:
		return "portal"
	case BackendX11Grab:
		return "x11"
	default:
		return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

// Source reports which dispatcher source this backend publishes under.
func (k BackendKind) Source() Source {
	switch k {
	case BackendLegacyAccelerator:
		return SourceKGlobalAccel
	case BackendPortal:
		return SourcePortal
	case BackendX11Grab:
		return SourceX11
	default:
		return SourceCommand
	}
}

// RegistrationResult is produced once per backend attempt. It is consumed by
// logging and fallback logic inside this package only.
type RegistrationResult struct {
	Succeeded bool
	Backend   BackendKind
	Detail    string
	// Err classifies a failure, or carries a non-fatal warning such as
	// ErrVerificationMismatch when Succeeded is true.
	Err error
}

func (r RegistrationResult) logAttrs() []any {
	attrs := []any{"backend", r.Backend.String(), "succeeded", r.Succeeded, "detail", r.Detail}
	if r.Err != nil {
		attrs = append(attrs, "err", r.Err)
	}
	return attrs
}

func failed(kind BackendKind, err error, format string, args ...any) RegistrationResult {
	return RegistrationResult{Backend: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Backend is an interface that abstracts the different ways a global hotkey
// can be bound on a desktop. Every variant is selected at construction from
// the detected environment.
type Backend interface {
	// Kind identifies the variant.
	Kind() BackendKind

	// Register binds keyCombo to action. An empty keyCombo declares the
	// action without a preferred binding.
	Register(ctx context.Context, action Action, keyCombo string) RegistrationResult

	// Listen subscribes to activation notifications. onActivated runs on the
	// signal dispatch loop and must not block.
	Listen(ctx context.Context, onActivated func(Action)) error

	// Teardown drops subscriptions and releases backend resources.
	Teardown() error
}

// NoneBackend binds nothing. Shortcuts must be configured manually against
// the Command Service invocation command.
type NoneBackend struct{}

// Kind returns BackendNone.
func (NoneBackend) Kind() BackendKind { return BackendNone }

// Register always reports that manual configuration is required.
func (NoneBackend) Register(_ context.Context, action Action, keyCombo string) RegistrationResult {
	slog.Debug("no shortcut backend, manual configuration required", "component", "hotkey.none", "action", action.String(), "key", keyCombo)
	return failed(BackendNone, ErrBackendNotAvailable, "manual configuration only")
}

// Listen is a no-op.
func (NoneBackend) Listen(context.Context, func(Action)) error { return nil }

// Teardown is a no-op.
func (NoneBackend) Teardown() error { return nil }
