package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// CLITriggerCommand is the command-line equivalent of the bus invocation.
const CLITriggerCommand = "telly-spelly trigger toggle"

// Options configures a Manager.
type Options struct {
	Environment Environment
	// Identity defaults to Resolve(Environment).
	Identity Identity

	StartKey string
	StopKey  string

	EnablePortal       bool
	EnableKGlobalAccel bool
	// X11Fallback grabs keys on the X server when no desktop service bound
	// them. Never used on kde.
	X11Fallback bool

	KGlobalAccel KGlobalAccelOptions
	Detector     Detector

	// Notify shows a desktop notification; nil disables notifications.
	Notify func(title, message string)
	// OnBackendsChanged receives the active backends after each outcome.
	OnBackendsChanged func(active []BackendKind)
}

// binding is one action registered with a backend.
type binding struct {
	action Action
	key    string
}

// Manager wires the Command Service and the shortcut backends to one
// dispatcher and owns the signal loop.
type Manager struct {
	bus        Bus
	dispatcher *Dispatcher
	opts       Options
	service    *CommandService
	router     *signalRouter
	log        *slog.Logger

	// newBackend builds a backend by kind; replaced in tests.
	newBackend func(BackendKind) Backend

	mu           sync.Mutex
	registered   bool
	cancel       context.CancelFunc
	signals      chan *dbus.Signal
	backends     []Backend
	results      map[BackendKind]RegistrationResult
	pending      map[BackendKind]bool
	fallbackDone bool
}

// NewManager creates a manager. Nothing touches the bus until Setup.
func NewManager(bus Bus, dispatcher *Dispatcher, opts Options) *Manager {
	if !opts.Identity.Valid() {
		opts.Identity = Resolve(opts.Environment)
	}
	m := &Manager{
		bus:        bus,
		dispatcher: dispatcher,
		opts:       opts,
		service:    NewCommandService(bus, opts.Identity, dispatcher),
		router:     newSignalRouter(),
		log:        slog.With("component", "hotkey.manager"),
		results:    make(map[BackendKind]RegistrationResult),
		pending:    make(map[BackendKind]bool),
	}
	m.newBackend = m.defaultBackend
	return m
}

func (m *Manager) defaultBackend(kind BackendKind) Backend {
	switch kind {
	case BackendLegacyAccelerator:
		return NewKGlobalAccelBackend(m.bus, m.router, m.opts.KGlobalAccel)
	case BackendPortal:
		return NewPortalBackend(m.bus, m.router, m.portalDone)
	case BackendX11Grab:
		return NewX11Backend(m.opts.Detector)
	default:
		return NoneBackend{}
	}
}

// SelectBackends returns the backends to attempt, in order. kde tries the
// global accelerator service first; the portal is attempted on every
// desktop as an additional layer.
func SelectBackends(env Environment, enableKGlobalAccel, enablePortal bool) []BackendKind {
	var kinds []BackendKind
	if env == EnvKDE && enableKGlobalAccel {
		kinds = append(kinds, BackendLegacyAccelerator)
	}
	if enablePortal {
		kinds = append(kinds, BackendPortal)
	}
	if len(kinds) == 0 {
		kinds = append(kinds, BackendNone)
	}
	return kinds
}

func (m *Manager) bindings(kind BackendKind) []binding {
	switch kind {
	case BackendNone:
		return []binding{{ActionToggle, ""}}
	case BackendPortal:
		return []binding{
			{ActionToggle, m.opts.StartKey},
			{ActionStop, m.opts.StopKey},
			{ActionStart, ""},
		}
	default:
		return []binding{
			{ActionToggle, m.opts.StartKey},
			{ActionStop, m.opts.StopKey},
		}
	}
}

// Identity returns the Command Service identity.
func (m *Manager) Identity() Identity { return m.service.Identity() }

// ManualCommand is the invocation to bind by hand when no backend works.
func (m *Manager) ManualCommand() string {
	return m.opts.Identity.InvocationCommand(ActionToggle)
}

// ManualInstructions describes how to bind the toggle action by hand.
func (m *Manager) ManualInstructions() string {
	return fmt.Sprintf("Bind %s in your desktop's keyboard shortcut settings to:\n  %s\nor:\n  %s",
		m.opts.StartKey, m.ManualCommand(), CLITriggerCommand)
}

// Results returns the latest result per attempted backend.
func (m *Manager) Results() map[BackendKind]RegistrationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[BackendKind]RegistrationResult, len(m.results))
	for k, r := range m.results {
		out[k] = r
	}
	return out
}

// ActiveBackends lists backends that bound at least one shortcut.
func (m *Manager) ActiveBackends() []BackendKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []BackendKind
	for _, b := range m.backends {
		if r, ok := m.results[b.Kind()]; ok && r.Succeeded {
			kinds = append(kinds, b.Kind())
		}
	}
	return kinds
}

// Setup registers the Command Service, starts the signal loop and attempts
// every selected backend. A second call is a no-op until Teardown. The
// only error returned wraps ErrBusUnavailable; backend failures are logged
// and end in the manual-binding fallback.
func (m *Manager) Setup(ctx context.Context) error {
	m.mu.Lock()
	if m.registered {
		m.mu.Unlock()
		return nil
	}
	if err := m.service.Register(); err != nil {
		m.mu.Unlock()
		m.log.Warn("command service unavailable, remote triggering disabled", "err", err)
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.signals = make(chan *dbus.Signal, 64)
	m.bus.Signal(m.signals)
	go m.router.Run(loopCtx, m.signals)
	m.registered = true
	m.fallbackDone = false
	m.results = make(map[BackendKind]RegistrationResult)
	m.pending = make(map[BackendKind]bool)
	m.mu.Unlock()

	kinds := SelectBackends(m.opts.Environment, m.opts.EnableKGlobalAccel, m.opts.EnablePortal)
	m.log.Info("shortcut setup", "desktop", string(m.opts.Environment), "bus_name", m.opts.Identity.BusName,
		"backends", fmt.Sprint(kinds))

	for _, kind := range kinds {
		m.attempt(ctx, kind)
	}
	m.evaluate(ctx)
	return nil
}

// attempt registers every binding with one backend and starts listening.
// It reports whether the backend is active or still negotiating.
func (m *Manager) attempt(ctx context.Context, kind BackendKind) bool {
	b := m.newBackend(kind)
	m.mu.Lock()
	m.backends = append(m.backends, b)
	if kind == BackendPortal {
		m.pending[kind] = true
	}
	m.mu.Unlock()

	var last RegistrationResult
	anyOK := false
	for _, bd := range m.bindings(kind) {
		res := b.Register(ctx, bd.action, bd.key)
		if res.Err != nil && !res.Succeeded {
			m.log.Warn("shortcut registration failed", res.logAttrs()...)
		} else {
			m.log.Debug("shortcut registration", res.logAttrs()...)
		}
		if res.Succeeded {
			anyOK = true
			last = res
		} else if !anyOK {
			last = res
		}
	}

	if kind == BackendPortal {
		// The outcome arrives through portalDone.
		if err := b.Listen(ctx, m.emitter(kind)); err != nil {
			m.portalDone(failed(BackendPortal, fmt.Errorf("%w: %v", ErrNegotiationAborted, err), "negotiation not started"))
			return false
		}
		return true
	}

	if anyOK {
		if err := b.Listen(ctx, m.emitter(kind)); err != nil {
			last = failed(kind, err, "shortcut bound but activation cannot be received")
			anyOK = false
		}
	}
	last.Succeeded = anyOK
	last.Backend = kind
	m.record(last)
	return anyOK
}

func (m *Manager) emitter(kind BackendKind) func(Action) {
	src := kind.Source()
	return func(a Action) { m.dispatcher.Emit(src, a) }
}

func (m *Manager) record(res RegistrationResult) {
	m.mu.Lock()
	m.results[res.Backend] = res
	delete(m.pending, res.Backend)
	m.mu.Unlock()
	if m.opts.OnBackendsChanged != nil {
		m.opts.OnBackendsChanged(m.ActiveBackends())
	}
	if res.Succeeded {
		m.log.Info("shortcut backend active", res.logAttrs()...)
		return
	}
	if errors.Is(res.Err, ErrVerificationMismatch) || res.Backend == BackendNone {
		m.log.Info("shortcut backend inactive", res.logAttrs()...)
		return
	}
	m.log.Warn("shortcut backend inactive", res.logAttrs()...)
}

// portalDone receives the asynchronous negotiation outcome.
func (m *Manager) portalDone(res RegistrationResult) {
	m.mu.Lock()
	active := m.registered
	m.mu.Unlock()
	if !active {
		return
	}
	m.record(res)
	m.evaluate(context.Background())
}

// evaluate runs the fallback chain once every backend has answered and
// none bound a shortcut: an X11 key grab when enabled, then manual-binding
// instructions.
func (m *Manager) evaluate(ctx context.Context) {
	m.mu.Lock()
	if m.fallbackDone || len(m.pending) > 0 || !m.registered {
		m.mu.Unlock()
		return
	}
	for _, r := range m.results {
		if r.Succeeded {
			m.mu.Unlock()
			return
		}
	}
	m.fallbackDone = true
	m.mu.Unlock()

	if m.opts.X11Fallback && m.opts.Environment != EnvKDE {
		if m.attempt(ctx, BackendX11Grab) {
			return
		}
	}

	m.log.Info("no shortcut backend available; bind the command manually",
		"command", m.ManualCommand(), "cli", CLITriggerCommand, "key", m.opts.StartKey)
	if m.opts.Notify != nil {
		m.opts.Notify("Telly Spelly shortcuts", m.ManualInstructions())
	}
}

// Teardown stops the signal loop, tears down every backend and releases the
// bus name. Setup may be called again afterwards.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	if !m.registered {
		m.mu.Unlock()
		return nil
	}
	m.registered = false
	backends := m.backends
	m.backends = nil
	cancel, signals := m.cancel, m.signals
	m.cancel, m.signals = nil, nil
	m.mu.Unlock()

	var errs []error
	for _, b := range backends {
		if err := b.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("%s teardown: %w", b.Kind(), err))
		}
	}
	if signals != nil {
		m.bus.RemoveSignal(signals)
	}
	if cancel != nil {
		cancel()
	}
	if err := m.service.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
